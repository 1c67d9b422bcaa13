package remittance

// Status is a transaction lifecycle state.
type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusLimitChecked       Status = "LIMIT_CHECKED"
	StatusQuoted             Status = "QUOTED"
	StatusExecuting          Status = "EXECUTING"
	StatusSettled            Status = "SETTLED"
	StatusLimitRejected      Status = "LIMIT_REJECTED"
	StatusQuoteExpiredRetry  Status = "QUOTE_EXPIRED_RETRY"
	StatusExecutionFailed    Status = "EXECUTION_FAILED"
	StatusUnknownReconciling Status = "UNKNOWN_RECONCILING"
	StatusCancelled          Status = "CANCELLED"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []Status{
	StatusCreated,
	StatusLimitChecked,
	StatusQuoted,
	StatusQuoteExpiredRetry,
	StatusExecuting,
	StatusUnknownReconciling,
	StatusSettled,
	StatusExecutionFailed,
	StatusLimitRejected,
	StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusCreated:            {StatusLimitChecked, StatusLimitRejected, StatusCancelled},
	StatusLimitChecked:       {StatusQuoted, StatusExecutionFailed, StatusCancelled},
	StatusQuoted:             {StatusExecuting, StatusQuoteExpiredRetry, StatusCancelled},
	StatusQuoteExpiredRetry:  {StatusQuoted, StatusExecutionFailed, StatusCancelled},
	StatusExecuting:          {StatusSettled, StatusExecutionFailed, StatusUnknownReconciling},
	StatusUnknownReconciling: {StatusSettled, StatusExecutionFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automated transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSettled, StatusExecutionFailed, StatusLimitRejected, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether no provider execution can have been attempted yet.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

// PreExecution reports whether the transaction has not yet reached EXECUTING.
func (s Status) PreExecution() bool {
	switch s {
	case StatusCreated, StatusLimitChecked, StatusQuoted, StatusQuoteExpiredRetry:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
