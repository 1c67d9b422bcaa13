package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock Processor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Advance(ctx context.Context, id string) (*remittance.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remittance.Transaction), args.Error(1)
}

func (m *MockProcessor) Reconcile(ctx context.Context, id string) (*remittance.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remittance.Transaction), args.Error(1)
}

// Mock Sweeper
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) RunOnce(ctx context.Context) (remittance.SweepResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(remittance.SweepResult), args.Error(1)
}

func transaction(status remittance.Status) *remittance.Transaction {
	return &remittance.Transaction{ID: "tx-1", Status: status}
}

func TestActivities_AdvanceTransaction(t *testing.T) {
	tests := []struct {
		name         string
		setupMock    func(*MockProcessor)
		expectedErr  bool
		nonRetryable bool
		errType      string
		status       remittance.Status
	}{
		{
			name: "returns the status reached",
			setupMock: func(m *MockProcessor) {
				m.On("Advance", mock.Anything, "tx-1").Return(transaction(remittance.StatusSettled), nil)
			},
			status: remittance.StatusSettled,
		},
		{
			name: "missing transaction is not retried",
			setupMock: func(m *MockProcessor) {
				m.On("Advance", mock.Anything, "tx-1").
					Return(nil, fmt.Errorf("%w: tx-1", remittance.ErrTransactionNotFound))
			},
			expectedErr:  true,
			nonRetryable: true,
			errType:      "TransactionNotFound",
		},
		{
			name: "busy lease is retried",
			setupMock: func(m *MockProcessor) {
				m.On("Advance", mock.Anything, "tx-1").
					Return(nil, fmt.Errorf("%w: tx-1", remittance.ErrTransactionBusy))
			},
			expectedErr: true,
			errType:     "TransactionBusy",
		},
		{
			name: "infrastructure failure is retried",
			setupMock: func(m *MockProcessor) {
				m.On("Advance", mock.Anything, "tx-1").Return(nil, errors.New("connection refused"))
			},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockProcessor)
			tt.setupMock(processor)

			activities := NewActivities(processor, nil, nil, slog.Default())
			result, err := activities.AdvanceTransaction(context.Background(), StepInput{TransactionID: "tx-1"})

			if !tt.expectedErr {
				require.NoError(t, err)
				assert.Equal(t, "tx-1", result.TransactionID)
				assert.Equal(t, tt.status, result.Status)
				processor.AssertExpectations(t)
				return
			}

			require.Error(t, err)
			assert.Nil(t, result)
			var appErr *temporalsdk.ApplicationError
			if tt.errType == "" {
				assert.False(t, errors.As(err, &appErr))
				return
			}
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.errType, appErr.Type())
			assert.Equal(t, tt.nonRetryable, appErr.NonRetryable())
		})
	}
}

func TestActivities_ReconcileTransaction(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		processor := new(MockProcessor)
		processor.On("Reconcile", mock.Anything, "tx-1").Return(transaction(remittance.StatusSettled), nil)

		activities := NewActivities(processor, nil, nil, nil)
		result, err := activities.ReconcileTransaction(context.Background(), StepInput{TransactionID: "tx-1"})
		require.NoError(t, err)
		assert.Equal(t, remittance.StatusSettled, result.Status)
		assert.False(t, result.Unresolved)
	})

	t.Run("unresolved is reported, not failed", func(t *testing.T) {
		processor := new(MockProcessor)
		processor.On("Reconcile", mock.Anything, "tx-1").Return(
			transaction(remittance.StatusUnknownReconciling),
			fmt.Errorf("%w: no answer for 24h", remittance.ErrReconciliationUnresolved),
		)

		activities := NewActivities(processor, nil, nil, nil)
		result, err := activities.ReconcileTransaction(context.Background(), StepInput{TransactionID: "tx-1"})
		require.NoError(t, err)
		assert.Equal(t, remittance.StatusUnknownReconciling, result.Status)
		assert.True(t, result.Unresolved)
	})
}

func TestActivities_RunRecoverySweep(t *testing.T) {
	sweeper := new(MockSweeper)
	sweeper.On("RunOnce", mock.Anything).Return(remittance.SweepResult{Resumed: 1, Reconciled: 2}, nil).Once()
	sweeper.On("RunOnce", mock.Anything).Return(remittance.SweepResult{}, errors.New("db down")).Once()

	activities := NewActivities(nil, sweeper, nil, nil)

	res, err := activities.RunRecoverySweep(context.Background(), SweepInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resumed)
	assert.Equal(t, 2, res.Reconciled)

	_, err = activities.RunRecoverySweep(context.Background(), SweepInput{})
	assert.ErrorContains(t, err, "db down")
	sweeper.AssertExpectations(t)
}
