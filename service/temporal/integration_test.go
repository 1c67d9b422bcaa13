package temporal

import (
	"testing"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/memstore"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/provider/providertest"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func newOrchestrator(t *testing.T, fake *providertest.Fake) (*remittance.Orchestrator, *memstore.Store) {
	t.Helper()

	cfg := remittance.DefaultConfig()
	cfg.MinAmount = 100
	cfg.MaxAmount = 1_000_000
	cfg.DailyLimitPerUser = 100_000
	cfg.Retry = remittance.RetryConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	router := provider.NewRouter()
	router.Register(fake)
	router.Route(provider.Corridor{Source: "USD", Destination: "INR"}, fake.Name())

	store := memstore.New()
	orch, err := remittance.NewOrchestrator(cfg, store, store, router, store)
	require.NoError(t, err)
	return orch, store
}

func submitRequest(key string) remittance.SubmitRequest {
	return remittance.SubmitRequest{
		IdempotencyKey: key,
		SenderID:       "user-1",
		RecipientID:    "recipient-1",
		Recipient: remittance.Recipient{
			Name:          "Asha Rao",
			AccountNumber: "001122334455",
			BankCode:      "HDFC0001234",
		},
		SourceAmount:        10_000,
		SourceCurrency:      "USD",
		DestinationCurrency: "INR",
	}
}

func TestTransferWorkflow_WithOrchestrator(t *testing.T) {
	fake := providertest.NewFake("fake")
	fake.Rate = decimal.NewFromInt(83)
	fake.SetStatuses(provider.Pending(), provider.Settled())
	orch, store := newOrchestrator(t, fake)

	res, err := orch.Submit(t.Context(), submitRequest("wf-1"))
	require.NoError(t, err)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	activities := NewActivities(orch, remittance.NewReconciler(orch, 10), nil, nil)
	env.RegisterActivity(activities.AdvanceTransaction)
	env.RegisterActivity(activities.ReconcileTransaction)

	env.ExecuteWorkflow(TransferWorkflow, TransferInput{TransactionID: res.TransactionID, PollInterval: time.Second})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TransferResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, remittance.StatusSettled, result.Status)

	tx, err := store.Get(t.Context(), res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, remittance.StatusSettled, tx.Status)
	assert.Equal(t, 1, fake.Transfers())
}
