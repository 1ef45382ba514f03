package runner

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackerapp/stacker/internal/domain"
	"github.com/stackerapp/stacker/internal/services/provider"
	"github.com/stackerapp/stacker/internal/services/scheduler"
	"github.com/stackerapp/stacker/internal/storage/rules"
)

type fakePurchaser struct {
	calls []provider.PurchaseRequest
	spent decimal.Decimal // overrides the requested amount when set
	err   error
}

func (f *fakePurchaser) Buy(_ context.Context, req provider.PurchaseRequest) (provider.PurchaseResult, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return provider.PurchaseResult{}, f.err
	}
	spent := req.FiatAmount
	if !f.spent.IsZero() {
		spent = f.spent
	}
	return provider.PurchaseResult{
		AssetAmount: decimal.NewFromFloat(0.001),
		FiatSpent:   spent,
		Price:       decimal.NewFromInt(50000),
	}, nil
}

func newSchedulerWithRule(t *testing.T, now time.Time) (*scheduler.Scheduler, domain.Rule) {
	t.Helper()

	s, err := scheduler.New(rules.NewMemoryStore(), nil, zap.NewNop())
	require.NoError(t, err)

	rule, err := s.CreateRule(domain.RuleSpec{
		Asset:              "BTC",
		FiatAmount:         decimal.NewFromInt(50),
		FiatCurrency:       "USD",
		Provider:           "simulate",
		Frequency:          domain.FrequencyDaily,
		HourOfDay:          8,
		DestinationAddress: "bc1qexampledest",
	}, now)
	require.NoError(t, err)

	return s, rule
}

func TestTick_NothingDue(t *testing.T) {
	now := time.Date(2024, 6, 11, 7, 0, 0, 0, time.UTC)
	s, _ := newSchedulerWithRule(t, now)

	purchaser := &fakePurchaser{}
	r, err := New(s, map[string]provider.Purchaser{"simulate": purchaser}, time.Second, zap.NewNop())
	require.NoError(t, err)

	r.Tick(context.Background(), now)
	require.Empty(t, purchaser.calls)
}

func TestTick_ExecutesDueRuleOnce(t *testing.T) {
	created := time.Date(2024, 6, 11, 7, 0, 0, 0, time.UTC)
	s, rule := newSchedulerWithRule(t, created)

	purchaser := &fakePurchaser{}
	r, err := New(s, map[string]provider.Purchaser{"simulate": purchaser}, time.Second, zap.NewNop())
	require.NoError(t, err)

	dueAt := rule.NextExecutionAt
	r.Tick(context.Background(), dueAt)

	require.Len(t, purchaser.calls, 1)
	require.Equal(t, "BTC", purchaser.calls[0].Asset)
	require.True(t, purchaser.calls[0].FiatAmount.Equal(decimal.NewFromInt(50)))

	updated := s.Rules()[0]
	require.Equal(t, 1, updated.TotalExecutions)
	require.True(t, updated.TotalSpent.Equal(decimal.NewFromInt(50)))
	require.True(t, updated.NextExecutionAt.After(dueAt))

	// same instant again: next execution moved on, nothing due
	r.Tick(context.Background(), dueAt)
	require.Len(t, purchaser.calls, 1)
}

func TestTick_RecordsActualSpendOnPartialFill(t *testing.T) {
	created := time.Date(2024, 6, 11, 7, 0, 0, 0, time.UTC)
	s, rule := newSchedulerWithRule(t, created)

	purchaser := &fakePurchaser{spent: decimal.NewFromFloat(49.5)}
	r, err := New(s, map[string]provider.Purchaser{"simulate": purchaser}, time.Second, zap.NewNop())
	require.NoError(t, err)

	r.Tick(context.Background(), rule.NextExecutionAt)

	updated := s.Rules()[0]
	require.Equal(t, 1, updated.TotalExecutions)
	require.True(t, updated.TotalSpent.Equal(decimal.NewFromFloat(49.5)),
		"expected the charged amount, got %s", updated.TotalSpent)
}

func TestTick_FailedPurchaseLeavesRuleDue(t *testing.T) {
	created := time.Date(2024, 6, 11, 7, 0, 0, 0, time.UTC)
	s, rule := newSchedulerWithRule(t, created)

	purchaser := &fakePurchaser{err: errors.New("provider down")}
	r, err := New(s, map[string]provider.Purchaser{"simulate": purchaser}, time.Second, zap.NewNop())
	require.NoError(t, err)

	dueAt := rule.NextExecutionAt
	r.Tick(context.Background(), dueAt)

	require.Len(t, purchaser.calls, 1)
	require.Zero(t, s.Rules()[0].TotalExecutions)

	// dispatch was cancelled, so the next tick retries the purchase
	purchaser.err = nil
	r.Tick(context.Background(), dueAt)
	require.Len(t, purchaser.calls, 2)
	require.Equal(t, 1, s.Rules()[0].TotalExecutions)
}

func TestTick_UnknownProvider(t *testing.T) {
	created := time.Date(2024, 6, 11, 7, 0, 0, 0, time.UTC)
	s, rule := newSchedulerWithRule(t, created)

	purchaser := &fakePurchaser{}
	r, err := New(s, map[string]provider.Purchaser{"binance": purchaser}, time.Second, zap.NewNop())
	require.NoError(t, err)

	r.Tick(context.Background(), rule.NextExecutionAt)
	require.Empty(t, purchaser.calls)
	require.Zero(t, s.Rules()[0].TotalExecutions)
}

func TestTick_ProcessesMultipleRulesIndependently(t *testing.T) {
	created := time.Date(2024, 6, 11, 7, 0, 0, 0, time.UTC)
	s, _ := newSchedulerWithRule(t, created)

	_, err := s.CreateRule(domain.RuleSpec{
		Asset:              "ETH",
		FiatAmount:         decimal.NewFromInt(25),
		FiatCurrency:       "USD",
		Provider:           "simulate",
		Frequency:          domain.FrequencyDaily,
		HourOfDay:          8,
		DestinationAddress: "0xexampledest",
	}, created)
	require.NoError(t, err)

	purchaser := &fakePurchaser{}
	r, err := New(s, map[string]provider.Purchaser{"simulate": purchaser}, time.Second, zap.NewNop())
	require.NoError(t, err)

	r.Tick(context.Background(), time.Date(2024, 6, 11, 8, 0, 0, 0, time.UTC))
	require.Len(t, purchaser.calls, 2)

	for _, rule := range s.Rules() {
		require.Equal(t, 1, rule.TotalExecutions)
	}
}

func TestNew_Validation(t *testing.T) {
	now := time.Now()
	s, _ := newSchedulerWithRule(t, now)
	providers := map[string]provider.Purchaser{"simulate": &fakePurchaser{}}

	_, err := New(nil, providers, time.Second, nil)
	require.Error(t, err)

	_, err = New(s, nil, time.Second, nil)
	require.Error(t, err)

	_, err = New(s, providers, 0, nil)
	require.Error(t, err)
}
