// Package runner drives the scheduler: it polls for due rules, performs each
// purchase through the rule's provider and records the outcome. This is the
// single logical thread of control over the rule collection.
package runner

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stackerapp/stacker/internal/domain"
	"github.com/stackerapp/stacker/internal/services/provider"
	"github.com/stackerapp/stacker/internal/services/scheduler"
	"github.com/stackerapp/stacker/pkg/retrier"
)

// Runner polls the scheduler on an interval and closes the loop for every
// due rule: dispatch -> purchase -> record execution.
type Runner struct {
	scheduler    *scheduler.Scheduler
	providers    map[string]provider.Purchaser
	pollInterval time.Duration
	logger       *zap.Logger
	retrier      *retrier.Retrier
}

// New creates a runner. providers maps a rule's provider name to the channel
// performing its purchases.
func New(s *scheduler.Scheduler, providers map[string]provider.Purchaser, pollInterval time.Duration, logger *zap.Logger) (*Runner, error) {
	if s == nil {
		return nil, errors.New("scheduler is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("at least one purchase provider is required")
	}
	if pollInterval <= 0 {
		return nil, errors.Errorf("poll interval must be positive, got %s", pollInterval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		scheduler:    s,
		providers:    providers,
		pollInterval: pollInterval,
		logger:       logger,
		retrier:      retrier.New(),
	}, nil
}

// Run ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info("starting scheduler loop", zap.Duration("poll_interval", r.pollInterval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("context done, stopping scheduler loop")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx, time.Now())
		}
	}
}

// Tick processes every rule due at now. Rules are independent of each other,
// so one failed purchase does not block the rest.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	due := r.scheduler.DueRules(now)
	if len(due) == 0 {
		return
	}

	r.logger.Debug("due rules detected", zap.Int("count", len(due)))

	for _, rule := range due {
		if err := r.process(ctx, rule, now); err != nil {
			r.logger.Error("failed to process due rule",
				zap.Error(err),
				zap.String("rule_id", rule.ID),
				zap.String("asset", rule.Asset))
		}
	}
}

func (r *Runner) process(ctx context.Context, rule domain.Rule, now time.Time) error {
	purchaser, ok := r.providers[rule.Provider]
	if !ok {
		return errors.Errorf("no provider %q configured for rule %s", rule.Provider, rule.ID)
	}

	intent, err := r.scheduler.Dispatch(rule.ID, now)
	if err != nil {
		if errors.Is(err, scheduler.ErrAlreadyDispatched) {
			return nil
		}
		return errors.Wrap(err, "dispatch")
	}

	result, err := purchaser.Buy(ctx, provider.PurchaseRequest{
		IntentID:           intent.ID,
		Asset:              rule.Asset,
		FiatAmount:         rule.FiatAmount,
		FiatCurrency:       rule.FiatCurrency,
		DestinationAddress: rule.DestinationAddress,
	})
	if err != nil {
		if cancelErr := r.scheduler.CancelDispatch(rule.ID, err); cancelErr != nil {
			r.logger.Error("failed to cancel dispatch", zap.Error(cancelErr), zap.String("rule_id", rule.ID))
		}
		return errors.Wrap(err, "purchase")
	}

	// Record what the channel actually charged, which a partial fill makes
	// smaller than the rule amount.
	spent := result.FiatSpent
	if spent.IsZero() {
		spent = rule.FiatAmount
	}

	// The purchase happened; the record write must not be lost to a transient
	// storage failure, so it is retried. If it still fails the intent stays
	// pending, which keeps the rule out of the due set instead of buying twice.
	err = r.retrier.Do(ctx, func(ctx context.Context) error {
		_, recordErr := r.scheduler.RecordExecution(rule.ID, spent, now)
		return recordErr
	})
	if err != nil {
		return errors.Wrap(err, "record execution")
	}

	r.logger.Info("purchase executed",
		zap.String("rule_id", rule.ID),
		zap.String("asset", rule.Asset),
		zap.String("fiat_spent", spent.String()),
		zap.String("asset_amount", result.AssetAmount.String()),
		zap.String("price", result.Price.String()),
		zap.String("cadence", domain.DescribeCadence(rule)))

	return nil
}
