// Package scheduler orchestrates the lifecycle of recurring-purchase rules:
// create/update/toggle/delete, due detection, dispatch bookkeeping and
// execution recording. All time-dependent operations take the current instant
// explicitly so behavior is deterministic under test.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stackerapp/stacker/internal/domain"
	"github.com/stackerapp/stacker/internal/storage/journal"
	"github.com/stackerapp/stacker/internal/storage/rules"
)

// ErrAlreadyDispatched is returned when a rule with an unsettled purchase
// intent is dispatched again.
var ErrAlreadyDispatched = errors.New("rule already has a pending purchase intent")

// Journal persists purchase intents so a rule due-detected twice before its
// purchase settles is not double-processed. May be nil, in which case intents
// are tracked in memory only.
type Journal interface {
	Prepare(rule domain.Rule, now time.Time) (*journal.PurchaseIntent, error)
	MarkDone(intent *journal.PurchaseIntent, executedAt time.Time) error
	MarkFailed(intent *journal.PurchaseIntent, cause error) error
	Pending() (map[string]*journal.PurchaseIntent, error)
}

// Scheduler is the lifecycle controller over the rule collection. The durable
// store is written before the in-memory collection is swapped, so a failed
// persist leaves the previous state authoritative.
type Scheduler struct {
	store   rules.Store
	journal Journal
	logger  *zap.Logger

	mu      sync.RWMutex
	rules   []domain.Rule
	pending map[string]*journal.PurchaseIntent // rule id -> unsettled intent
}

// New loads the rule collection and recovers unsettled purchase intents.
func New(store rules.Store, jnl Journal, logger *zap.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("rule store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loaded, err := store.Load()
	if err != nil {
		return nil, &domain.StorageError{Op: "load rules", Err: err}
	}

	pending := make(map[string]*journal.PurchaseIntent)
	if jnl != nil {
		pending, err = jnl.Pending()
		if err != nil {
			return nil, errors.Wrap(err, "recover pending purchase intents")
		}
		if pending == nil {
			pending = make(map[string]*journal.PurchaseIntent)
		}
	}

	if len(pending) > 0 {
		logger.Warn("recovered unsettled purchase intents", zap.Int("count", len(pending)))
	}

	return &Scheduler{
		store:   store,
		journal: jnl,
		logger:  logger,
		rules:   loaded,
		pending: pending,
	}, nil
}

// CreateRule validates the spec, computes the initial next-execution instant
// from now and persists the new rule. New rules are active.
func (s *Scheduler) CreateRule(spec domain.RuleSpec, now time.Time) (domain.Rule, error) {
	if err := spec.Validate(); err != nil {
		return domain.Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule := domain.Rule{
		ID:                 uuid.New().String(),
		Asset:              spec.Asset,
		FiatAmount:         spec.FiatAmount,
		FiatCurrency:       spec.FiatCurrency,
		Provider:           spec.Provider,
		Frequency:          spec.Frequency,
		DayOfWeek:          spec.DayOfWeek,
		DayOfMonth:         spec.DayOfMonth,
		HourOfDay:          spec.HourOfDay,
		DestinationAddress: spec.DestinationAddress,
		IsActive:           true,
		CreatedAt:          now,
		TotalExecutions:    0,
		TotalSpent:         decimal.Zero,
	}
	normalizeDayFields(&rule)

	next, err := domain.NextExecution(rule.Frequency, rule.HourOfDay, rule.DayOfWeek, rule.DayOfMonth, now)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.NextExecutionAt = next

	updated := append(copyRules(s.rules), rule)
	if err := s.persist(updated); err != nil {
		return domain.Rule{}, err
	}

	s.logger.Info("rule created",
		zap.String("rule_id", rule.ID),
		zap.String("asset", rule.Asset),
		zap.String("cadence", domain.DescribeCadence(rule)),
		zap.Time("next_execution_at", rule.NextExecutionAt))

	return rule, nil
}

// ToggleActive flips the active flag. Resuming a paused rule recomputes the
// next execution from now, so a long pause yields exactly one future instant
// instead of a backlog of missed periods. Pausing leaves the instant as is.
func (s *Scheduler) ToggleActive(id string, now time.Time) (domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Rule{}, domain.ErrRuleNotFound
	}

	updated := copyRules(s.rules)
	rule := &updated[idx]
	rule.IsActive = !rule.IsActive

	if rule.IsActive {
		next, err := domain.NextExecution(rule.Frequency, rule.HourOfDay, rule.DayOfWeek, rule.DayOfMonth, now)
		if err != nil {
			return domain.Rule{}, err
		}
		rule.NextExecutionAt = next
	}

	if err := s.persist(updated); err != nil {
		return domain.Rule{}, err
	}

	s.logger.Info("rule toggled",
		zap.String("rule_id", rule.ID),
		zap.Bool("is_active", rule.IsActive),
		zap.Time("next_execution_at", rule.NextExecutionAt))

	return *rule, nil
}

// UpdateRule applies a partial update. The next-execution instant is
// recomputed from now only when a schedule-affecting field changed.
func (s *Scheduler) UpdateRule(id string, patch domain.RulePatch, now time.Time) (domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Rule{}, domain.ErrRuleNotFound
	}

	updated := copyRules(s.rules)
	rule := &updated[idx]
	applyPatch(rule, patch)

	if err := specOf(*rule).Validate(); err != nil {
		return domain.Rule{}, err
	}
	normalizeDayFields(rule)

	if patch.AffectsSchedule() {
		next, err := domain.NextExecution(rule.Frequency, rule.HourOfDay, rule.DayOfWeek, rule.DayOfMonth, now)
		if err != nil {
			return domain.Rule{}, err
		}
		rule.NextExecutionAt = next
	}

	if err := s.persist(updated); err != nil {
		return domain.Rule{}, err
	}

	s.logger.Info("rule updated",
		zap.String("rule_id", rule.ID),
		zap.Bool("schedule_changed", patch.AffectsSchedule()),
		zap.Time("next_execution_at", rule.NextExecutionAt))

	return *rule, nil
}

// DeleteRule removes the rule permanently. Deleting an unknown id is a no-op.
func (s *Scheduler) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil
	}

	updated := make([]domain.Rule, 0, len(s.rules)-1)
	for _, r := range s.rules {
		if r.ID != id {
			updated = append(updated, r)
		}
	}

	if err := s.persist(updated); err != nil {
		return err
	}

	// Settle any in-flight intent so it is not replayed as pending for a
	// rule that no longer exists.
	if intent, inflight := s.pending[id]; inflight {
		delete(s.pending, id)
		if s.journal != nil {
			if err := s.journal.MarkFailed(intent, errors.New("rule deleted")); err != nil {
				s.logger.Error("failed to settle purchase intent of deleted rule",
					zap.Error(err),
					zap.String("intent_id", intent.ID))
			}
		}
	}

	s.logger.Info("rule deleted", zap.String("rule_id", id))

	return nil
}

// Rules returns the full collection.
func (s *Scheduler) Rules() []domain.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyRules(s.rules)
}

// ActiveRules returns the rules participating in due detection.
func (s *Scheduler) ActiveRules() []domain.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]domain.Rule, 0)
	for _, r := range s.rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active
}

// DueRules returns the active rules whose next execution instant has arrived,
// excluding rules with an unsettled purchase intent.
func (s *Scheduler) DueRules(now time.Time) []domain.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := domain.FindDue(s.rules, now)
	if len(s.pending) == 0 {
		return due
	}

	out := due[:0]
	for _, r := range due {
		if _, inflight := s.pending[r.ID]; !inflight {
			out = append(out, r)
		}
	}
	return out
}

// Dispatch marks a rule as handed to its purchase provider. Until the intent
// settles via RecordExecution or CancelDispatch the rule is excluded from
// DueRules.
func (s *Scheduler) Dispatch(id string, now time.Time) (*journal.PurchaseIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil, domain.ErrRuleNotFound
	}
	if _, inflight := s.pending[id]; inflight {
		return nil, ErrAlreadyDispatched
	}

	rule := s.rules[idx]

	var intent *journal.PurchaseIntent
	var err error
	if s.journal != nil {
		intent, err = s.journal.Prepare(rule, now)
		if err != nil {
			return nil, errors.Wrap(err, "prepare purchase intent")
		}
	} else {
		intent = &journal.PurchaseIntent{
			ID:           uuid.New().String(),
			RuleID:       rule.ID,
			Asset:        rule.Asset,
			FiatAmount:   rule.FiatAmount,
			FiatCurrency: rule.FiatCurrency,
			Provider:     rule.Provider,
			Status:       journal.StatusPending,
			DispatchedAt: now,
		}
	}

	s.pending[id] = intent
	return intent, nil
}

// CancelDispatch settles a pending intent as failed so the rule becomes due
// again on the next tick.
func (s *Scheduler) CancelDispatch(id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, inflight := s.pending[id]
	if !inflight {
		return nil
	}
	delete(s.pending, id)

	if s.journal != nil {
		if err := s.journal.MarkFailed(intent, cause); err != nil {
			return errors.Wrap(err, "mark purchase intent failed")
		}
	}
	return nil
}

// RecordExecution applies the outcome of a performed purchase: bumps the
// counters, accumulates spend, recomputes the next execution from now and
// persists the updated rule. Pure bookkeeping, called at most once per actual
// purchase.
func (s *Scheduler) RecordExecution(id string, amountSpent decimal.Decimal, now time.Time) (domain.Rule, error) {
	if amountSpent.IsNegative() {
		return domain.Rule{}, &domain.ValidationError{Field: "amountSpent", Reason: "must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Rule{}, domain.ErrRuleNotFound
	}

	updated := copyRules(s.rules)
	rule := &updated[idx]

	next, err := domain.NextExecution(rule.Frequency, rule.HourOfDay, rule.DayOfWeek, rule.DayOfMonth, now)
	if err != nil {
		return domain.Rule{}, err
	}

	executedAt := now
	rule.LastExecutedAt = &executedAt
	rule.NextExecutionAt = next
	rule.TotalExecutions++
	rule.TotalSpent = rule.TotalSpent.Add(amountSpent)

	if err := s.persist(updated); err != nil {
		return domain.Rule{}, err
	}

	if intent, inflight := s.pending[id]; inflight {
		delete(s.pending, id)
		if s.journal != nil {
			if err := s.journal.MarkDone(intent, now); err != nil {
				s.logger.Error("failed to settle purchase intent",
					zap.Error(err),
					zap.String("intent_id", intent.ID))
			}
		}
	}

	s.logger.Info("execution recorded",
		zap.String("rule_id", rule.ID),
		zap.String("amount_spent", amountSpent.String()),
		zap.Int("total_executions", rule.TotalExecutions),
		zap.String("total_spent", rule.TotalSpent.String()),
		zap.Time("next_execution_at", rule.NextExecutionAt))

	return *rule, nil
}

// DescribeCadence renders the rule's cadence for display.
func (s *Scheduler) DescribeCadence(r domain.Rule) string {
	return domain.DescribeCadence(r)
}

func (s *Scheduler) indexOf(id string) int {
	for i, r := range s.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) persist(updated []domain.Rule) error {
	if err := s.store.Save(updated); err != nil {
		return &domain.StorageError{Op: "save rules", Err: err}
	}
	s.rules = updated
	return nil
}

func copyRules(in []domain.Rule) []domain.Rule {
	out := make([]domain.Rule, len(in))
	copy(out, in)
	return out
}

// normalizeDayFields keeps only the day field matching the frequency so
// exactly one of dayOfWeek/dayOfMonth is set.
func normalizeDayFields(r *domain.Rule) {
	switch r.Frequency {
	case domain.FrequencyWeekly:
		r.DayOfMonth = nil
	case domain.FrequencyMonthly:
		r.DayOfWeek = nil
	default:
		r.DayOfWeek = nil
		r.DayOfMonth = nil
	}
}

func applyPatch(r *domain.Rule, p domain.RulePatch) {
	if p.Asset != nil {
		r.Asset = *p.Asset
	}
	if p.FiatAmount != nil {
		r.FiatAmount = *p.FiatAmount
	}
	if p.FiatCurrency != nil {
		r.FiatCurrency = *p.FiatCurrency
	}
	if p.Provider != nil {
		r.Provider = *p.Provider
	}
	if p.Frequency != nil {
		r.Frequency = *p.Frequency
	}
	if p.DayOfWeek != nil {
		r.DayOfWeek = p.DayOfWeek
	}
	if p.DayOfMonth != nil {
		r.DayOfMonth = p.DayOfMonth
	}
	if p.HourOfDay != nil {
		r.HourOfDay = *p.HourOfDay
	}
	if p.DestinationAddress != nil {
		r.DestinationAddress = *p.DestinationAddress
	}
}

func specOf(r domain.Rule) domain.RuleSpec {
	return domain.RuleSpec{
		Asset:              r.Asset,
		FiatAmount:         r.FiatAmount,
		FiatCurrency:       r.FiatCurrency,
		Provider:           r.Provider,
		Frequency:          r.Frequency,
		DayOfWeek:          r.DayOfWeek,
		DayOfMonth:         r.DayOfMonth,
		HourOfDay:          r.HourOfDay,
		DestinationAddress: r.DestinationAddress,
	}
}
