// Package journal persists purchase intents and execution events in a WAL.
// An intent is written before a due rule is handed to a purchase provider and
// completed (done or failed) afterwards, so a rule that is due-detected twice
// before its purchase settles is not dispatched twice, and unsettled intents
// survive restarts.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/stackerapp/stacker/internal/domain"
)

const (
	DefaultDir = "./wal/journal"

	segmentThreshold = 1000
	maxSegments      = 100

	intentKeyPrefix    = "purchase_intent_"
	executionKeyPrefix = "execution_"
)

// Status of a purchase intent.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// PurchaseIntent marks one dispatch of a due rule to a purchase provider.
type PurchaseIntent struct {
	ID           string          `json:"id"`
	RuleID       string          `json:"rule_id"`
	Asset        string          `json:"asset"`
	FiatAmount   decimal.Decimal `json:"fiat_amount"`
	FiatCurrency string          `json:"fiat_currency"`
	Provider     string          `json:"provider"`
	Status       Status          `json:"status"`
	DispatchedAt time.Time       `json:"dispatched_at"`
	Error        string          `json:"error,omitempty"`
}

// ExecutionEvent records one completed purchase.
type ExecutionEvent struct {
	IntentID     string          `json:"intent_id"`
	RuleID       string          `json:"rule_id"`
	Asset        string          `json:"asset"`
	FiatAmount   decimal.Decimal `json:"fiat_amount"`
	FiatCurrency string          `json:"fiat_currency"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// ExecutionRecord pairs an execution event with its WAL index so readers can
// resume from a cursor.
type ExecutionRecord struct {
	Index uint64
	Event ExecutionEvent
}

// Journal is a WAL-backed intent and execution log.
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// New opens the journal WAL in dir.
func New(dir string) (*Journal, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init purchase journal WAL")
	}

	return &Journal{wal: wal}, nil
}

// Prepare writes a pending intent for the rule.
func (j *Journal) Prepare(rule domain.Rule, now time.Time) (*PurchaseIntent, error) {
	intent := &PurchaseIntent{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		Asset:        rule.Asset,
		FiatAmount:   rule.FiatAmount,
		FiatCurrency: rule.FiatCurrency,
		Provider:     rule.Provider,
		Status:       StatusPending,
		DispatchedAt: now,
	}

	if err := j.persistIntent(intent); err != nil {
		return nil, err
	}

	return intent, nil
}

// MarkDone completes the intent and appends the matching execution event.
func (j *Journal) MarkDone(intent *PurchaseIntent, executedAt time.Time) error {
	if intent == nil {
		return nil
	}

	intent.Status = StatusDone
	intent.Error = ""
	if err := j.persistIntent(intent); err != nil {
		return err
	}

	event := ExecutionEvent{
		IntentID:     intent.ID,
		RuleID:       intent.RuleID,
		Asset:        intent.Asset,
		FiatAmount:   intent.FiatAmount,
		FiatCurrency: intent.FiatCurrency,
		ExecutedAt:   executedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal execution event")
	}

	key := fmt.Sprintf("%s%s", executionKeyPrefix, intent.ID)

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Write(j.wal.CurrentIndex()+1, key, payload)
}

// MarkFailed completes the intent with an error so the rule becomes
// dispatchable again.
func (j *Journal) MarkFailed(intent *PurchaseIntent, cause error) error {
	if intent == nil {
		return nil
	}

	intent.Status = StatusFailed
	if cause != nil {
		intent.Error = cause.Error()
	} else {
		intent.Error = ""
	}

	return j.persistIntent(intent)
}

// Pending replays the WAL and returns intents whose latest status is pending,
// keyed by rule id.
func (j *Journal) Pending() (map[string]*PurchaseIntent, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("purchase journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	latest := make(map[string]*PurchaseIntent)
	for msg := range j.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}

		var intent PurchaseIntent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			return nil, errors.Wrap(err, "decode purchase intent")
		}
		intentCopy := intent
		latest[intent.ID] = &intentCopy
	}

	pending := make(map[string]*PurchaseIntent)
	for _, intent := range latest {
		if intent.Status == StatusPending {
			pending[intent.RuleID] = intent
		}
	}

	return pending, nil
}

// ExecutionsAfter returns execution events written after the given WAL index.
func (j *Journal) ExecutionsAfter(index uint64) ([]ExecutionRecord, error) {
	if j == nil || j.wal == nil {
		return nil, errors.New("purchase journal is not initialized")
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]ExecutionRecord, 0)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, executionKeyPrefix) {
			continue
		}

		var event ExecutionEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrap(err, "decode execution event")
		}
		records = append(records, ExecutionRecord{Index: idx, Event: event})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}

func (j *Journal) persistIntent(intent *PurchaseIntent) error {
	if j == nil || j.wal == nil {
		return errors.New("purchase journal is not initialized")
	}

	payload, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "marshal purchase intent")
	}

	key := fmt.Sprintf("%s%s", intentKeyPrefix, intent.ID)

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Write(j.wal.CurrentIndex()+1, key, payload)
}
