// Package domain defines the recurring-purchase rule model and the pure
// scheduling functions operating on it.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Persisted amounts are JSON numbers, not the quoted strings the decimal
// package emits by default.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Frequency is the cadence of a recurring purchase.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is a known cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Rule is one standing DCA instruction.
type Rule struct {
	ID                 string          `json:"id"`
	Asset              string          `json:"asset"`
	FiatAmount         decimal.Decimal `json:"fiat_amount"`
	FiatCurrency       string          `json:"fiat_currency"`
	Provider           string          `json:"provider"`
	Frequency          Frequency       `json:"frequency"`
	DayOfWeek          *int            `json:"day_of_week,omitempty"`
	DayOfMonth         *int            `json:"day_of_month,omitempty"`
	HourOfDay          int             `json:"hour_of_day"`
	DestinationAddress string          `json:"destination_address"`
	IsActive           bool            `json:"is_active"`
	NextExecutionAt    time.Time       `json:"next_execution_at"`
	CreatedAt          time.Time       `json:"created_at"`
	LastExecutedAt     *time.Time      `json:"last_executed_at,omitempty"`
	TotalExecutions    int             `json:"total_executions"`
	TotalSpent         decimal.Decimal `json:"total_spent"`
}

// RuleSpec carries the user-supplied fields required to create a rule.
type RuleSpec struct {
	Asset              string
	FiatAmount         decimal.Decimal
	FiatCurrency       string
	Provider           string
	Frequency          Frequency
	DayOfWeek          *int
	DayOfMonth         *int
	HourOfDay          int
	DestinationAddress string
}

// Validate checks the spec before a rule is created from it.
func (s RuleSpec) Validate() error {
	if s.Asset == "" {
		return newValidationError("asset", "is required")
	}
	if s.FiatAmount.LessThanOrEqual(decimal.Zero) {
		return newValidationError("fiatAmount", fmt.Sprintf("must be positive, got %s", s.FiatAmount.String()))
	}
	if s.FiatCurrency == "" {
		return newValidationError("fiatCurrency", "is required")
	}
	if s.Provider == "" {
		return newValidationError("provider", "is required")
	}
	if !s.Frequency.Valid() {
		return newValidationError("frequency", fmt.Sprintf("must be daily, weekly or monthly, got %q", s.Frequency))
	}
	if s.HourOfDay < 0 || s.HourOfDay > 23 {
		return newValidationError("hourOfDay", fmt.Sprintf("must be in [0,23], got %d", s.HourOfDay))
	}
	if s.DayOfWeek != nil && (*s.DayOfWeek < 0 || *s.DayOfWeek > 6) {
		return newValidationError("dayOfWeek", fmt.Sprintf("must be in [0,6], got %d", *s.DayOfWeek))
	}
	if s.DayOfMonth != nil && (*s.DayOfMonth < 1 || *s.DayOfMonth > 31) {
		return newValidationError("dayOfMonth", fmt.Sprintf("must be in [1,31], got %d", *s.DayOfMonth))
	}
	if s.DestinationAddress == "" {
		return newValidationError("destinationAddress", "is required")
	}
	return nil
}

// RulePatch is a partial update of the user-editable rule fields.
// Nil pointers leave the corresponding field untouched.
type RulePatch struct {
	Asset              *string
	FiatAmount         *decimal.Decimal
	FiatCurrency       *string
	Provider           *string
	Frequency          *Frequency
	DayOfWeek          *int
	DayOfMonth         *int
	HourOfDay          *int
	DestinationAddress *string
}

// AffectsSchedule reports whether applying the patch changes any field the
// next-execution calculation depends on.
func (p RulePatch) AffectsSchedule() bool {
	return p.Frequency != nil || p.HourOfDay != nil || p.DayOfWeek != nil || p.DayOfMonth != nil
}

// DescribeCadence renders a human-readable cadence, e.g. "Every Monday at 08:00".
// Display only, never used for scheduling decisions.
func DescribeCadence(r Rule) string {
	switch r.Frequency {
	case FrequencyDaily:
		return fmt.Sprintf("Every day at %02d:00", r.HourOfDay)
	case FrequencyWeekly:
		day := defaultDayOfWeek
		if r.DayOfWeek != nil {
			day = *r.DayOfWeek
		}
		return fmt.Sprintf("Every %s at %02d:00", time.Weekday(day).String(), r.HourOfDay)
	case FrequencyMonthly:
		day := defaultDayOfMonth
		if r.DayOfMonth != nil {
			day = *r.DayOfMonth
		}
		return fmt.Sprintf("Every %s of the month at %02d:00", ordinal(day), r.HourOfDay)
	}
	return string(r.Frequency)
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
