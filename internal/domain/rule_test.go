package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validSpec() RuleSpec {
	return RuleSpec{
		Asset:              "BTC",
		FiatAmount:         decimal.NewFromInt(50),
		FiatCurrency:       "USD",
		Provider:           "simulate",
		Frequency:          FrequencyWeekly,
		DayOfWeek:          intPtr(1),
		HourOfDay:          8,
		DestinationAddress: "bc1qexampledest",
	}
}

func TestRuleSpecValidate_OK(t *testing.T) {
	require.NoError(t, validSpec().Validate())
}

func TestRuleJSON_AmountsAreNumbers(t *testing.T) {
	day := 1
	payload, err := json.Marshal(Rule{
		ID:         "a",
		Asset:      "BTC",
		FiatAmount: decimal.RequireFromString("50.25"),
		Frequency:  FrequencyWeekly,
		DayOfWeek:  &day,
		HourOfDay:  8,
		TotalSpent: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.Contains(t, string(payload), `"fiat_amount":50.25`)
	require.Contains(t, string(payload), `"total_spent":100`)

	var restored Rule
	require.NoError(t, json.Unmarshal(payload, &restored))
	require.True(t, restored.FiatAmount.Equal(decimal.RequireFromString("50.25")))
}

func TestRuleSpecValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RuleSpec)
		field  string
	}{
		{"missing asset", func(s *RuleSpec) { s.Asset = "" }, "asset"},
		{"zero amount", func(s *RuleSpec) { s.FiatAmount = decimal.Zero }, "fiatAmount"},
		{"negative amount", func(s *RuleSpec) { s.FiatAmount = decimal.NewFromInt(-1) }, "fiatAmount"},
		{"missing currency", func(s *RuleSpec) { s.FiatCurrency = "" }, "fiatCurrency"},
		{"missing provider", func(s *RuleSpec) { s.Provider = "" }, "provider"},
		{"bad frequency", func(s *RuleSpec) { s.Frequency = "hourly" }, "frequency"},
		{"hour too large", func(s *RuleSpec) { s.HourOfDay = 24 }, "hourOfDay"},
		{"hour negative", func(s *RuleSpec) { s.HourOfDay = -1 }, "hourOfDay"},
		{"day of week out of range", func(s *RuleSpec) { s.DayOfWeek = intPtr(7) }, "dayOfWeek"},
		{"day of month out of range", func(s *RuleSpec) { s.Frequency = FrequencyMonthly; s.DayOfMonth = intPtr(32) }, "dayOfMonth"},
		{"missing destination", func(s *RuleSpec) { s.DestinationAddress = "" }, "destinationAddress"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)

			err := spec.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestRulePatch_AffectsSchedule(t *testing.T) {
	require.False(t, RulePatch{}.AffectsSchedule())

	asset := "ETH"
	require.False(t, RulePatch{Asset: &asset}.AffectsSchedule())

	amount := decimal.NewFromInt(25)
	require.False(t, RulePatch{FiatAmount: &amount}.AffectsSchedule())

	freq := FrequencyDaily
	require.True(t, RulePatch{Frequency: &freq}.AffectsSchedule())
	require.True(t, RulePatch{HourOfDay: intPtr(12)}.AffectsSchedule())
	require.True(t, RulePatch{DayOfWeek: intPtr(2)}.AffectsSchedule())
	require.True(t, RulePatch{DayOfMonth: intPtr(15)}.AffectsSchedule())
}

func TestDescribeCadence(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"daily", Rule{Frequency: FrequencyDaily, HourOfDay: 9}, "Every day at 09:00"},
		{"weekly monday", Rule{Frequency: FrequencyWeekly, DayOfWeek: intPtr(1), HourOfDay: 8}, "Every Monday at 08:00"},
		{"weekly sunday", Rule{Frequency: FrequencyWeekly, DayOfWeek: intPtr(0), HourOfDay: 20}, "Every Sunday at 20:00"},
		{"weekly default day", Rule{Frequency: FrequencyWeekly, HourOfDay: 8}, "Every Monday at 08:00"},
		{"monthly 3rd", Rule{Frequency: FrequencyMonthly, DayOfMonth: intPtr(3), HourOfDay: 0}, "Every 3rd of the month at 00:00"},
		{"monthly 21st", Rule{Frequency: FrequencyMonthly, DayOfMonth: intPtr(21), HourOfDay: 18}, "Every 21st of the month at 18:00"},
		{"monthly 11th", Rule{Frequency: FrequencyMonthly, DayOfMonth: intPtr(11), HourOfDay: 6}, "Every 11th of the month at 06:00"},
		{"monthly default day", Rule{Frequency: FrequencyMonthly, HourOfDay: 7}, "Every 1st of the month at 07:00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DescribeCadence(tc.rule))
		})
	}
}
