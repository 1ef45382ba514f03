// Package provider performs the actual purchases for due rules. The scheduler
// core only records outcomes; everything that moves value lives here behind
// the Purchaser interface.
package provider

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// PurchaseRequest describes one purchase to perform.
type PurchaseRequest struct {
	IntentID           string
	Asset              string
	FiatAmount         decimal.Decimal
	FiatCurrency       string
	DestinationAddress string
}

// PurchaseResult reports what a completed purchase bought. FiatSpent is the
// quote amount the channel actually charged, which can be less than the
// requested amount on a partial fill.
type PurchaseResult struct {
	AssetAmount decimal.Decimal
	FiatSpent   decimal.Decimal
	Price       decimal.Decimal
}

// Purchaser executes a purchase through one external channel.
type Purchaser interface {
	Buy(ctx context.Context, req PurchaseRequest) (PurchaseResult, error)
}

// quoteFor maps a fiat currency to the exchange quote symbol it trades
// against. Dollar amounts are spent as USDT; other currencies trade under
// their own symbol.
func quoteFor(currency string) string {
	if strings.EqualFold(currency, "USD") {
		return "USDT"
	}
	return strings.ToUpper(currency)
}
