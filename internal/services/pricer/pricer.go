// Package pricer fetches spot prices used to convert a rule's fiat amount
// into an asset quantity. Prices are informational inputs to the purchase
// path; the scheduler core never depends on them.
package pricer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Market identifies an asset priced in a quote currency on an exchange.
type Market struct {
	Asset string
	Quote string
}

// Symbol returns the concatenated exchange symbol, e.g. BTCUSDT.
func (m Market) Symbol() string {
	return m.Asset + m.Quote
}

func (m Market) String() string {
	return fmt.Sprintf("%s_%s", m.Asset, m.Quote)
}

// Pricer returns the current price of a market.
type Pricer interface {
	Price(ctx context.Context, market Market) (decimal.Decimal, error)
}
