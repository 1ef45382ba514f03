package provider

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/stackerapp/stacker/internal/services/pricer"
)

// BinanceProvider fills purchases with spot market orders spending the quote
// amount directly, so no quantity rounding happens on our side.
type BinanceProvider struct {
	client *binance.Client
	pricer pricer.Pricer
}

func NewBinanceProvider(client *binance.Client, p pricer.Pricer) *BinanceProvider {
	return &BinanceProvider{client: client, pricer: p}
}

func (b *BinanceProvider) Buy(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	market := pricer.Market{Asset: req.Asset, Quote: quoteFor(req.FiatCurrency)}

	order, err := b.client.NewCreateOrderService().
		Symbol(market.Symbol()).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(req.FiatAmount.String()).
		NewClientOrderID(req.IntentID).
		Do(ctx)
	if err != nil {
		return PurchaseResult{}, errors.Wrapf(err, "binance market buy failed for %s", market.String())
	}

	executedQty, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return PurchaseResult{}, errors.Wrap(err, "parse executed quantity")
	}

	// the actual quote spend, not the requested amount: partial fills charge less
	fiatSpent, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return PurchaseResult{}, errors.Wrap(err, "parse cumulative quote quantity")
	}

	price := decimal.Zero
	if len(order.Fills) > 0 {
		price, err = decimal.NewFromString(order.Fills[0].Price)
		if err != nil {
			return PurchaseResult{}, errors.Wrap(err, "parse fill price")
		}
	} else if b.pricer != nil {
		if current, perr := b.pricer.Price(ctx, market); perr == nil {
			price = current
		}
	}

	return PurchaseResult{AssetAmount: executedQty, FiatSpent: fiatSpent, Price: price}, nil
}
