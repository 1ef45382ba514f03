package provider

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stackerapp/stacker/internal/services/pricer"
)

// SimulateProvider fills purchases against a paper wallet at the current
// market price. Used for dry runs and tests; nothing leaves the process.
type SimulateProvider struct {
	mu       sync.Mutex
	logger   *zap.Logger
	pricer   pricer.Pricer
	fiat     map[string]decimal.Decimal // currency -> remaining balance
	holdings map[string]decimal.Decimal // asset -> accumulated amount
}

const defaultFiatBalance = 10000

// NewSimulateProvider creates a paper-wallet provider funded with a default
// balance per fiat currency on first use.
func NewSimulateProvider(p pricer.Pricer, logger *zap.Logger) (*SimulateProvider, error) {
	if p == nil {
		return nil, errors.New("pricer is required for SimulateProvider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SimulateProvider{
		logger:   logger,
		pricer:   p,
		fiat:     make(map[string]decimal.Decimal),
		holdings: make(map[string]decimal.Decimal),
	}, nil
}

func (s *SimulateProvider) Buy(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	if req.FiatAmount.LessThanOrEqual(decimal.Zero) {
		return PurchaseResult{}, errors.Errorf("purchase amount must be positive, got %s", req.FiatAmount.String())
	}

	market := pricer.Market{Asset: req.Asset, Quote: quoteFor(req.FiatCurrency)}
	price, err := s.pricer.Price(ctx, market)
	if err != nil {
		return PurchaseResult{}, errors.Wrapf(err, "pricer failed for %s", market.String())
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return PurchaseResult{}, errors.Errorf("non-positive price %s for %s", price.String(), market.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.fiat[req.FiatCurrency]
	if !ok {
		balance = decimal.NewFromInt(defaultFiatBalance)
	}
	if balance.LessThan(req.FiatAmount) {
		return PurchaseResult{}, errors.Errorf("insufficient %s balance: have %s, need %s",
			req.FiatCurrency, balance.String(), req.FiatAmount.String())
	}

	assetAmount := req.FiatAmount.Div(price)
	s.fiat[req.FiatCurrency] = balance.Sub(req.FiatAmount)
	s.holdings[req.Asset] = s.holdings[req.Asset].Add(assetAmount)

	s.logger.Info("simulated purchase filled",
		zap.String("intent_id", req.IntentID),
		zap.String("asset", req.Asset),
		zap.String("price", price.String()),
		zap.String("fiat_amount", req.FiatAmount.String()),
		zap.String("asset_amount", assetAmount.String()),
		zap.String("destination", req.DestinationAddress))

	return PurchaseResult{AssetAmount: assetAmount, FiatSpent: req.FiatAmount, Price: price}, nil
}

// Holdings returns the accumulated amount of an asset.
func (s *SimulateProvider) Holdings(asset string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdings[asset]
}

// Balance returns the remaining fiat balance for a currency.
func (s *SimulateProvider) Balance(currency string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if balance, ok := s.fiat[currency]; ok {
		return balance
	}
	return decimal.NewFromInt(defaultFiatBalance)
}
