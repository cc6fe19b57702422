package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CryptoName is the provider key of [Crypto].
const CryptoName = "crypto"

// Crypto fetches asset prices from a CoinGecko style API:
// GET {BaseURL}/simple/price?ids=bitcoin&vs_currencies=usd&include_last_updated_at=true.
//
// Params.Base is a ticker (BTC) or a provider asset id (bitcoin).
type Crypto struct {
	cfg HTTPConfig
	ids map[string]string
}

// DefaultAssetIDs maps common tickers to CoinGecko asset ids.
var DefaultAssetIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"USDT": "tether",
	"USDC": "usd-coin",
}

// NewCrypto returns a crypto fetcher. A nil ids map uses [DefaultAssetIDs].
func NewCrypto(cfg HTTPConfig, ids map[string]string) *Crypto {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if ids == nil {
		ids = DefaultAssetIDs
	}
	return &Crypto{cfg: cfg, ids: ids}
}

func (c *Crypto) Name() string { return CryptoName }

func (c *Crypto) FetchLatest(ctx context.Context, params Params) (Quote, error) {
	params, err := params.normalized()
	if err != nil {
		return Quote{}, err
	}
	id, ok := c.ids[params.Base]
	if !ok {
		id = strings.ToLower(params.Base)
	}
	vs := strings.ToLower(params.Symbol)

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", vs)
	query.Set("include_last_updated_at", "true")
	var header http.Header
	if c.cfg.APIKey != "" {
		header = http.Header{"X-Cg-Demo-Api-Key": []string{c.cfg.APIKey}}
	}

	var body map[string]map[string]decimal.Decimal
	if err := getJSON(ctx, c.cfg.client(), c.cfg.BaseURL+"/simple/price", query, header, &body); err != nil {
		return Quote{}, err
	}
	prices, ok := body[id]
	if !ok {
		return Quote{}, ErrUnknownSymbol
	}
	rate, ok := prices[vs]
	if !ok || !rate.IsPositive() {
		return Quote{}, ErrUnknownSymbol
	}

	asOf := c.cfg.now()
	if ts, ok := prices["last_updated_at"]; ok && ts.IsPositive() {
		asOf = time.Unix(ts.IntPart(), 0).UTC()
	}
	return Quote{Provider: CryptoName, Base: params.Base, Symbol: params.Symbol, Rate: rate, AsOf: asOf}, nil
}
