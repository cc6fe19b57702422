package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FXName is the provider key of [FX].
const FXName = "fx"

// FX fetches fiat exchange rates from an exchangerate-host style API:
// GET {BaseURL}/latest?base=USD&symbols=EUR.
type FX struct {
	cfg HTTPConfig
}

func NewFX(cfg HTTPConfig) *FX {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &FX{cfg: cfg}
}

func (f *FX) Name() string { return FXName }

type fxResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (f *FX) FetchLatest(ctx context.Context, params Params) (Quote, error) {
	params, err := params.normalized()
	if err != nil {
		return Quote{}, err
	}

	query := url.Values{}
	query.Set("base", params.Base)
	query.Set("symbols", params.Symbol)
	var header http.Header
	if f.cfg.APIKey != "" {
		header = http.Header{"Apikey": []string{f.cfg.APIKey}}
	}

	var body fxResponse
	if err := getJSON(ctx, f.cfg.client(), f.cfg.BaseURL+"/latest", query, header, &body); err != nil {
		return Quote{}, err
	}
	rate, ok := body.Rates[params.Symbol]
	if !ok || !rate.IsPositive() {
		return Quote{}, ErrUnknownSymbol
	}

	asOf := f.cfg.now()
	if d, err := time.Parse(time.DateOnly, body.Date); err == nil {
		asOf = d
	}
	return Quote{Provider: FXName, Base: params.Base, Symbol: params.Symbol, Rate: rate, AsOf: asOf}, nil
}
