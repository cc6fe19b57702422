package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidParams is returned for an empty base or symbol.
	ErrInvalidParams = errors.New("provider: base and symbol are required")
	// ErrUnknownSymbol is returned when the provider has no rate for the
	// requested pair. It is not retryable.
	ErrUnknownSymbol = errors.New("provider: unknown symbol")
)

// Params selects a rate. Base is the currency or asset being priced,
// Symbol the currency it is priced in.
type Params struct {
	Base   string
	Symbol string
}

func (p Params) normalized() (Params, error) {
	p.Base = strings.ToUpper(strings.TrimSpace(p.Base))
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Base == "" || p.Symbol == "" {
		return p, ErrInvalidParams
	}
	return p, nil
}

// Quote is one rate observation.
type Quote struct {
	Provider string          `json:"provider"`
	Base     string          `json:"base"`
	Symbol   string          `json:"symbol"`
	Rate     decimal.Decimal `json:"rate"`
	AsOf     time.Time       `json:"as_of"`
}

// Fetcher is implemented by every rate source.
type Fetcher interface {
	// Name is the provider key used for budgets and circuits.
	Name() string
	FetchLatest(ctx context.Context, params Params) (Quote, error)
}

// Caller runs a provider call under the external guard. *fingate.Engine
// implements it.
type Caller interface {
	CallProvider(ctx context.Context, provider string, fn func(context.Context) error) error
}

// Guarded is a [Fetcher] whose calls go through a [Caller].
type Guarded struct {
	fetcher Fetcher
	caller  Caller
}

// NewGuarded wraps fetcher so every FetchLatest runs through caller.
func NewGuarded(fetcher Fetcher, caller Caller) *Guarded {
	return &Guarded{fetcher: fetcher, caller: caller}
}

func (g *Guarded) Name() string {
	return g.fetcher.Name()
}

// FetchLatest validates params before spending any budget, then delegates
// to the wrapped fetcher under the guard.
func (g *Guarded) FetchLatest(ctx context.Context, params Params) (Quote, error) {
	params, err := params.normalized()
	if err != nil {
		return Quote{}, err
	}

	var quote Quote
	err = g.caller.CallProvider(ctx, g.fetcher.Name(), func(ctx context.Context) error {
		q, err := g.fetcher.FetchLatest(ctx, params)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	return quote, nil
}
