// Package providers implements the ordered provider fallback chain.
package providers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bobmcallan/marketcache/internal/common"
	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/models"
)

// DefaultTimeout bounds each provider call when none is configured.
const DefaultTimeout = 15 * time.Second

// Option configures a Chain.
type Option func(*Chain)

// WithDataProviders sets the ordered daily price providers.
func WithDataProviders(p ...interfaces.DataProvider) Option {
	return func(c *Chain) { c.daily = append(c.daily, p...) }
}

// WithNewsProviders sets the ordered news providers.
func WithNewsProviders(p ...interfaces.NewsProvider) Option {
	return func(c *Chain) { c.news = append(c.news, p...) }
}

// WithFundamentalsProviders sets the ordered fundamentals providers.
func WithFundamentalsProviders(p ...interfaces.FundamentalsProvider) Option {
	return func(c *Chain) { c.fundamentals = append(c.fundamentals, p...) }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Chain tries providers strictly in order; the first non-empty, non-error
// answer wins. Errors and empty answers are both soft misses.
type Chain struct {
	daily        []interfaces.DataProvider
	news         []interfaces.NewsProvider
	fundamentals []interfaces.FundamentalsProvider
	recorder     interfaces.UsageRecorder
	timeout      time.Duration
	logger       *common.Logger
}

// NewChain creates a chain reporting every attempt to recorder.
func NewChain(logger *common.Logger, recorder interfaces.UsageRecorder, opts ...Option) *Chain {
	c := &Chain{
		recorder: recorder,
		timeout:  DefaultTimeout,
		logger:   logger.WithComponent("chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DataProviders returns the daily provider names in order.
func (c *Chain) DataProviders() []string {
	names := make([]string, len(c.daily))
	for i, p := range c.daily {
		names[i] = p.Name()
	}
	return names
}

// FetchDaily returns bars from the first provider that has any.
func (c *Chain) FetchDaily(ctx context.Context, symbol string, days int) ([]models.EODBar, string, error) {
	return run(ctx, c, symbol, c.DataProviders(), func(ctx context.Context, i int) ([]models.EODBar, int, error) {
		bars, err := c.daily[i].FetchDaily(ctx, symbol, days)
		return bars, len(bars), err
	})
}

// FetchNews returns articles from the first provider that has any.
func (c *Chain) FetchNews(ctx context.Context, symbol string, days int) ([]models.NewsItem, string, error) {
	names := make([]string, len(c.news))
	for i, p := range c.news {
		names[i] = p.Name()
	}
	return run(ctx, c, symbol, names, func(ctx context.Context, i int) ([]models.NewsItem, int, error) {
		items, err := c.news[i].FetchNews(ctx, symbol, days)
		return items, len(items), err
	})
}

// FetchFundamentals returns a statement from the first provider that has one.
func (c *Chain) FetchFundamentals(ctx context.Context, symbol, statement string) (*models.FundamentalsStatement, string, error) {
	names := make([]string, len(c.fundamentals))
	for i, p := range c.fundamentals {
		names[i] = p.Name()
	}
	return run(ctx, c, symbol, names, func(ctx context.Context, i int) (*models.FundamentalsStatement, int, error) {
		stmt, err := c.fundamentals[i].FetchFundamentals(ctx, symbol, statement)
		if stmt == nil {
			return nil, 0, err
		}
		return stmt, len(stmt.Periods) + len(stmt.Profile), err
	})
}

// run is the shared fallback loop: per-call timeout, timing, usage logging.
func run[T any](ctx context.Context, c *Chain, symbol string, names []string, call func(context.Context, int) (T, int, error)) (T, string, error) {
	var zero T
	var errs []error

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		start := time.Now()
		result, n, err := attempt(ctx, c, i, call)
		elapsed := time.Since(start)

		if err == nil && n == 0 {
			err = common.ErrEmptyResult
		}
		success := err == nil
		if c.recorder != nil {
			c.recorder.LogAPICall(name, symbol, success, elapsed, err)
		}

		if success {
			c.logger.Debug().
				Str("provider", name).
				Str("symbol", symbol).
				Int("rows", n).
				Dur("duration", elapsed).
				Msg("Provider fetch succeeded")
			return result, name, nil
		}

		c.logger.Debug().
			Err(err).
			Str("provider", name).
			Str("symbol", symbol).
			Dur("duration", elapsed).
			Msg("Provider miss, trying next")
		errs = append(errs, &common.ProviderError{Provider: name, Symbol: symbol, Err: err})

		// The caller's context ended; the per-call timeout alone does not stop the chain.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
	}

	if len(errs) == 0 {
		return zero, "", fmt.Errorf("%w: no providers configured", common.ErrAllProvidersFailed)
	}
	return zero, "", fmt.Errorf("%w: %w", common.ErrAllProvidersFailed, errors.Join(errs...))
}

type outcome[T any] struct {
	result T
	n      int
	err    error
}

// attempt runs one provider call under the per-call timeout. A provider that
// ignores its context is abandoned when the timeout fires; a panicking
// provider counts as a miss.
func attempt[T any](ctx context.Context, c *Chain, i int, call func(context.Context, int) (T, int, error)) (T, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan outcome[T], 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Provider panicked")
				done <- outcome[T]{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		result, n, err := call(callCtx, i)
		done <- outcome[T]{result: result, n: n, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.n, o.err
	case <-callCtx.Done():
		var zero T
		return zero, 0, callCtx.Err()
	}
}
