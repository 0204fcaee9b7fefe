package market

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/marketcache/internal/interfaces"
	"github.com/bobmcallan/marketcache/internal/models"
	"github.com/bobmcallan/marketcache/internal/usage"
)

// BatchGetStockData runs GetStockData for each distinct symbol on a pool of
// s.workers goroutines. One symbol's failure or panic never affects the
// others. Symbols not started before ctx ends get ctx.Err().
//
// Results are keyed by the caller's spelling. Inputs that normalise to the
// same ticker ("aapl", "AAPL ") share one fetch and each get an entry.
func (s *Service) BatchGetStockData(ctx context.Context, symbols []string, days int, includeLive bool) map[string]interfaces.BatchResult {
	aliases := make(map[string][]string, len(symbols))
	var order []string
	for _, raw := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if _, ok := aliases[sym]; !ok {
			order = append(order, sym)
		}
		if !slices.Contains(aliases[sym], raw) {
			aliases[sym] = append(aliases[sym], raw)
		}
	}

	byTicker := make(map[string]interfaces.BatchResult, len(order))
	var mu sync.Mutex
	set := func(sym string, r interfaces.BatchResult) {
		mu.Lock()
		byTicker[sym] = r
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, sym := range order {
		if err := ctx.Err(); err != nil {
			set(sym, interfaces.BatchResult{Err: err})
			continue
		}

		sym := sym
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Str("symbol", sym).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(debug.Stack())).
						Msg("Batch worker panicked")
					s.usage.LogError(usage.KindPanic, fmt.Sprintf("%v", r), sym)
					set(sym, interfaces.BatchResult{Err: fmt.Errorf("panic fetching %s: %v", sym, r)})
				}
			}()

			if err := ctx.Err(); err != nil {
				set(sym, interfaces.BatchResult{Err: err})
				return nil
			}
			data, err := s.GetStockData(ctx, sym, days, includeLive)
			set(sym, interfaces.BatchResult{Data: data, Err: err})
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]interfaces.BatchResult, len(symbols))
	ok := 0
	for _, sym := range order {
		r := byTicker[sym]
		if r.Err == nil {
			ok++
		}
		for i, raw := range aliases[sym] {
			if i > 0 && r.Data != nil {
				// each alias gets its own copy of the bars
				data := *r.Data
				data.Bars = models.CloneBars(r.Data.Bars)
				results[raw] = interfaces.BatchResult{Data: &data, Err: r.Err}
				continue
			}
			results[raw] = r
		}
	}
	s.logger.Info().
		Int("symbols", len(order)).
		Int("inputs", len(results)).
		Int("succeeded", ok).
		Int("failed", len(order)-ok).
		Int("workers", s.workers).
		Msg("Batch complete")

	return results
}
