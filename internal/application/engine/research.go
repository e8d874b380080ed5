package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// gathered is everything fetched for one candidate before the decision.
type gathered struct {
	research   domain.ResearchResult
	conviction domain.ConvictionSignal
	hasSignal  bool
	books      map[domain.Side]domain.OrderBook
}

// depth returns the visible ask depth for the held side, 0 when unknown.
func (g gathered) depth(side domain.Side) float64 {
	book, ok := g.books[side]
	if !ok {
		return 0
	}
	return book.AskDepthUSDC()
}

// gather runs research, conviction and both order book fetches concurrently
// and joins them. Only a research failure fails the candidate.
func (e *Engine) gather(ctx context.Context, m domain.MarketSnapshot) (gathered, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ResearchTimeout)
	defer cancel()

	out := gathered{books: make(map[domain.Side]domain.OrderBook, 2)}
	var booksMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return recovered("research", func() error {
			r, err := e.deps.Researcher.Research(gctx, m)
			if err != nil {
				return fmt.Errorf("research: %w", err)
			}
			out.research = r
			return nil
		})
	})

	// Conviction and books are optional: failures, panics included, leave
	// them empty.
	if e.deps.Conviction != nil {
		g.Go(func() error {
			err := recovered("conviction", func() error {
				sig, ok, err := e.deps.Conviction.Conviction(gctx, m.ID)
				if err != nil {
					return err
				}
				out.conviction, out.hasSignal = sig, ok
				return nil
			})
			if err != nil {
				slog.Debug("engine: conviction unavailable", "market", m.ID, "err", err)
			}
			return nil
		})
	}

	if e.deps.Books != nil {
		for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
			tokenID := m.TokenFor(side).TokenID
			if tokenID == "" {
				continue
			}
			g.Go(func() error {
				err := recovered("order book", func() error {
					book, err := e.deps.Books.FetchOrderBook(gctx, tokenID)
					if err != nil {
						return err
					}
					booksMu.Lock()
					out.books[side] = book
					booksMu.Unlock()
					return nil
				})
				if err != nil {
					slog.Debug("engine: order book unavailable", "market", m.ID, "token", tokenID, "err", err)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return gathered{}, err
	}
	return out, nil
}

// recovered runs fn and turns a panic into an error.
func recovered(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("engine: collaborator panic", "call", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s: %w: %v", name, errPanic, r)
		}
	}()
	return fn()
}

// applyConviction nudges the model probability toward the side smart money
// holds, by at most maxBoost.
func applyConviction(model float64, sig domain.ConvictionSignal, maxBoost float64) float64 {
	if maxBoost <= 0 {
		return model
	}
	boost := maxBoost * domain.Clamp(sig.Strength, 0, 1)
	if sig.Direction == domain.SideNo {
		boost = -boost
	}
	return domain.Clamp(model+boost, 0.01, 0.99)
}
