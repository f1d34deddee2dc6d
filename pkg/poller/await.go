package poller

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// AwaitAll waits for every handle and returns their outcomes in argument
// order. The only error is ctx ending first; failed sessions are reported
// through their Outcome.
func AwaitAll(ctx context.Context, handles ...*Handle) ([]Outcome, error) {
	outcomes := make([]Outcome, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			out, err := h.Wait(gctx)
			outcomes[i] = out
			return err
		})
	}
	err := g.Wait()
	return outcomes, err
}

// AllSucceeded reports whether every outcome finished successfully.
func AllSucceeded(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Succeeded {
			return false
		}
	}
	return true
}
