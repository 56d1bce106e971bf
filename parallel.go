package libcluster

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// eachGroup fans fn out over the groups on a pool bounded by the
// configured thread count. Waiting on the group is the barrier between
// the per-group phases and the pooled M-step.
func (m *model) eachGroup(ctx context.Context, fn func(j int) error) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Threads)

	for j := range m.groups {
		j := j
		g.Go(func() error {
			return fn(j)
		})
	}

	return g.Wait()
}
