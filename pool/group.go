package pool

import (
	"context"
	"sync"
)

// Group joins a set of jobs fanned out on a shared pool. Each branch
// reports its outcome through its own callback; the Group only answers
// "are they all done yet", so an abandoned Wait leaks nothing.
type Group struct {
	pool *Pool
	wg   sync.WaitGroup
}

// Group returns an empty join handle bound to the pool.
func (p *Pool) Group() *Group {
	return &Group{pool: p}
}

// Go schedules fn on the pool. When the pool is closed or ctx ends
// before a queue slot frees up, fn runs inline on the caller so the
// join still completes and the branch outcome is still reported.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error, onErr func(error)) {
	g.wg.Add(1)
	job := &Job{
		Name: name,
		Execute: func(jctx context.Context) error {
			defer g.wg.Done()
			return fn(jctx)
		},
		OnError: onErr,
	}
	if err := g.pool.Submit(ctx, job); err != nil {
		g.pool.run(ctx, job)
	}
}

// Wait blocks until every scheduled branch finished or ctx ends.
// Branches keep running to completion after a deadline; only the join
// gives up.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
