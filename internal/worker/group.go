package worker

import (
	"fmt"
	"sync"
	"time"
)

// Group treats N ranked workers as one schedulable unit for tensor-parallel
// execution. Requests are addressed to rank 0; the other ranks coordinate
// among themselves out of band and their failures surface as rank-0
// failures. Death of any member marks the whole group dead.
type Group struct {
	modelID  string
	workers  []*Worker
	parallel bool
}

// NewGroup constructs an unstarted group of cfg.Degree ranked workers.
func NewGroup(modelID, dir string, cfg Config) *Group {
	workers := make([]*Worker, cfg.Degree)
	for rank := range workers {
		workers[rank] = NewWorker(modelID, dir, cfg, rank)
	}
	return &Group{modelID: modelID, workers: workers, parallel: cfg.ParallelLoading}
}

// SetPublisher installs an EventPublisher on every member.
func (g *Group) SetPublisher(p EventPublisher) {
	for _, w := range g.workers {
		w.SetPublisher(p)
	}
}

// Size returns the group's parallelism degree.
func (g *Group) Size() int { return len(g.workers) }

// Describe returns a short identity string for logs.
func (g *Group) Describe() string {
	return fmt.Sprintf("group[%s size=%d]", g.modelID, len(g.workers))
}

// Start launches every member, concurrently when parallel loading is
// configured, and waits for all of them. If any member fails, the members
// that did start are stopped and the first failure is returned: a partial
// group is never left schedulable.
func (g *Group) Start(timeout time.Duration) error {
	if len(g.workers) == 0 {
		return ErrConfiguration("group has no members")
	}
	if !g.parallel {
		for i, w := range g.workers {
			if err := w.Start(timeout); err != nil {
				for _, started := range g.workers[:i] {
					started.Stop()
				}
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, w := range g.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Start(timeout); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	if firstErr != nil {
		g.Stop()
		return firstErr
	}
	return nil
}

// Send transmits a request to the rank-0 member.
func (g *Group) Send(env Envelope) error {
	if !g.Alive() {
		return ErrUnavailable("group not ready: " + g.Describe())
	}
	return g.workers[0].Send(env)
}

// Receive collects the aggregated reply from the rank-0 member.
func (g *Group) Receive(timeout time.Duration) (Envelope, error) {
	env, err := g.workers[0].Receive(timeout)
	if err != nil && IsTransport(err) {
		// The whole group is unusable once any member dies.
		g.Stop()
	}
	return env, err
}

// Alive reports whether every member can still serve requests.
func (g *Group) Alive() bool {
	for _, w := range g.workers {
		if !w.Alive() {
			return false
		}
	}
	return true
}

// Stop terminates every member. Idempotent.
func (g *Group) Stop() {
	for _, w := range g.workers {
		w.Stop()
	}
}
