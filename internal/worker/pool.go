package worker

import (
	"sync"
	"time"
)

// Unit is one allocation unit: a standalone worker or a ranked group.
// Ownership of a unit moves out of the pool queue into exactly one
// predictor at a time and returns only via Release.
type Unit interface {
	Start(timeout time.Duration) error
	Send(env Envelope) error
	Receive(timeout time.Duration) (Envelope, error)
	Stop()
	Alive() bool
	Describe() string
}

// Pool is the FIFO queue of interchangeable allocation units for one model.
// Queue membership is disjoint from "currently dispatched": TryAcquire
// removes a unit and nothing puts it back except an explicit Release.
type Pool struct {
	modelID string

	mu     sync.Mutex
	queue  []Unit
	closed bool
}

// NewPool returns an empty pool for the given model.
func NewPool(modelID string) *Pool {
	return &Pool{modelID: modelID}
}

// Offer appends a unit to the back of the queue (used during warm-up and by
// Release). A unit offered to a drained pool is stopped instead: an in-flight
// exchange may outlive Unload, and its unit must not survive in a queue
// nothing will ever acquire from again.
func (p *Pool) Offer(u Unit) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		u.Stop()
		return
	}
	p.queue = append(p.queue, u)
	n := len(p.queue)
	p.mu.Unlock()
	poolQueued.WithLabelValues(p.modelID).Set(float64(n))
}

// TryAcquire pops one unit from the front of the queue. Non-blocking;
// returns ErrPoolEmpty when nothing is queued.
func (p *Pool) TryAcquire() (Unit, error) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil, ErrPoolEmpty
	}
	u := p.queue[0]
	p.queue = p.queue[1:]
	n := len(p.queue)
	p.mu.Unlock()
	poolQueued.WithLabelValues(p.modelID).Set(float64(n))
	return u, nil
}

// Release returns a still-usable unit to the back of the queue. A dead unit
// is stopped and dropped, never requeued.
func (p *Pool) Release(u Unit) {
	if u == nil {
		return
	}
	if !u.Alive() {
		u.Stop()
		return
	}
	p.Offer(u)
}

// Drain closes the pool, removing and stopping every queued unit.
// Idempotent; used at model close. Late releases from still-running
// exchanges stop their unit on arrival.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.closed = true
	units := p.queue
	p.queue = nil
	p.mu.Unlock()
	for _, u := range units {
		u.Stop()
	}
	poolQueued.WithLabelValues(p.modelID).Set(0)
}

// Len returns the number of queued (idle) units.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
