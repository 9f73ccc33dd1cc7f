package worker

import (
	"log"
	"sync"
	"time"
)

// Predictor binds one caller session to one allocation unit for the
// duration of a (possibly streamed) request/response exchange. It enforces
// the per-call timeout and never retries a failed call: transport failures
// discard the unit and surface to the caller.
type Predictor struct {
	modelID string
	pool    *Pool
	spawn   func() (Unit, error)
	timeout time.Duration

	mu   sync.Mutex
	unit Unit
}

// NewPredictor builds a predictor over pool. spawn, when non-nil, lazily
// creates a standalone unit on demand (the non-parallel model case); for
// parallel pools it is nil and an empty pool means every unit is busy.
func NewPredictor(modelID string, pool *Pool, spawn func() (Unit, error), timeout time.Duration) *Predictor {
	return &Predictor{modelID: modelID, pool: pool, spawn: spawn, timeout: timeout}
}

// bind acquires a unit if the predictor is not already holding one.
func (p *Predictor) bind() (Unit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unit != nil {
		return p.unit, nil
	}
	u, err := p.pool.TryAcquire()
	if err != nil {
		if !IsPoolEmpty(err) {
			return nil, err
		}
		if p.spawn == nil {
			return nil, ErrUnavailable("no idle worker unit for model " + p.modelID)
		}
		u, err = p.spawn()
		if err != nil {
			workerStartsTotal.WithLabelValues(p.modelID, "error").Inc()
			return nil, err
		}
		workerStartsTotal.WithLabelValues(p.modelID, "ok").Inc()
	}
	p.unit = u
	unitsInflight.WithLabelValues(p.modelID).Inc()
	return u, nil
}

// release returns the bound unit to the pool after a clean exchange.
func (p *Predictor) release() {
	p.mu.Lock()
	u := p.unit
	p.unit = nil
	p.mu.Unlock()
	if u == nil {
		return
	}
	unitsInflight.WithLabelValues(p.modelID).Dec()
	p.pool.Release(u)
}

// discard drops the bound unit after a transport failure. The unit is never
// requeued; for non-parallel models a fresh one is spawned on the next call.
func (p *Predictor) discard(err error) {
	p.mu.Lock()
	u := p.unit
	p.unit = nil
	p.mu.Unlock()
	if u == nil {
		return
	}
	unitsInflight.WithLabelValues(p.modelID).Dec()
	workerFailuresTotal.WithLabelValues(p.modelID, failureReason(err)).Inc()
	log.Printf("engine=predictor event=discard model=%q unit=%s err=%v", p.modelID, u.Describe(), err)
	u.Stop()
}

// Predict performs one synchronous exchange. On success the unit returns to
// the pool; a transport failure discards it and surfaces the classified
// error. A handler-raised failure comes back as an application error with
// the unit kept alive.
func (p *Predictor) Predict(req Envelope) (Envelope, error) {
	start := time.Now()
	u, err := p.bind()
	if err != nil {
		return Envelope{}, err
	}
	if err := u.Send(req); err != nil {
		p.discard(err)
		predictsTotal.WithLabelValues(p.modelID, "transport_error").Inc()
		return Envelope{}, err
	}

	// A sync exchange normally yields one terminal frame; a worker that
	// streams anyway has its chunks folded back into one reply.
	var chunks []byte
	for {
		env, err := u.Receive(p.timeout)
		if err != nil {
			p.discard(err)
			predictsTotal.WithLabelValues(p.modelID, "transport_error").Inc()
			return Envelope{}, err
		}
		if env.Chunk != "" {
			chunks = append(chunks, env.Chunk...)
		}
		if !env.Terminal() {
			continue
		}
		if len(chunks) > 0 && len(env.Output) == 0 {
			env.Chunk = string(chunks)
		}
		p.release()
		predictDuration.WithLabelValues(p.modelID).Observe(time.Since(start).Seconds())
		if env.OK() {
			predictsTotal.WithLabelValues(p.modelID, "ok").Inc()
		} else {
			predictsTotal.WithLabelValues(p.modelID, "app_error").Inc()
		}
		return env, nil
	}
}

// PredictStream performs one streamed exchange. The cursor is returned as
// soon as the first frame arrives; subsequent chunks are appended in worker
// production order by a reader goroutine. The unit is released only when
// the terminal marker lands, or discarded on a transport failure.
func (p *Predictor) PredictStream(req Envelope) (*StreamCursor, error) {
	req.Stream = true
	u, err := p.bind()
	if err != nil {
		return nil, err
	}
	if err := u.Send(req); err != nil {
		p.discard(err)
		predictsTotal.WithLabelValues(p.modelID, "transport_error").Inc()
		return nil, err
	}

	first, err := u.Receive(p.timeout)
	if err != nil {
		p.discard(err)
		predictsTotal.WithLabelValues(p.modelID, "transport_error").Inc()
		return nil, err
	}

	cursor := NewStreamCursor()
	p.consume(cursor, first)
	if first.Terminal() {
		p.finish(cursor, first)
		return cursor, nil
	}

	go func() {
		for {
			env, err := u.Receive(p.timeout)
			if err != nil {
				cursor.close(err)
				p.discard(err)
				predictsTotal.WithLabelValues(p.modelID, "transport_error").Inc()
				return
			}
			p.consume(cursor, env)
			if env.Terminal() {
				p.finish(cursor, env)
				return
			}
		}
	}()
	return cursor, nil
}

func (p *Predictor) consume(cursor *StreamCursor, env Envelope) {
	if env.Chunk != "" {
		cursor.append([]byte(env.Chunk))
	} else if len(env.Output) > 0 && env.OK() {
		cursor.append([]byte(env.Output))
	}
}

func (p *Predictor) finish(cursor *StreamCursor, last Envelope) {
	if last.OK() {
		cursor.close(nil)
		predictsTotal.WithLabelValues(p.modelID, "ok").Inc()
	} else {
		cursor.close(ErrApplication(last.Code, last.Message))
		predictsTotal.WithLabelValues(p.modelID, "app_error").Inc()
	}
	p.release()
}

// Close releases a still-bound unit back to the pool. Used when a caller
// abandons the predictor between calls.
func (p *Predictor) Close() {
	p.release()
}
