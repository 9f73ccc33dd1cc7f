package manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"workerd/internal/registry"
	"workerd/internal/worker"
)

// Load resolves options into a worker pool for modelID. For tensor-parallel
// models the pool is sized from the device budget and warmed eagerly,
// failing fast as a whole if any unit fails to start. Non-parallel models
// load lazily: their standalone workers are spawned on first predict.
// Load either fully succeeds or fully fails with a diagnosable cause.
func (m *Manager) Load(ctx context.Context, modelID string, options map[string]string) error {
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return err
	}
	if _, ok := m.getLoaded(id); ok {
		return nil
	}
	info, ok := m.getModelByID(id)
	if !ok {
		return ErrModelNotFound(id)
	}

	merged := make(map[string]string, len(m.options)+len(options))
	for k, v := range m.options {
		merged[k] = v
	}
	for k, v := range options {
		merged[k] = v
	}
	cfg, err := worker.ParseOptions(merged)
	if err != nil {
		m.setError(err.Error())
		return err
	}
	if cfg.S3URL != "" {
		if err := m.downloadArtifacts(ctx, &cfg, info.Path); err != nil {
			m.setError(err.Error())
			return err
		}
	}
	if cfg.EntryPoint == "" {
		cfg.EntryPoint = info.EntryPoint
	}
	if cfg.EntryPoint == "" {
		err := worker.ErrConfiguration("no entry point found in " + info.Path)
		m.setError(err.Error())
		return err
	}

	md := &model{info: info, cfg: cfg, pool: worker.NewPool(id)}
	if cfg.Parallel {
		if err := m.loadParallel(md); err != nil {
			m.setError(err.Error())
			return err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		md.pool.Drain()
		return worker.ErrUnavailable("manager is closed")
	}
	if _, ok := m.models[id]; ok {
		// A concurrent load registered first; this attempt's warm units
		// must not leak.
		m.mu.Unlock()
		md.pool.Drain()
		return nil
	}
	m.models[id] = md
	m.state = StateReady
	m.lastErr = ""
	m.mu.Unlock()
	m.publisher.Publish(worker.Event{Name: "model_load", ModelID: id, Fields: map[string]any{"degree": md.cfg.Degree, "units": md.units}})
	return nil
}

// loadParallel resolves the parallelism degree and pool size, then warms
// every group. Degree comes from configuration or from counting shard
// artifacts on disk.
func (m *Manager) loadParallel(md *model) error {
	cfg := &md.cfg
	if cfg.Degree == 0 {
		shards, err := registry.CountShards(md.info.Path)
		if err != nil {
			return err
		}
		if shards == 0 {
			return worker.ErrConfiguration("tensor parallel degree not set and no " + registry.ShardPrefix + "* artifacts found in " + md.info.Path)
		}
		cfg.Degree = shards
	}
	log.Printf("engine=manager event=parallel_load model=%q degree=%d", md.info.ID, cfg.Degree)

	units := m.deviceBudget / cfg.Degree
	if units <= 0 {
		return worker.ErrInsufficientResources(fmt.Sprintf(
			"devices are not enough to run %d partitions (budget %d)", cfg.Degree, m.deviceBudget))
	}
	if cfg.MaxWorkers > 0 {
		if units < cfg.MaxWorkers {
			return worker.ErrInsufficientResources(fmt.Sprintf(
				"can only expand to %d workers but max_workers is %d", units, cfg.MaxWorkers))
		}
		units = cfg.MaxWorkers
	}
	if cfg.MinWorkers > units {
		return worker.ErrInsufficientResources(fmt.Sprintf(
			"min_workers %d exceeds the %d units the device budget allows", cfg.MinWorkers, units))
	}
	md.units = units
	return m.warmUp(md, units)
}

// warmUp starts `units` groups, concurrently when parallel loading is
// configured, joining on all of them. Any failure tears down every group
// that did start and propagates the first cause: a pool is never left half
// initialized.
func (m *Manager) warmUp(md *model, units int) error {
	begin := time.Now()
	groups := make([]*worker.Group, units)
	for i := range groups {
		groups[i] = worker.NewGroup(md.info.ID, md.info.Path, md.cfg)
		groups[i].SetPublisher(m.publisher)
	}

	var firstErr error
	if md.cfg.ParallelLoading {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, g := range groups {
			wg.Add(1)
			go func(g *worker.Group) {
				defer wg.Done()
				if err := g.Start(md.cfg.LoadTimeout); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}(g)
		}
		wg.Wait()
	} else {
		for _, g := range groups {
			if err := g.Start(md.cfg.LoadTimeout); err != nil {
				firstErr = err
				break
			}
		}
	}
	if firstErr != nil {
		for _, g := range groups {
			g.Stop()
		}
		m.publisher.Publish(worker.Event{Name: "warmup_failed", ModelID: md.info.ID, Fields: map[string]any{"error": firstErr.Error()}})
		return firstErr
	}
	for _, g := range groups {
		md.pool.Offer(g)
	}
	log.Printf("engine=manager event=warm model=%q units=%d dur=%s", md.info.ID, units, time.Since(begin))
	return nil
}

// AcquirePredictor binds a fresh predictor to the model's pool. For
// non-parallel models the predictor spawns a standalone worker on demand;
// after a discard the next acquire respawns lazily.
func (m *Manager) AcquirePredictor(modelID string) (*worker.Predictor, error) {
	id, err := m.resolveModelID(modelID)
	if err != nil {
		return nil, err
	}
	md, ok := m.getLoaded(id)
	if !ok {
		if _, known := m.getModelByID(id); !known {
			return nil, ErrModelNotFound(id)
		}
		return nil, ErrNotLoaded(id)
	}
	var spawn func() (worker.Unit, error)
	if !md.cfg.Parallel {
		spawn = func() (worker.Unit, error) {
			w := worker.NewWorker(md.info.ID, md.info.Path, md.cfg, worker.StandaloneRank)
			w.SetPublisher(m.publisher)
			if err := w.Start(md.cfg.LoadTimeout); err != nil {
				return nil, err
			}
			return w, nil
		}
	}
	return worker.NewPredictor(md.info.ID, md.pool, spawn, md.cfg.PredictTimeout), nil
}

// Unload drains and forgets one model. Idempotent; a no-op for ids that
// were never loaded.
func (m *Manager) Unload(modelID string) {
	m.mu.Lock()
	md, ok := m.models[modelID]
	delete(m.models, modelID)
	m.mu.Unlock()
	if !ok {
		return
	}
	md.pool.Drain()
	m.publisher.Publish(worker.Event{Name: "model_unload", ModelID: modelID, Fields: map[string]any{}})
}

// Close drains every pool and stops every unit. Idempotent; failures while
// stopping already-dead units are logged, not re-raised (Stop is
// best-effort by construction).
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	models := m.models
	m.models = make(map[string]*model)
	m.mu.Unlock()
	for id, md := range models {
		md.pool.Drain()
		log.Printf("engine=manager event=drain model=%q", id)
	}
}
