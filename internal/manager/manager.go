package manager

import (
	"os"
	"strings"
	"sync"
	"time"

	"workerd/internal/worker"
	"workerd/pkg/types"
)

// Manager resolves model configurations into runnable worker pools and
// fronts prediction dispatch for every loaded model.
type Manager struct {
	mu           sync.RWMutex
	state        State
	lastErr      string
	registry     []types.Model
	models       map[string]*model
	deviceBudget int
	defaultModel string
	options      map[string]string
	publisher    worker.EventPublisher
	startTime    time.Time
	closed       bool
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry     []types.Model
	DefaultModel string
	// DeviceBudget is the number of accelerator devices available for
	// workers. 0 falls back to counting CUDA_VISIBLE_DEVICES.
	DeviceBudget int
	// Options are server-wide defaults merged under per-load options.
	Options   map[string]string
	Publisher worker.EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:        StateReady,
		registry:     cfg.Registry,
		models:       make(map[string]*model),
		deviceBudget: cfg.DeviceBudget,
		defaultModel: cfg.DefaultModel,
		options:      cfg.Options,
		publisher:    cfg.Publisher,
		startTime:    time.Now(),
	}
	if m.publisher == nil {
		m.publisher = worker.NoopPublisher{}
	}
	if m.deviceBudget <= 0 {
		m.deviceBudget = visibleDevices()
	}
	return m
}

// visibleDevices counts devices advertised via CUDA_VISIBLE_DEVICES.
func visibleDevices() int {
	v := strings.TrimSpace(os.Getenv("CUDA_VISIBLE_DEVICES"))
	if v == "" || v == "-1" {
		return 0
	}
	return len(strings.Split(v, ","))
}

// Ready reports whether at least one model pool is loaded and the manager
// is not in an error state.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != StateError && len(m.models) > 0
}

// ListModels returns a copy of the registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// DefaultModel returns the configured default model id.
func (m *Manager) DefaultModel() string { return m.defaultModel }

func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

func (m *Manager) getLoaded(id string) (*model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.models[id]
	return md, ok
}

// resolveModelID applies the default when the request omits a model.
func (m *Manager) resolveModelID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if m.defaultModel != "" {
		return m.defaultModel, nil
	}
	return "", ErrModelNotFound("(unspecified)")
}

// Status returns a read-only projection of the manager state.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		DeviceBudget:   m.deviceBudget,
		State:          string(m.state),
		LastError:      m.lastErr,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	for _, md := range m.models {
		resp.Pools = append(resp.Pools, types.PoolStatus{
			ModelID:  md.info.ID,
			Degree:   md.cfg.Degree,
			Queued:   md.pool.Len(),
			Inflight: int(md.inflight.Load()),
			Failed:   int(md.failed.Load()),
			LastUsed: md.lastUsedUnix(),
		})
	}
	return resp
}

func (m *Manager) setError(msg string) {
	m.mu.Lock()
	m.state = StateError
	m.lastErr = msg
	m.mu.Unlock()
}
