package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"workerd/internal/worker"
	"workerd/pkg/types"
)

// State represents the lifecycle state of the manager.
type State string

const (
	StateReady   State = "ready"
	StateLoading State = "loading"
	StateError   State = "error"
)

// model is one loaded model: its resolved worker config and pool.
type model struct {
	info  types.Model
	cfg   worker.Config
	pool  *worker.Pool
	units int // configured pool size (0 for lazily-spawned standalone workers)

	inflight atomic.Int32
	failed   atomic.Int32

	mu       sync.Mutex
	lastUsed time.Time
}

func (md *model) touch() {
	md.mu.Lock()
	md.lastUsed = time.Now()
	md.mu.Unlock()
}

func (md *model) lastUsedUnix() int64 {
	md.mu.Lock()
	defer md.mu.Unlock()
	if md.lastUsed.IsZero() {
		return 0
	}
	return md.lastUsed.Unix()
}
