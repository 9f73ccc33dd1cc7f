package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// State represents the lifecycle state of a worker handle.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateBusy     State = "busy"
	StateDead     State = "dead"
)

// StandaloneRank marks a worker that is not part of a ranked group.
const StandaloneRank = -1

// stopGrace bounds the SIGTERM-to-SIGKILL window during Stop.
const stopGrace = 2 * time.Second

// stderrTailCap bounds the captured diagnostics kept per worker.
const stderrTailCap = 4096

// oomPatterns upgrade a crash classification to out-of-memory when matched
// against the captured stderr tail.
var oomPatterns = []string{
	"out of memory",
	"outofmemoryerror",
	"cuda error: out of memory",
	"oom-kill",
	"cannot allocate memory",
}

// Worker owns exactly one external worker process and its framed
// request/response channel over stdin/stdout. At most one request is in
// flight on a worker at a time; a handle is never shared across callers.
type Worker struct {
	modelID string
	dir     string
	cfg     Config
	rank    int

	mu      sync.Mutex
	state   State
	stopped bool
	cmd     *exec.Cmd
	stdin   *json.Encoder
	closer  func() error
	pid     int

	replies  chan Envelope
	exitDone chan struct{}
	exitErr  error
	stderr   *tailBuffer

	publisher EventPublisher
}

// NewWorker constructs an unstarted handle. rank is StandaloneRank for a
// non-grouped worker, or the rank within a tensor-parallel group.
func NewWorker(modelID, dir string, cfg Config, rank int) *Worker {
	return &Worker{
		modelID:   modelID,
		dir:       dir,
		cfg:       cfg,
		rank:      rank,
		state:     StateCreated,
		stderr:    &tailBuffer{cap: stderrTailCap},
		publisher: NoopPublisher{},
	}
}

// SetPublisher installs an EventPublisher for lifecycle events.
func (w *Worker) SetPublisher(p EventPublisher) {
	if p == nil {
		w.publisher = NoopPublisher{}
		return
	}
	w.publisher = p
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Rank returns the worker's group rank, or StandaloneRank.
func (w *Worker) Rank() int { return w.rank }

// PID returns the process id once started (0 before).
func (w *Worker) PID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

// Alive reports whether the worker can still serve requests.
func (w *Worker) Alive() bool {
	s := w.State()
	return s == StateReady || s == StateBusy
}

// Describe returns a short identity string for logs.
func (w *Worker) Describe() string {
	return fmt.Sprintf("worker[%s rank=%d pid=%d]", w.modelID, w.rank, w.PID())
}

// Start launches the worker process, performs the load handshake, and blocks
// until the worker reports ready or timeout elapses. On timeout or launch
// failure the handle is Dead and a startup-classified error is returned.
func (w *Worker) Start(timeout time.Duration) error {
	w.mu.Lock()
	if w.state != StateCreated {
		state := w.state
		w.mu.Unlock()
		return ErrUnavailable("worker already started: state=" + string(state))
	}
	w.state = StateStarting
	w.mu.Unlock()

	entry := w.cfg.EntryPoint
	if entry != "" && !filepath.IsAbs(entry) {
		entry = filepath.Join(w.dir, entry)
	}
	cmd := exec.Command(w.cfg.Executable, entry)
	cmd.Dir = w.dir
	cmd.Env = w.environ()
	cmd.Stderr = w.stderr
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		w.markDead()
		return ErrStartup("open worker stdin", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		w.markDead()
		return ErrStartup("open worker stdout", err)
	}
	if err := cmd.Start(); err != nil {
		w.markDead()
		return ErrStartup("start worker process", err)
	}

	replies := make(chan Envelope, 16)
	exitDone := make(chan struct{})

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = json.NewEncoder(stdinPipe)
	w.closer = stdinPipe.Close
	w.pid = cmd.Process.Pid
	w.replies = replies
	w.exitDone = exitDone
	w.mu.Unlock()

	log.Printf("engine=worker event=start model=%q rank=%d pid=%d", w.modelID, w.rank, cmd.Process.Pid)
	w.publisher.Publish(Event{Name: "worker_start", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": cmd.Process.Pid}})

	// Reply pump: one JSON frame per stdout line.
	go func() {
		defer close(replies)
		sc := bufio.NewScanner(stdoutPipe)
		buf := make([]byte, 64*1024)
		sc.Buffer(buf, 8*1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(line), &env); err != nil {
				log.Printf("engine=worker event=bad_frame model=%q pid=%d line=%q", w.modelID, w.pid, line)
				continue
			}
			select {
			case replies <- env:
			case <-exitDone:
				// Nobody receives from a dead worker; don't block on its
				// leftover frames.
				return
			}
		}
	}()

	// Exit watcher: surfaces process death to handshake, receive, and stop.
	go func() {
		w.exitErr = cmd.Wait()
		close(exitDone)
	}()

	// Load handshake: the first frame after spawn; readiness is its reply.
	params := make(map[string]string, len(w.cfg.InitParams)+1)
	for k, v := range w.cfg.InitParams {
		params[k] = v
	}
	params["model_dir"] = w.dir
	if err := w.stdin.Encode(NewLoad(params)); err != nil {
		w.Stop()
		return ErrStartup("send load request", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env, ok := <-replies:
		if !ok {
			w.markDead()
			w.publisher.Publish(Event{Name: "worker_exit", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": w.pid, "phase": "load"}})
			return w.classifyExit("worker exited during load")
		}
		if !env.OK() {
			w.Stop()
			return ErrStartup("worker load failed: "+env.Message, nil)
		}
	case <-exitDone:
		w.markDead()
		w.publisher.Publish(Event{Name: "worker_exit", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": w.pid, "phase": "load"}})
		return w.classifyExit("worker exited during load")
	case <-timer.C:
		w.Stop()
		w.publisher.Publish(Event{Name: "worker_timeout", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": w.pid, "phase": "load"}})
		return ErrStartup("worker not ready within "+timeout.String(), nil)
	}

	w.mu.Lock()
	w.state = StateReady
	w.mu.Unlock()
	log.Printf("engine=worker event=ready model=%q rank=%d pid=%d", w.modelID, w.rank, w.pid)
	w.publisher.Publish(Event{Name: "worker_ready", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": w.pid}})
	return nil
}

// Send transmits one request frame. The worker must be Ready; it becomes
// Busy until the matching terminal reply is received.
func (w *Worker) Send(env Envelope) error {
	w.mu.Lock()
	if w.state != StateReady {
		state := w.state
		w.mu.Unlock()
		return ErrUnavailable("worker not ready: state=" + string(state))
	}
	w.state = StateBusy
	enc := w.stdin
	w.mu.Unlock()

	if err := enc.Encode(env); err != nil {
		w.markDead()
		return ErrCrashed("write to worker failed: "+err.Error(), w.stderr.Tail())
	}
	return nil
}

// Receive blocks for at most timeout for the next reply frame. A timeout
// forcibly terminates the process; an abrupt channel closure is classified
// from the captured diagnostics. A well-formed terminal frame returns the
// worker to Ready; non-terminal chunk frames keep it Busy.
func (w *Worker) Receive(timeout time.Duration) (Envelope, error) {
	w.mu.Lock()
	replies := w.replies
	w.mu.Unlock()
	if replies == nil {
		return Envelope{}, ErrUnavailable("worker not started")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env, ok := <-replies:
		if !ok {
			w.markDead()
			w.publisher.Publish(Event{Name: "worker_exit", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": w.pid}})
			return Envelope{}, w.classifyExit("worker exited unexpectedly")
		}
		if env.Terminal() {
			w.mu.Lock()
			if w.state == StateBusy {
				w.state = StateReady
			}
			w.mu.Unlock()
		}
		return env, nil
	case <-timer.C:
		w.Stop()
		w.publisher.Publish(Event{Name: "worker_timeout", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": w.pid}})
		return Envelope{}, ErrPredictTimeout("no reply within " + timeout.String() + " from " + w.Describe())
	}
}

// Stop terminates the process: SIGTERM, a bounded grace window, then
// SIGKILL. Idempotent; always leaves the handle Dead.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.state = StateDead
	cmd := w.cmd
	closer := w.closer
	exitDone := w.exitDone
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if closer != nil {
		_ = closer()
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exitDone:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		<-exitDone
	}
	log.Printf("engine=worker event=stop model=%q rank=%d pid=%d", w.modelID, w.rank, w.pid)
	w.publisher.Publish(Event{Name: "worker_stop", ModelID: w.modelID, Fields: map[string]any{"rank": w.rank, "pid": w.pid}})
}

func (w *Worker) markDead() {
	w.mu.Lock()
	w.state = StateDead
	w.mu.Unlock()
}

// classifyExit builds the crash error for an unexpected exit, upgrading to
// out-of-memory when the diagnostics match a known pattern.
func (w *Worker) classifyExit(msg string) error {
	tail := w.stderr.Tail()
	detail := msg
	select {
	case <-w.exitDone:
		if w.exitErr != nil {
			detail = msg + " (" + w.exitErr.Error() + ")"
		}
	default:
	}
	lower := strings.ToLower(tail)
	for _, p := range oomPatterns {
		if strings.Contains(lower, p) {
			return ErrOutOfMemory(detail, tail)
		}
	}
	return ErrCrashed(detail, tail)
}

// environ applies the config overlay and rank coordinates on top of the
// parent environment.
func (w *Worker) environ() []string {
	env := os.Environ()
	for k, v := range w.cfg.Env {
		env = append(env, k+"="+v)
	}
	if w.rank >= 0 {
		env = append(env,
			"WORKER_RANK="+strconv.Itoa(w.rank),
			"WORKER_WORLD_SIZE="+strconv.Itoa(w.cfg.Degree),
		)
	}
	return env
}

// tailBuffer keeps the last cap bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	cap int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.cap {
		b.buf = b.buf[len(b.buf)-b.cap:]
	}
	b.mu.Unlock()
	return len(p), nil
}

func (b *tailBuffer) Tail() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
