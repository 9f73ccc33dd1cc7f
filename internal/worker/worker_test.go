package worker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript writes a /bin/sh worker fake that speaks the stdio framing and
// returns its absolute path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func scriptConfig(entry string) Config {
	return Config{
		Executable:     "/bin/sh",
		EntryPoint:     entry,
		PredictTimeout: 2 * time.Second,
		LoadTimeout:    2 * time.Second,
		InitParams:     map[string]string{},
	}
}

const echoWorker = `read line
echo '{"id":"r","code":200}'
while read line; do
  echo '{"id":"r","code":200,"output":{"text":"ok"}}'
done
`

func TestWorkerStartPredictStop(t *testing.T) {
	entry := writeScript(t, echoWorker)
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	if err := w.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	if w.State() != StateReady {
		t.Fatalf("state after start = %s, want ready", w.State())
	}
	if w.PID() <= 0 {
		t.Fatalf("expected pid to be set")
	}

	if err := w.Send(NewPredict(json.RawMessage(`{"prompt":"hi"}`), false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if w.State() != StateBusy {
		t.Fatalf("state after send = %s, want busy", w.State())
	}
	env, err := w.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !env.OK() || len(env.Output) == 0 {
		t.Fatalf("unexpected reply: %+v", env)
	}
	if w.State() != StateReady {
		t.Fatalf("state after terminal reply = %s, want ready", w.State())
	}

	w.Stop()
	if w.State() != StateDead || w.Alive() {
		t.Fatalf("state after stop = %s, want dead", w.State())
	}
	// Stop is idempotent.
	w.Stop()
}

func TestWorkerSendWhileBusy(t *testing.T) {
	entry := writeScript(t, echoWorker)
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	if err := w.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := w.Send(NewPredict(json.RawMessage(`1`), false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := w.Send(NewPredict(json.RawMessage(`2`), false)); !IsUnavailable(err) {
		t.Fatalf("second send while busy: err=%v, want unavailable", err)
	}
}

func TestWorkerLoadRejected(t *testing.T) {
	entry := writeScript(t, `read line
echo '{"id":"r","code":507,"message":"no space for weights"}'
`)
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	err := w.Start(5 * time.Second)
	if !IsStartup(err) {
		t.Fatalf("start err = %v, want startup", err)
	}
	if !strings.Contains(err.Error(), "no space for weights") {
		t.Fatalf("error should carry handler message: %v", err)
	}
	if w.Alive() {
		t.Fatalf("worker should be dead after rejected load")
	}
}

func TestWorkerLoadTimeout(t *testing.T) {
	entry := writeScript(t, "read line\nsleep 30\n")
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	err := w.Start(300 * time.Millisecond)
	if !IsStartup(err) {
		t.Fatalf("start err = %v, want startup", err)
	}
	if w.Alive() {
		t.Fatalf("worker should be dead after load timeout")
	}
}

func TestWorkerCrashDuringLoad(t *testing.T) {
	entry := writeScript(t, "exit 3\n")
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	err := w.Start(5 * time.Second)
	if !IsCrashed(err) {
		t.Fatalf("start err = %v, want crashed", err)
	}
	if !IsTransport(err) {
		t.Fatalf("crash should classify as transport: %v", err)
	}
}

func TestWorkerOOMClassification(t *testing.T) {
	entry := writeScript(t, `read line
echo '{"id":"r","code":200}'
read line
echo "CUDA error: out of memory" >&2
sleep 0.2
exit 1
`)
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	if err := w.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Send(NewPredict(json.RawMessage(`1`), false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err := w.Receive(5 * time.Second)
	if !IsOutOfMemory(err) {
		t.Fatalf("receive err = %v, want out-of-memory", err)
	}
	if !IsCrashed(err) {
		t.Fatalf("oom should also classify as crashed: %v", err)
	}
	if tail := Diagnostics(err); !strings.Contains(strings.ToLower(tail), "out of memory") {
		t.Fatalf("diagnostics should carry stderr tail, got %q", tail)
	}
}

func TestWorkerPredictTimeoutKillsProcess(t *testing.T) {
	entry := writeScript(t, `read line
echo '{"id":"r","code":200}'
read line
sleep 30
`)
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	if err := w.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Send(NewPredict(json.RawMessage(`1`), false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err := w.Receive(300 * time.Millisecond)
	if !IsPredictTimeout(err) {
		t.Fatalf("receive err = %v, want predict timeout", err)
	}
	if w.State() != StateDead {
		t.Fatalf("timeout must terminate the worker, state=%s", w.State())
	}
}

func TestWorkerRankEnvironment(t *testing.T) {
	entry := writeScript(t, `read line
echo '{"id":"r","code":200}'
read line
printf '{"id":"r","code":200,"output":"%s/%s"}\n' "$WORKER_RANK" "$WORKER_WORLD_SIZE"
`)
	cfg := scriptConfig(entry)
	cfg.Degree = 2
	w := NewWorker("m1", t.TempDir(), cfg, 1)
	if err := w.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()
	if err := w.Send(NewPredict(json.RawMessage(`1`), false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := w.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(env.Output) != `"1/2"` {
		t.Fatalf("rank coordinates not exported, got %s", env.Output)
	}
}

func TestWorkerLifecycleEvents(t *testing.T) {
	entry := writeScript(t, echoWorker)
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	pub := NewMemoryPublisher()
	w.SetPublisher(pub)
	if err := w.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.Stop()

	names := map[string]bool{}
	for _, e := range pub.Events() {
		names[e.Name] = true
		if e.ModelID != "m1" {
			t.Fatalf("event %s has model %q, want m1", e.Name, e.ModelID)
		}
	}
	for _, want := range []string{"worker_start", "worker_ready", "worker_stop"} {
		if !names[want] {
			t.Fatalf("missing event %q, got %v", want, names)
		}
	}
}

func TestStopUnblocksReplyPump(t *testing.T) {
	// The fake floods stdout with far more frames than the reply buffer
	// holds, then hangs. Stopping the worker must also end the goroutine
	// pumping those frames.
	entry := writeScript(t, `read line
echo '{"id":"r","code":200}'
read line
i=0
while [ $i -lt 64 ]; do
  echo '{"id":"r","chunk":"x"}'
  i=$((i+1))
done
sleep 30
`)
	before := runtime.NumGoroutine()
	w := NewWorker("m1", t.TempDir(), scriptConfig(entry), StandaloneRank)
	if err := w.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Send(NewPredict(json.RawMessage(`1`), true)); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Abandon the exchange without receiving anything.
	w.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > before {
		t.Fatalf("goroutines = %d after stop, was %d before start", n, before)
	}
}
