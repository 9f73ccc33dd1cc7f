package worker

import (
	"encoding/json"
	"testing"
	"time"
)

const rankedWorker = `read line
echo '{"id":"r","code":200}'
while read line; do
  printf '{"id":"r","code":200,"output":"%s"}\n' "$WORKER_RANK"
done
`

func TestGroupStartAndRankZeroDispatch(t *testing.T) {
	entry := writeScript(t, rankedWorker)
	cfg := scriptConfig(entry)
	cfg.Degree = 2
	g := NewGroup("m1", t.TempDir(), cfg)
	if g.Size() != 2 {
		t.Fatalf("size = %d, want 2", g.Size())
	}
	if err := g.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer g.Stop()
	if !g.Alive() {
		t.Fatalf("group should be alive after start")
	}

	if err := g.Send(NewPredict(json.RawMessage(`1`), false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := g.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	// Requests are always addressed to rank 0.
	if string(env.Output) != `"0"` {
		t.Fatalf("reply came from rank %s, want 0", env.Output)
	}
}

func TestGroupStartFailFast(t *testing.T) {
	entry := writeScript(t, `if [ "$WORKER_RANK" = "1" ]; then
  exit 7
fi
read line
echo '{"id":"r","code":200}'
while read line; do :; done
`)
	cfg := scriptConfig(entry)
	cfg.Degree = 2
	g := NewGroup("m1", t.TempDir(), cfg)
	err := g.Start(5 * time.Second)
	if err == nil {
		t.Fatalf("expected start to fail when a member dies")
	}
	if !IsTransport(err) {
		t.Fatalf("err = %v, want transport-classified", err)
	}
	// A partial group is never left schedulable.
	if g.Alive() {
		t.Fatalf("group must not be alive after partial start")
	}
	for _, w := range g.workers {
		if w.Alive() {
			t.Fatalf("member %s survived a failed group start", w.Describe())
		}
	}
}

func TestGroupParallelLoading(t *testing.T) {
	entry := writeScript(t, rankedWorker)
	cfg := scriptConfig(entry)
	cfg.Degree = 4
	cfg.ParallelLoading = true
	g := NewGroup("m1", t.TempDir(), cfg)
	if err := g.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer g.Stop()
	if !g.Alive() {
		t.Fatalf("group should be alive after parallel start")
	}
}

func TestGroupParallelLoadingFailFast(t *testing.T) {
	entry := writeScript(t, `if [ "$WORKER_RANK" = "2" ]; then
  exit 7
fi
read line
echo '{"id":"r","code":200}'
while read line; do :; done
`)
	cfg := scriptConfig(entry)
	cfg.Degree = 3
	cfg.ParallelLoading = true
	g := NewGroup("m1", t.TempDir(), cfg)
	if err := g.Start(5 * time.Second); err == nil {
		t.Fatalf("expected parallel start to fail")
	}
	if g.Alive() {
		t.Fatalf("group must not be alive after failed parallel start")
	}
}

func TestGroupReceiveTransportErrorKillsGroup(t *testing.T) {
	entry := writeScript(t, `read line
echo '{"id":"r","code":200}'
if [ "$WORKER_RANK" = "0" ]; then
  read line
  exit 1
fi
while read line; do :; done
`)
	cfg := scriptConfig(entry)
	cfg.Degree = 2
	g := NewGroup("m1", t.TempDir(), cfg)
	if err := g.Start(5 * time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := g.Send(NewPredict(json.RawMessage(`1`), false)); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err := g.Receive(5 * time.Second)
	if !IsTransport(err) {
		t.Fatalf("receive err = %v, want transport", err)
	}
	// Rank-0 death takes the whole group down.
	for _, w := range g.workers {
		if w.Alive() {
			t.Fatalf("member %s survived a rank-0 crash", w.Describe())
		}
	}
}
