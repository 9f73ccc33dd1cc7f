package worker

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPredictorPredictReleasesUnit(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	u.replies = []Envelope{{Code: CodeOK, Output: json.RawMessage(`"done"`)}}
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	env, err := pr.Predict(NewPredict(json.RawMessage(`1`), false))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !env.OK() || string(env.Output) != `"done"` {
		t.Fatalf("unexpected reply: %+v", env)
	}
	if p.Len() != 1 {
		t.Fatalf("unit should return to the pool after a clean exchange")
	}
}

func TestPredictorFoldsStrayChunks(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	u.replies = []Envelope{
		{Chunk: "he"},
		{Chunk: "llo", Last: true, Code: CodeOK},
	}
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	env, err := pr.Predict(NewPredict(json.RawMessage(`1`), false))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if env.Chunk != "hello" {
		t.Fatalf("chunks not folded, got %q", env.Chunk)
	}
}

func TestPredictorApplicationErrorKeepsUnit(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	u.replies = []Envelope{{Code: 422, Message: "bad input"}}
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	env, err := pr.Predict(NewPredict(json.RawMessage(`1`), false))
	if err != nil {
		t.Fatalf("handler failures are not transport errors: %v", err)
	}
	if env.OK() || env.Code != 422 {
		t.Fatalf("unexpected reply: %+v", env)
	}
	if u.stopCount() != 0 || p.Len() != 1 {
		t.Fatalf("unit must survive an application error")
	}
}

func TestPredictorTransportErrorDiscardsUnit(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	u.recvErr = ErrCrashed("worker exited", "")
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	_, err := pr.Predict(NewPredict(json.RawMessage(`1`), false))
	if !IsCrashed(err) {
		t.Fatalf("err = %v, want crashed", err)
	}
	if u.stopCount() != 1 {
		t.Fatalf("failed unit must be stopped, stops=%d", u.stopCount())
	}
	if p.Len() != 0 {
		t.Fatalf("failed unit must never rejoin the pool")
	}
}

func TestPredictorSpawnsWhenPoolEmpty(t *testing.T) {
	p := NewPool("m1")
	spawned := newFakeUnit("spawned")
	spawned.replies = []Envelope{{Code: CodeOK}}
	spawn := func() (Unit, error) { return spawned, nil }

	pr := NewPredictor("m1", p, spawn, time.Second)
	env, err := pr.Predict(NewPredict(json.RawMessage(`1`), false))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !env.OK() {
		t.Fatalf("unexpected reply: %+v", env)
	}
	if p.Len() != 1 {
		t.Fatalf("spawned unit should be pooled after use")
	}
}

func TestPredictorUnavailableWithoutSpawn(t *testing.T) {
	pr := NewPredictor("m1", NewPool("m1"), nil, time.Second)
	_, err := pr.Predict(NewPredict(json.RawMessage(`1`), false))
	if !IsUnavailable(err) {
		t.Fatalf("err = %v, want unavailable", err)
	}
}

func TestPredictorStream(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	u.replies = []Envelope{
		{Chunk: "a"},
		{Chunk: "b"},
		{Code: CodeOK, Last: true},
	}
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	cursor, err := pr.PredictStream(NewPredict(json.RawMessage(`1`), true))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	out, err := cursor.ReadAll()
	if err != nil {
		t.Fatalf("readall: %v", err)
	}
	if string(out) != "ab" {
		t.Fatalf("out = %q", out)
	}
	// The unit is only released once the terminal marker lands.
	deadline := time.Now().Add(time.Second)
	for p.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("unit was not released after stream completion")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPredictorStreamApplicationError(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	u.replies = []Envelope{
		{Chunk: "partial"},
		{Code: 429, Message: "overloaded"},
	}
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	cursor, err := pr.PredictStream(NewPredict(json.RawMessage(`1`), true))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	out, err := cursor.ReadAll()
	if string(out) != "partial" {
		t.Fatalf("out = %q", out)
	}
	if !IsApplication(err) || ApplicationCode(err) != 429 {
		t.Fatalf("err = %v, want application 429", err)
	}
	if u.stopCount() != 0 {
		t.Fatalf("unit must survive a handler-raised stream failure")
	}
}

func TestPredictorStreamSingleTerminalFrame(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	u.replies = []Envelope{{Code: CodeOK, Output: json.RawMessage(`"whole"`)}}
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	cursor, err := pr.PredictStream(NewPredict(json.RawMessage(`1`), true))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	out, err := cursor.ReadAll()
	if err != nil {
		t.Fatalf("readall: %v", err)
	}
	if string(out) != `"whole"` {
		t.Fatalf("out = %q", out)
	}
	if p.Len() != 1 {
		t.Fatalf("unit should be released immediately on a single-frame reply")
	}
}

func TestPredictorCloseReleasesBoundUnit(t *testing.T) {
	p := NewPool("m1")
	u := newFakeUnit("a")
	p.Offer(u)

	pr := NewPredictor("m1", p, nil, time.Second)
	if _, err := pr.bind(); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("bound unit should be out of the pool")
	}
	pr.Close()
	if p.Len() != 1 {
		t.Fatalf("close should release the bound unit")
	}
}
