package worker

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Worker transport framing: one JSON object per line on the process's stdin
// and stdout. A request yields exactly one reply, or an ordered sequence of
// chunk frames terminated by a frame with Last set. The frame content is
// opaque to this layer.

// Frame ops understood by worker runtimes.
const (
	OpLoad    = "load"
	OpPredict = "predict"
)

// CodeOK is the handler success code. Any other code in a well-formed reply
// is a handler-raised application error, not a transport failure.
const CodeOK = 200

// Envelope is one frame on the worker transport.
type Envelope struct {
	ID     string            `json:"id"`
	Op     string            `json:"op,omitempty"`
	Input  json.RawMessage   `json:"input,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Stream bool              `json:"stream,omitempty"`

	// Reply fields.
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Chunk   string          `json:"chunk,omitempty"`
	Last    bool            `json:"last,omitempty"`
}

// NewLoad builds the load handshake frame carrying the init parameters.
func NewLoad(params map[string]string) Envelope {
	return Envelope{ID: uuid.NewString(), Op: OpLoad, Params: params}
}

// NewPredict builds a predict frame for the given input.
func NewPredict(input json.RawMessage, stream bool) Envelope {
	return Envelope{ID: uuid.NewString(), Op: OpPredict, Input: input, Stream: stream}
}

// OK reports whether the reply carries a handler success code.
func (e Envelope) OK() bool { return e.Code == CodeOK }

// Terminal reports whether the frame completes its request: a plain reply,
// or the last frame of a chunk sequence.
func (e Envelope) Terminal() bool { return e.Last || e.Chunk == "" }
