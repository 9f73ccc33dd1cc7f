package manager

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"workerd/internal/worker"
	"workerd/pkg/types"
)

// Predict performs one synchronous prediction. A handler-raised failure
// comes back as a structured response (Code != 200), not an error; only
// transport failures surface as errors, and those are never retried here.
func (m *Manager) Predict(ctx context.Context, req types.PredictRequest) (types.PredictResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.PredictResponse{}, err
	}
	id, err := m.resolveModelID(req.Model)
	if err != nil {
		return types.PredictResponse{}, err
	}
	p, err := m.AcquirePredictor(id)
	if err != nil {
		return types.PredictResponse{}, err
	}
	md, ok := m.getLoaded(id)
	if !ok {
		// Unloaded between acquire and here.
		return types.PredictResponse{}, ErrNotLoaded(id)
	}
	md.touch()
	md.inflight.Add(1)
	defer md.inflight.Add(-1)

	env, err := p.Predict(worker.NewPredict(req.Input, false))
	if err != nil {
		if worker.IsTransport(err) {
			md.failed.Add(1)
		}
		return types.PredictResponse{}, err
	}
	return replyToResponse(env), nil
}

// BatchPredict dispatches logically independent inputs element-wise,
// acquiring one unit per input rather than multiplexing a single unit.
// Outputs preserve input order; the first transport failure fails the call.
func (m *Manager) BatchPredict(ctx context.Context, req types.BatchPredictRequest) ([]types.PredictResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := m.resolveModelID(req.Model)
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
	md.touch()

	out := make([]types.PredictResponse, len(req.Inputs))
	errs := make([]error, len(req.Inputs))
	var wg sync.WaitGroup
	for i, input := range req.Inputs {
		wg.Add(1)
		go func(i int, input json.RawMessage) {
			defer wg.Done()
			p, err := m.AcquirePredictor(id)
			if err != nil {
				errs[i] = err
				return
			}
			md.inflight.Add(1)
			defer md.inflight.Add(-1)
			env, err := p.Predict(worker.NewPredict(input, false))
			if err != nil {
				if worker.IsTransport(err) {
					md.failed.Add(1)
				}
				errs[i] = err
				return
			}
			out[i] = replyToResponse(env)
		}(i, input)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Infer streams a prediction as NDJSON lines to w: one {"chunk": ...} line
// per delivered chunk, then a terminal {"done": true, ...} line carrying
// the handler code. flush, when non-nil, is called after each line.
func (m *Manager) Infer(ctx context.Context, req types.PredictRequest, w io.Writer, flush func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := m.resolveModelID(req.Model)
	if err != nil {
		return err
	}
	if !req.Stream {
		resp, err := m.Predict(ctx, req)
		if err != nil {
			return err
		}
		return writeLine(w, flush, resp)
	}

	p, err := m.AcquirePredictor(id)
	if err != nil {
		return err
	}
	md, ok := m.getLoaded(id)
	if !ok {
		return ErrNotLoaded(id)
	}
	md.touch()
	md.inflight.Add(1)
	defer md.inflight.Add(-1)

	cursor, err := p.PredictStream(worker.NewPredict(req.Input, true))
	if err != nil {
		if worker.IsTransport(err) {
			md.failed.Add(1)
		}
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := cursor.Next(md.cfg.PredictTimeout)
		if err == io.EOF {
			return writeLine(w, flush, map[string]any{"done": true, "code": worker.CodeOK})
		}
		if err != nil {
			if worker.IsApplication(err) {
				// Handler failure: the worker survived; report it in-band.
				return writeLine(w, flush, map[string]any{
					"done":    true,
					"code":    worker.ApplicationCode(err),
					"message": err.Error(),
				})
			}
			if worker.IsTransport(err) {
				md.failed.Add(1)
			}
			return err
		}
		if err := writeLine(w, flush, map[string]any{"chunk": string(chunk)}); err != nil {
			return err
		}
	}
}

// replyToResponse maps a terminal worker frame onto the caller's shape.
func replyToResponse(env worker.Envelope) types.PredictResponse {
	resp := types.PredictResponse{Code: env.Code, Message: env.Message, Output: env.Output}
	if len(resp.Output) == 0 && env.Chunk != "" {
		b, _ := json.Marshal(env.Chunk)
		resp.Output = b
	}
	return resp
}

// writeLine emits one NDJSON line using json.Marshal for correctness.
func writeLine(w io.Writer, flush func(), v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return err
	}
	if flush != nil {
		flush()
	}
	return nil
}
