package types

import "encoding/json"

// PredictRequest represents a prediction request payload.
type PredictRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: opt-13b
	Model string `json:"model,omitempty" example:"opt-13b"`
	// Input handed verbatim to the worker handler. Any JSON value.
	Input json.RawMessage `json:"input"`
	// If true, stream results as NDJSON chunks. When false, the reply is a single JSON body.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// PredictResponse is the single-value reply shape.
type PredictResponse struct {
	// Handler status code. 200 on success; other values are handler-raised
	// application errors, delivered without killing the worker.
	// example: 200
	Code int `json:"code" example:"200"`
	// Optional handler message (set on application errors).
	Message string `json:"message,omitempty"`
	// Handler output. Any JSON value.
	Output json.RawMessage `json:"output,omitempty"`
}

// BatchPredictRequest carries logically independent inputs dispatched element-wise.
type BatchPredictRequest struct {
	// Optional model identifier. If empty, the server default is used.
	Model string `json:"model,omitempty"`
	// Inputs; outputs are returned in the same order.
	Inputs []json.RawMessage `json:"inputs"`
}

// BatchPredictResponse wraps element-wise outputs in input order.
type BatchPredictResponse struct {
	Outputs []PredictResponse `json:"outputs"`
}

// LoadRequest asks the server to load a model with the given options.
type LoadRequest struct {
	// Model identifier from the registry.
	// example: opt-13b
	Model string `json:"model" example:"opt-13b"`
	// Flat option map (entry_point, env, tensor_parallel_degree, ...).
	Options map[string]string `json:"options,omitempty"`
}

// UnloadRequest asks the server to drain and forget a loaded model.
type UnloadRequest struct {
	Model string `json:"model"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of discoverable models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// PoolStatus summarizes one loaded model's worker pool for /status.
type PoolStatus struct {
	// ID of the model this pool serves.
	// example: opt-13b
	ModelID string `json:"model_id" example:"opt-13b"`
	// Parallelism degree of each unit (0 = standalone workers).
	// example: 4
	Degree int `json:"degree" example:"4"`
	// Units currently idle in the pool queue.
	// example: 2
	Queued int `json:"queued" example:"2"`
	// Units currently bound to an active predictor.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Units discarded after a crash or timeout since load.
	// example: 0
	Failed int `json:"failed" example:"0"`
	// Last time this pool served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix,omitempty" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded model pools.
	Pools []PoolStatus `json:"pools"`
	// Number of accelerator devices the server may spend on workers.
	// example: 8
	DeviceBudget int `json:"device_budget" example:"8"`
	// Overall server state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
