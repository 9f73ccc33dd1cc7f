package worker

import (
	"log"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding options are unset.
const (
	DefaultExecutable     = "python"
	DefaultPredictTimeout = 120 * time.Second
	DefaultLoadTimeout    = 240 * time.Second
)

// Config holds immutable per-model worker settings, resolved once at load
// time from a flat string-keyed option map and read-only thereafter.
type Config struct {
	// EntryPoint identifies the handler the worker runtime executes.
	EntryPoint string
	// Executable launches the worker runtime (defaults to "python").
	Executable string
	// Env is the environment overlay applied on top of the parent env.
	Env map[string]string
	// Parallel marks the model as tensor-parallel; workers run as ranked groups.
	Parallel bool
	// Degree is the tensor parallelism degree (0 = unresolved/disabled).
	Degree int
	// ParallelLoading starts pool units concurrently at load time.
	ParallelLoading bool
	// MinWorkers/MaxWorkers bound the pool size for parallel models.
	MinWorkers int
	MaxWorkers int
	// PredictTimeout bounds each receive; LoadTimeout bounds the handshake.
	PredictTimeout time.Duration
	LoadTimeout    time.Duration
	// S3URL points at remote model artifacts (mutually exclusive with the
	// model_id init parameter).
	S3URL string
	// InitParams carries every non-env option verbatim to the worker's load
	// handshake.
	InitParams map[string]string
}

// ParseOptions resolves a Config from a flat option map. Unknown keys are
// retained as init parameters. Invalid numeric values are logged and the
// default kept, matching the serving.properties convention.
func ParseOptions(options map[string]string) (Config, error) {
	cfg := Config{
		Executable:     DefaultExecutable,
		Env:            map[string]string{},
		PredictTimeout: DefaultPredictTimeout,
		LoadTimeout:    DefaultLoadTimeout,
		InitParams:     map[string]string{},
	}
	for key, value := range options {
		if key != "env" {
			cfg.InitParams[key] = value
		}
		switch key {
		case "executable":
			cfg.Executable = value
		case "entry_point":
			cfg.EntryPoint = value
		case "env":
			for _, e := range strings.Split(value, ",") {
				kv := strings.SplitN(e, "=", 2)
				if len(kv) > 1 {
					cfg.Env[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
				}
			}
		case "predict_timeout":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.PredictTimeout = time.Duration(n) * time.Second
			} else {
				log.Printf("invalid predict_timeout value: %s", value)
			}
		case "model_loading_timeout":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.LoadTimeout = time.Duration(n) * time.Second
			} else {
				log.Printf("invalid model_loading_timeout value: %s", value)
			}
		case "tensor_parallel_degree":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				cfg.Degree = n
				if n > 0 {
					cfg.Parallel = true
				}
			} else {
				return cfg, ErrConfiguration("invalid tensor_parallel_degree value: " + value)
			}
		case "mpi_mode", "parallel":
			cfg.Parallel = value == "true" || value == "1"
		case "parallel_loading":
			cfg.ParallelLoading = value == "true" || value == "1"
		case "min_workers":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.MinWorkers = n
			} else {
				log.Printf("invalid min_workers value: %s", value)
			}
		case "max_workers":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.MaxWorkers = n
			} else {
				log.Printf("invalid max_workers value: %s", value)
			}
		case "s3url":
			cfg.S3URL = value
		}
	}
	if cfg.S3URL != "" && cfg.InitParams["model_id"] != "" {
		return cfg, ErrConfiguration("model_id and s3url could not both be set")
	}
	return cfg, nil
}
