package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workerd/internal/worker"
	"workerd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	Predict(ctx context.Context, req types.PredictRequest) (types.PredictResponse, error)
	BatchPredict(ctx context.Context, req types.BatchPredictRequest) ([]types.PredictResponse, error)
	Infer(ctx context.Context, req types.PredictRequest, w io.Writer, flush func()) error
	Load(ctx context.Context, modelID string, options map[string]string) error
	Unload(modelID string)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: svc.ListModels()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
	})

	r.Post("/predict", func(w http.ResponseWriter, r *http.Request) {
		var req types.PredictRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if len(req.Input) == 0 {
			writeJSONError(w, http.StatusBadRequest, "input is required")
			return
		}
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelInfo {
			logStart(r, "predict", req.Model)
		}

		if req.Stream {
			// Stream NDJSON chunk lines, closed by a terminal done line.
			w.Header().Set("Content-Type", "application/x-ndjson")
			var flush func()
			if f, ok := w.(http.Flusher); ok {
				flush = f.Flush
			}
			writer := io.Writer(w)
			if lvl >= LevelDebug {
				writer = io.MultiWriter(w, &loggingLineWriter{})
			}
			if err := svc.Infer(joinedCtx, req, writer, flush); err != nil {
				if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
					return
				}
				status := statusFor(err)
				if worker.IsUnavailable(err) {
					IncrementRejected("no_idle_unit")
				}
				writeJSONError(w, status, err.Error())
				if lvl >= LevelInfo {
					logEnd(r, "predict", status, start, err)
				}
				return
			}
			if lvl >= LevelInfo {
				logEnd(r, "predict", http.StatusOK, start, nil)
			}
			return
		}

		resp, err := svc.Predict(joinedCtx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			if worker.IsUnavailable(err) {
				IncrementRejected("no_idle_unit")
			}
			writeJSONError(w, status, err.Error())
			if lvl >= LevelInfo {
				logEnd(r, "predict", status, start, err)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
		if lvl >= LevelInfo {
			logEnd(r, "predict", http.StatusOK, start, nil)
		}
	})

	r.Post("/batch", func(w http.ResponseWriter, r *http.Request) {
		var req types.BatchPredictRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if len(req.Inputs) == 0 {
			writeJSONError(w, http.StatusBadRequest, "inputs is required")
			return
		}
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		outs, err := svc.BatchPredict(joinedCtx, req)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			if worker.IsUnavailable(err) {
				IncrementRejected("no_idle_unit")
			}
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.BatchPredictResponse{Outputs: outs})
	})

	r.Post("/load", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.Load(joinedCtx, req.Model, req.Options); err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"loaded"}`))
	})

	r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
		var req types.UnloadRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		svc.Unload(req.Model)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"unloaded"}`))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Swagger UI (enabled with -tags=swagger)
	MountSwagger(r)

	return r
}

// decodeJSONBody enforces the JSON content type and body size limit, then
// decodes into dst. Writes the error response itself and returns false on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// If exceeded size, MaxBytesReader may cause an error; still return 400 to avoid size leak details
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func logStart(r *http.Request, op, model string) {
	if zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path).Str("model", model)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg(op + " start")
		return
	}
	log.Printf("%s start path=%s model=%s", op, r.URL.Path, model)
}

func logEnd(r *http.Request, op string, status int, start time.Time, err error) {
	if zlog != nil {
		z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			z = z.Str("request_id", rid)
		}
		if err != nil {
			z = z.Err(err)
		}
		z.Msg(op + " end")
		return
	}
	if err != nil {
		log.Printf("%s end status=%d dur=%s err=%v", op, status, time.Since(start), err)
		return
	}
	log.Printf("%s end status=%d dur=%s", op, status, time.Since(start))
}
