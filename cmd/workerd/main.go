package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"workerd/internal/config"
	"workerd/internal/httpapi"
	"workerd/internal/manager"
	"workerd/internal/registry"
)

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envDefault("WORKERD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	modelsDir := flag.String("models-dir", envDefault("WORKERD_MODELS_DIR", "~/models"), "Directory to scan for model directories")
	deviceBudget := flag.Int("device-budget", envDefaultInt("WORKERD_DEVICE_BUDGET", 0), "Accelerator devices to spend on workers (0=detect from CUDA_VISIBLE_DEVICES)")
	defaultModel := flag.String("default-model", envDefault("WORKERD_DEFAULT_MODEL", ""), "Default model id when request omits model")
	configPath := flag.String("config", envDefault("WORKERD_CONFIG", ""), "Optional config file (.yaml/.json/.toml); flags override file values")
	corsOrigins := flag.String("cors-origins", envDefault("WORKERD_CORS_ORIGINS", ""), "Comma-separated allowed CORS origins (empty disables CORS)")
	flag.Parse()

	var fileCfg config.Config
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		fileCfg = c
	}
	// File values fill in flags left at their defaults.
	if fileCfg.Addr != "" && *addr == ":8080" {
		*addr = fileCfg.Addr
	}
	if fileCfg.ModelsDir != "" && *modelsDir == "~/models" {
		*modelsDir = fileCfg.ModelsDir
	}
	if fileCfg.DeviceBudget > 0 && *deviceBudget == 0 {
		*deviceBudget = fileCfg.DeviceBudget
	}
	if fileCfg.DefaultModel != "" && *defaultModel == "" {
		*defaultModel = fileCfg.DefaultModel
	}
	if fileCfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(fileCfg.MaxBodyBytes)
	}
	if origins := splitCSV(*corsOrigins); len(origins) > 0 {
		httpapi.SetCORSOptions(true, origins, []string{"GET", "POST"}, []string{"Content-Type"})
	} else {
		httpapi.SetCORSOptions(fileCfg.CORSEnabled, fileCfg.CORSAllowedOrigins, fileCfg.CORSAllowedMethods, fileCfg.CORSAllowedHeaders)
	}

	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	httpapi.SetLogger(zl)

	// Load registry by scanning modelsDir for model directories
	reg, err := registry.LoadDir(*modelsDir)
	if err != nil {
		log.Fatalf("failed to load models: %v", err)
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Registry:     reg,
		DefaultModel: *defaultModel,
		DeviceBudget: *deviceBudget,
		Options:      fileCfg.Options,
	})

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)

	// Eagerly load configured models so the first request doesn't pay warm-up.
	for _, id := range fileCfg.Preload {
		if err := mgr.Load(baseCtx, id, nil); err != nil {
			log.Fatalf("failed to preload model %s: %v", id, err)
		}
	}

	mux := httpapi.NewMux(mgr)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("workerd listening on %s (models dir: %s)", *addr, *modelsDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	baseCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	mgr.Close()
}
