package manager

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"workerd/internal/worker"
)

// fakeAWS puts a fake aws cli on PATH that records its arguments.
func fakeAWS(t *testing.T, exitCode int) string {
	t.Helper()
	bin := t.TempDir()
	argsFile := filepath.Join(bin, "args")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(filepath.Join(bin, "aws"), []byte(script), 0o755); err != nil {
		t.Fatalf("write fake aws: %v", err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	return argsFile
}

func TestDownloadArtifactsSyncsIntoConfiguredDir(t *testing.T) {
	argsFile := fakeAWS(t, 0)
	dl := t.TempDir()
	t.Setenv("SERVING_DOWNLOAD_DIR", dl)

	m := NewWithConfig(ManagerConfig{})
	cfg := worker.Config{S3URL: "s3://bucket/model/", InitParams: map[string]string{}}
	if err := m.downloadArtifacts(context.Background(), &cfg, "/unused"); err != nil {
		t.Fatalf("download: %v", err)
	}
	if cfg.InitParams["model_id"] != dl {
		t.Fatalf("model_id = %q, want download dir %q", cfg.InitParams["model_id"], dl)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("fake aws was not invoked: %v", err)
	}
	got := strings.TrimSpace(string(args))
	if !strings.Contains(got, "s3 sync s3://bucket/model/ "+dl) {
		t.Fatalf("unexpected aws invocation: %q", got)
	}
}

func TestDownloadArtifactsDefaultTargetsModelDir(t *testing.T) {
	fakeAWS(t, 0)
	t.Setenv("SERVING_DOWNLOAD_DIR", "default")

	m := NewWithConfig(ManagerConfig{})
	cfg := worker.Config{S3URL: "s3://bucket/model/", InitParams: map[string]string{}}
	modelDir := t.TempDir()
	if err := m.downloadArtifacts(context.Background(), &cfg, modelDir); err != nil {
		t.Fatalf("download: %v", err)
	}
	if cfg.InitParams["model_id"] != modelDir {
		t.Fatalf("model_id = %q, want model dir %q", cfg.InitParams["model_id"], modelDir)
	}
}

func TestDownloadArtifactsFailureIsStartupClassified(t *testing.T) {
	fakeAWS(t, 1)
	t.Setenv("SERVING_DOWNLOAD_DIR", t.TempDir())

	m := NewWithConfig(ManagerConfig{})
	cfg := worker.Config{S3URL: "s3://bucket/broken/", InitParams: map[string]string{}}
	err := m.downloadArtifacts(context.Background(), &cfg, "/unused")
	if !worker.IsStartup(err) {
		t.Fatalf("err = %v, want startup", err)
	}
	if _, ok := cfg.InitParams["model_id"]; ok {
		t.Fatalf("model_id must not be set on failure")
	}
}

func TestLoadRunsDownloadBeforeWorkers(t *testing.T) {
	fakeAWS(t, 0)
	dl := t.TempDir()
	t.Setenv("SERVING_DOWNLOAD_DIR", dl)

	dir := writeModelDir(t, echoModel, 0)
	m := newTestManager(t, dir, 0)
	defer m.Close()
	err := m.Load(context.Background(), "m1", shOptions(map[string]string{"s3url": "s3://bucket/model/"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	md, _ := m.getLoaded("m1")
	if md.cfg.InitParams["model_id"] != dl {
		t.Fatalf("downloaded artifacts not wired into init params: %+v", md.cfg.InitParams)
	}
}
