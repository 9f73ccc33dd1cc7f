package manager

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"

	"workerd/internal/common/fsutil"
	"workerd/internal/worker"
)

// s5cmdPath is preferred for artifact sync when installed; aws cli is the
// fallback.
const s5cmdPath = "/opt/workerd/bin/s5cmd"

// downloadArtifacts fetches remote model artifacts into a local directory
// before any worker that depends on them starts. The destination becomes
// the worker's model_id init parameter. The destination resolution order:
// SERVING_DOWNLOAD_DIR, a fresh temp dir, or the model directory itself
// when SERVING_DOWNLOAD_DIR is "default".
func (m *Manager) downloadArtifacts(ctx context.Context, cfg *worker.Config, modelDir string) error {
	url := cfg.S3URL
	log.Printf("engine=manager event=download url=%q", url)

	downloadDir := os.Getenv("SERVING_DOWNLOAD_DIR")
	switch downloadDir {
	case "":
		tmp, err := os.MkdirTemp("", "download")
		if err != nil {
			return fmt.Errorf("create download dir: %w", err)
		}
		downloadDir = tmp
	case "default":
		downloadDir = modelDir
	}

	var cmd *exec.Cmd
	if fsutil.PathExists(s5cmdPath) {
		cmd = exec.CommandContext(ctx, s5cmdPath, "--retry-count", "1", "sync", url+"*", downloadDir)
	} else {
		log.Printf("engine=manager event=download detail=\"s5cmd not installed, using aws cli\"")
		cmd = exec.CommandContext(ctx, "aws", "s3", "sync", url, downloadDir)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return worker.ErrStartup("model failed to download from s3", fmt.Errorf("%w: %s", err, string(out)))
	}
	cfg.InitParams["model_id"] = downloadDir
	log.Printf("engine=manager event=download_done dir=%q", downloadDir)
	return nil
}
