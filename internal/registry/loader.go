package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"workerd/internal/common/fsutil"
	"workerd/pkg/types"
)

// ShardPrefix names the partitioned model artifacts counted to resolve a
// tensor parallelism degree when none is configured.
const ShardPrefix = "partitioned_model_"

// LoadDir scans a models root for servable model directories. A directory
// qualifies when it contains a Python entry point (model.py preferred) or
// partitioned_model_* shards. ID is the directory name; Path is absolute.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(abs, e.Name())
		entry, shards, err := Inspect(p)
		if err != nil {
			return nil, err
		}
		if entry == "" && shards == 0 {
			continue
		}
		models = append(models, types.Model{
			ID:         e.Name(),
			Name:       e.Name(),
			Path:       p,
			EntryPoint: entry,
			Shards:     shards,
		})
	}
	return models, nil
}

// Inspect reports the detected entry point and shard count of one model
// directory. model.py wins over any other single .py file; multiple
// candidate scripts without a model.py leave the entry point unresolved.
func Inspect(dir string) (entry string, shards int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("read model dir: %w", err)
	}
	var scripts []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ShardPrefix) {
			shards++
			continue
		}
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), ".py") {
			scripts = append(scripts, name)
		}
	}
	for _, s := range scripts {
		if s == "model.py" {
			return s, shards, nil
		}
	}
	if len(scripts) == 1 {
		return scripts[0], shards, nil
	}
	return "", shards, nil
}

// CountShards counts partitioned_model_* artifacts in a model directory.
func CountShards(dir string) (int, error) {
	_, shards, err := Inspect(dir)
	return shards, err
}
