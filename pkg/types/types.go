package types

// Model describes one servable model discovered in the models directory.
type Model struct {
	// Stable identifier, derived from the directory name.
	// example: opt-13b
	ID string `json:"id" example:"opt-13b"`
	// Human-readable name; defaults to the ID.
	// example: opt-13b
	Name string `json:"name,omitempty" example:"opt-13b"`
	// Absolute path to the model directory.
	Path string `json:"path,omitempty"`
	// Entry-point script detected in the model directory (e.g., model.py).
	// example: model.py
	EntryPoint string `json:"entry_point,omitempty" example:"model.py"`
	// Number of partitioned_model_* shards found in the directory (0 if none).
	// example: 4
	Shards int `json:"shards,omitempty" example:"4"`
}
