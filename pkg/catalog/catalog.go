package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// RegistrationParams are the per-model parameters applied when the model is
// registered with the serving runtime. Zero values mean "unset" and fall back
// to the runtime defaults at registration time.
type RegistrationParams struct {
	InitialWorkers  int `json:"initial_workers,omitempty"`
	BatchSize       int `json:"batch_size,omitempty"`
	MaxBatchDelay   int `json:"max_batch_delay,omitempty"`
	ResponseTimeout int `json:"response_timeout,omitempty"`
}

// GenerationParams are the text-generation parameters exported to the model
// handler through its environment.
type GenerationParams struct {
	Temperature       float64 `json:"temperature,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	MaxNewTokens      int     `json:"max_new_tokens,omitempty"`
}

// ModelSpec describes a single model known to the catalog: where its weights
// live, which handler serves it, and its default serving parameters. Specs are
// immutable once the catalog is loaded.
type ModelSpec struct {
	Name         string             `json:"-"`
	RepoID       string             `json:"repo_id"`
	Revision     string             `json:"repo_version"`
	Handler      string             `json:"handler"`
	Registration RegistrationParams `json:"registration_params"`
	Generation   *GenerationParams  `json:"model_params,omitempty"`
}

// RequiresToken reports whether downloading this model's repository requires
// an access token. Llama weights are gated behind a license acceptance.
func (s ModelSpec) RequiresToken() bool {
	return strings.HasPrefix(s.RepoID, "meta-llama/")
}

// Catalog is an immutable model-name lookup table, loaded once at startup and
// passed explicitly to the components that need it.
type Catalog struct {
	models map[string]ModelSpec
}

// Load reads a catalog from a JSON file mapping model names to specs.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from raw JSON.
func Parse(data []byte) (*Catalog, error) {
	var models map[string]ModelSpec
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	for name, spec := range models {
		if spec.RepoID == "" {
			return nil, fmt.Errorf("model %q: missing repo_id", name)
		}
		spec.Name = name
		models[name] = spec
	}
	return &Catalog{models: models}, nil
}

// Resolve looks up a model by name. It performs no network or filesystem
// activity; an unknown name fails immediately with ErrUnknownModel.
func (c *Catalog) Resolve(name string) (ModelSpec, error) {
	spec, ok := c.models[name]
	if !ok {
		return ModelSpec{}, &UnknownModelError{Name: name, Known: c.Names()}
	}
	return spec, nil
}

// Names returns the sorted list of model names in the catalog.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
