package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest lists the models a single build compiles and the generation
// options for each.
type Manifest struct {
	Models []ManifestEntry `yaml:"models"`
}

// ManifestEntry configures one model compilation. Omitted fields fall
// back to the generator defaults.
type ManifestEntry struct {
	// Source is the model file path, relative to the manifest location.
	Source string `yaml:"source"`

	// FuncName overrides the generated procedure's base name.
	FuncName string `yaml:"funcname,omitempty"`

	// DifferentialCount selects DAE mode with the given number of
	// differential states. Nil means explicit ODE.
	DifferentialCount *int `yaml:"differential_count,omitempty"`

	// Preallocate controls persistent buffer reuse. Nil means true.
	Preallocate *bool `yaml:"preallocate,omitempty"`

	// RoundConstants controls constant rounding. Nil means true.
	RoundConstants *bool `yaml:"round_constants,omitempty"`

	// Params is the input-parameter unpack order.
	Params []string `yaml:"params,omitempty"`

	// Output is the file the generated text is written to; empty means
	// stdout.
	Output string `yaml:"output,omitempty"`
}

// LoadManifest reads and validates a YAML build manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Models) == 0 {
		return nil, fmt.Errorf("manifest %s lists no models", path)
	}
	for i, entry := range m.Models {
		if entry.Source == "" {
			return nil, fmt.Errorf("manifest %s: models[%d] has no source", path, i)
		}
		if entry.DifferentialCount != nil && *entry.DifferentialCount < 0 {
			return nil, fmt.Errorf("manifest %s: models[%d] differential_count must be >= 0", path, i)
		}
	}
	return &m, nil
}
