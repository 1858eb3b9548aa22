// Package config loads the JSON configuration that tells the mesh map which
// cost layers to load and with which initial parameters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/meshlayers.defaults.json"

// Defaults applied when a field is omitted.
const (
	DefaultFactor         = 1.0
	DefaultComputeWorkers = 0 // 0 means GOMAXPROCS
)

// LayerSettings holds the per-layer entry of layer_params. Type names the
// registered layer implementation; the remaining fields seed the layer's
// reconfigurable parameters and its weight in the combined cost.
type LayerSettings struct {
	Type      string   `json:"type"`
	Factor    *float64 `json:"factor,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Radius    *float64 `json:"radius,omitempty"`
}

// MeshLayersConfig is the root configuration.
type MeshLayersConfig struct {
	// Layers lists layer names in load order.
	Layers []string `json:"layers"`
	// LayerParams maps each layer name to its settings.
	LayerParams map[string]LayerSettings `json:"layer_params"`

	ComputeWorkers *int `json:"compute_workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultConfig returns the built-in configuration: a single height
// difference layer with the stock threshold and radius.
func DefaultConfig() *MeshLayersConfig {
	return &MeshLayersConfig{
		Layers: []string{"height_diff"},
		LayerParams: map[string]LayerSettings{
			"height_diff": {
				Type:      "mesh_layers/HeightDiffLayer",
				Factor:    ptrFloat64(DefaultFactor),
				Threshold: ptrFloat64(0.3),
				Radius:    ptrFloat64(0.3),
			},
		},
		ComputeWorkers: ptrInt(DefaultComputeWorkers),
	}
}

// LoadConfig loads a MeshLayersConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadConfig(path string) (*MeshLayersConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &MeshLayersConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *MeshLayersConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every listed layer is configured and that all
// numeric parameters are in range.
func (c *MeshLayersConfig) Validate() error {
	if len(c.Layers) == 0 {
		return fmt.Errorf("layers must list at least one layer")
	}
	seen := make(map[string]bool, len(c.Layers))
	for _, name := range c.Layers {
		if name == "" {
			return fmt.Errorf("layer names must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("layer %q listed more than once", name)
		}
		seen[name] = true

		s, ok := c.LayerParams[name]
		if !ok {
			return fmt.Errorf("layer %q has no layer_params entry", name)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("layer %q: %w", name, err)
		}
	}
	if c.ComputeWorkers != nil && *c.ComputeWorkers < 0 {
		return fmt.Errorf("compute_workers must be non-negative, got %d", *c.ComputeWorkers)
	}
	return nil
}

// Validate checks a single layer entry.
func (s LayerSettings) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("type must be set")
	}
	if s.Factor != nil && *s.Factor < 0 {
		return fmt.Errorf("factor must be non-negative, got %f", *s.Factor)
	}
	if s.Threshold != nil && *s.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative, got %f", *s.Threshold)
	}
	if s.Radius != nil && *s.Radius <= 0 {
		return fmt.Errorf("radius must be positive, got %f", *s.Radius)
	}
	return nil
}

// Settings returns the entry for layer name.
func (c *MeshLayersConfig) Settings(name string) (LayerSettings, bool) {
	s, ok := c.LayerParams[name]
	return s, ok
}

// GetComputeWorkers returns compute_workers or the default.
func (c *MeshLayersConfig) GetComputeWorkers() int {
	if c.ComputeWorkers == nil {
		return DefaultComputeWorkers
	}
	return *c.ComputeWorkers
}

// GetFactor returns the layer weight or DefaultFactor.
func (s LayerSettings) GetFactor() float64 {
	if s.Factor == nil {
		return DefaultFactor
	}
	return *s.Factor
}

// GetThreshold returns the configured threshold or def.
func (s LayerSettings) GetThreshold(def float64) float64 {
	if s.Threshold == nil {
		return def
	}
	return *s.Threshold
}

// GetRadius returns the configured radius or def.
func (s LayerSettings) GetRadius(def float64) float64 {
	if s.Radius == nil {
		return def
	}
	return *s.Radius
}
