package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// pipelineConfig describes one pipeline run: which storage backend to
// open and which declared steps to wire together. This is the single,
// deliberately narrow piece of YAML parsing the demo binary needs —
// the engine package itself never touches configuration files.
type pipelineConfig struct {
	Project string         `yaml:"project"`
	Storage storageConfig  `yaml:"storage"`
	Steps   []stepConfig   `yaml:"steps"`
	Status  *statusConfig  `yaml:"status,omitempty"`
}

type storageConfig struct {
	// Backend selects one of "sqlite", "postgres", "pebble".
	Backend string `yaml:"backend"`
	// DSN is the backend-specific connection string: a file path for
	// sqlite, a directory for pebble, a connection URL for postgres.
	DSN string `yaml:"dsn"`
}

type statusConfig struct {
	Addr string `yaml:"addr"`
}

// stepConfig describes one declared step. Kind selects a constructor
// from the demo step registry; Params is passed through to it
// verbatim.
type stepConfig struct {
	Name     string         `yaml:"name"`
	Kind     string         `yaml:"kind"`
	Input    string         `yaml:"input,omitempty"`
	Output   string         `yaml:"output,omitempty"`
	Count    int            `yaml:"count,omitempty"`
	Parallel int            `yaml:"parallel,omitempty"`
	Params   map[string]any `yaml:"params,omitempty"`
}

func loadPipelineConfig(path string) (*pipelineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %q", path)
	}

	var cfg pipelineConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %q", path)
	}
	if cfg.Project == "" {
		return nil, errors.Newf("config: %q: project name is required", path)
	}
	if cfg.Storage.Backend == "" {
		return nil, errors.Newf("config: %q: storage.backend is required", path)
	}
	return &cfg, nil
}
