package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML benchmark configuration.
type Config struct {
	// Runs are executed in order; completed runs are skipped on resume.
	Runs []RunConfig `yaml:"runs"`

	// MaxQPS throttles search throughput during measurement (0 = unlimited).
	MaxQPS float64 `yaml:"max_qps"`

	// PublishDir, when set, receives a copy of the result files through the
	// local blob store.
	PublishDir string `yaml:"publish_dir"`
}

// RunConfig describes a single build+search measurement.
type RunConfig struct {
	Name string `yaml:"name"`

	Vectors   int `yaml:"vectors"`
	Dimension int `yaml:"dimension"`
	Queries   int `yaml:"queries"`
	TopK      int `yaml:"top_k"`

	MaxDegree int     `yaml:"max_degree"`
	BeamWidth int     `yaml:"beam_width"`
	Alpha     float32 `yaml:"alpha"`
	Overflow  float32 `yaml:"overflow"`
	Hierarchy bool    `yaml:"hierarchy"`

	PQSubspaces int `yaml:"pq_subspaces"`
	PQClusters  int `yaml:"pq_clusters"`

	Seed int64 `yaml:"seed"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Runs) == 0 {
		return nil, fmt.Errorf("config %s has no runs", path)
	}
	for i := range cfg.Runs {
		r := &cfg.Runs[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("run-%d", i)
		}
		if r.Vectors <= 0 || r.Dimension <= 0 {
			return nil, fmt.Errorf("run %q: vectors and dimension must be positive", r.Name)
		}
		if r.Queries <= 0 {
			r.Queries = 100
		}
		if r.TopK <= 0 {
			r.TopK = 10
		}
		if r.MaxDegree <= 0 {
			r.MaxDegree = 32
		}
		if r.BeamWidth <= 0 {
			r.BeamWidth = 100
		}
		if r.Alpha < 1 {
			r.Alpha = 1.2
		}
		if r.Overflow < 1 {
			r.Overflow = 1.2
		}
		if r.PQClusters <= 0 {
			r.PQClusters = 256
		}
		if r.Seed == 0 {
			r.Seed = int64(42 + i)
		}
	}
	return &cfg, nil
}
