package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds process-wide CLI defaults loaded from a YAML config file,
// consulted only when a flag was neither passed on the command line nor
// (on resume) already present in the saved RunConfig.
type Settings struct {
	TasksDir         string `yaml:"tasks_dir"`
	Concurrency      int    `yaml:"concurrency"`
	VerifyConcurrency int   `yaml:"verify_concurrency"`
	MaxRetries       int    `yaml:"max_retries"`
	AllowlistPattern string `yaml:"allowlist_pattern"`
	Git              *GitSettings `yaml:"git,omitempty"`
	MemoryHighThresholdPercent float64 `yaml:"memory_high_threshold_percent,omitempty"`
	MemoryLowThresholdPercent  float64 `yaml:"memory_low_threshold_percent,omitempty"`
}

// GitSettings mirrors loopstate.GitConfig for the YAML file.
type GitSettings struct {
	Enabled    bool   `yaml:"enabled"`
	AutoBranch bool   `yaml:"auto_branch"`
	AutoCommit bool   `yaml:"auto_commit"`
	CommitMessageTemplate string `yaml:"commit_message_template,omitempty"`
}

// LoadSettings reads a YAML config file into Settings. If the file does not
// exist, it returns zero-value Settings and nil error.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &s, nil
}
