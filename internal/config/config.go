// Package config loads the optional per-repository .duet.yaml file and
// merges it over defaults. The config tunes which models are compared,
// what the snapshots exclude, where transcripts are looked for, and which
// files survive the between-model reset.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/duet/internal/errors"
	"github.com/zhubert/duet/internal/snapshot"
)

// FileName is the repo-root config file.
const FileName = ".duet.yaml"

// Config is the merged workflow configuration.
type Config struct {
	// Models is the comparison pair. Exactly two when set.
	Models []string `yaml:"models"`

	// SnapshotExcludes replaces the default snapshot exclude patterns.
	SnapshotExcludes []string `yaml:"snapshot_excludes"`

	// DiffExcludes lists path tokens whose diff blocks are dropped from
	// captured patches.
	DiffExcludes []string `yaml:"diff_excludes"`

	// PreserveFiles survive the hard reset between model runs.
	PreserveFiles []string `yaml:"preserve_files"`

	// TranscriptSources are extra transcript log locations tried after
	// the session and repo defaults.
	TranscriptSources []string `yaml:"transcript_sources"`
}

// DefaultConfig returns the configuration used when no .duet.yaml exists.
func DefaultConfig() *Config {
	return &Config{
		SnapshotExcludes: append([]string(nil), snapshot.DefaultExcludes...),
		DiffExcludes: []string{
			FileName,
			".snapshot-exclude",
			".claude/",
			"task_prompt.txt",
		},
		PreserveFiles: []string{
			FileName,
			".snapshot-exclude",
		},
	}
}

// Load reads .duet.yaml from the repo root. Returns nil, nil if the file
// does not exist.
func Load(repoPath string) (*Config, error) {
	fp := filepath.Join(repoPath, FileName)

	data, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.ConfigLoadFailed(fp, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.ConfigLoadFailed(fp, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAndMerge loads the repo config and merges it over the defaults.
// If no config file exists, returns the defaults.
func LoadAndMerge(repoPath string) (*Config, error) {
	cfg, err := Load(repoPath)
	if err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if cfg == nil {
		return defaults, nil
	}
	return Merge(cfg, defaults), nil
}

// Merge overlays cfg onto defaults. Non-empty cfg lists win; transcript
// sources are additive since the defaults carry none.
func Merge(cfg, defaults *Config) *Config {
	out := *defaults
	if len(cfg.Models) > 0 {
		out.Models = cfg.Models
	}
	if len(cfg.SnapshotExcludes) > 0 {
		out.SnapshotExcludes = cfg.SnapshotExcludes
	}
	if len(cfg.DiffExcludes) > 0 {
		out.DiffExcludes = cfg.DiffExcludes
	}
	if len(cfg.PreserveFiles) > 0 {
		out.PreserveFiles = cfg.PreserveFiles
	}
	if len(cfg.TranscriptSources) > 0 {
		out.TranscriptSources = append(out.TranscriptSources, cfg.TranscriptSources...)
	}
	return &out
}

func (c *Config) validate() error {
	if len(c.Models) != 0 && len(c.Models) != 2 {
		return errors.ConfigInvalid(fmt.Sprintf("models must list exactly 2 entries, got %d", len(c.Models)))
	}
	if len(c.Models) == 2 && c.Models[0] == c.Models[1] {
		return errors.ConfigInvalid("the two configured models must differ")
	}
	return nil
}
