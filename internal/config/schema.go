// Package config defines the configuration schema for memshard.
//
// JSON keys use camelCase. Files ending in .yaml or .yml use the same keys.
package config

import (
	"os"
	"path/filepath"

	"github.com/crystaldolphin/memshard/internal/batch"
	"github.com/crystaldolphin/memshard/internal/config/provider"
	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/visibility"
)

const defaultWorkspace = "~/.memshard/workspace"

// MemoryConfig controls how chats are cut into shards.
type MemoryConfig struct {
	ChunkSize         int    `json:"chunkSize" yaml:"chunkSize"`
	KeepRecent        int    `json:"keepRecent" yaml:"keepRecent"`
	MaxPendingResults int    `json:"maxPendingResults" yaml:"maxPendingResults"`
	ReviewPolicy      string `json:"reviewPolicy" yaml:"reviewPolicy"` // never | errors | warnings | always
	ExtractKeywords   bool   `json:"extractKeywords" yaml:"extractKeywords"`
	// InjectShards inserts each shard into the chat. Otherwise shards only
	// go to the archive.
	InjectShards bool `json:"injectShards" yaml:"injectShards"`
	// ExistingShards is how many earlier shards are shown to the LLM.
	ExistingShards int `json:"existingShards" yaml:"existingShards"`
}

func defaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		ChunkSize:         20,
		KeepRecent:        10,
		MaxPendingResults: batch.DefaultMaxPendingResults,
		ReviewPolicy:      string(batch.PolicyErrors),
		ExtractKeywords:   true,
		InjectShards:      true,
		ExistingShards:    3,
	}
}

// VisibilityConfig holds the global projection settings.
type VisibilityConfig struct {
	HideByDefault  bool   `json:"hideByDefault" yaml:"hideByDefault"`
	CollapseHidden bool   `json:"collapseHidden" yaml:"collapseHidden"`
	IgnoreNames    string `json:"ignoreNames" yaml:"ignoreNames"` // comma-separated
}

func defaultVisibilityConfig() VisibilityConfig {
	return VisibilityConfig{HideByDefault: true}
}

// StorageConfig selects where hidden ranges are kept.
type StorageConfig struct {
	Backend    string `json:"backend" yaml:"backend"` // file | sqlite
	SQLitePath string `json:"sqlitePath,omitempty" yaml:"sqlitePath,omitempty"`
}

func defaultStorageConfig() StorageConfig {
	return StorageConfig{Backend: "file"}
}

// ScheduleConfig configures automatic summarization in serve.
type ScheduleConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Expr     string   `json:"expr" yaml:"expr"`
	Sessions []string `json:"sessions" yaml:"sessions"`
}

func defaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{Expr: "0 * * * *", Sessions: []string{}}
}

// FeedConfig configures the websocket render feed in serve.
type FeedConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func defaultFeedConfig() FeedConfig {
	return FeedConfig{Addr: "127.0.0.1:18791"}
}

// Config is the root configuration object, loaded from ~/.memshard/config.json.
type Config struct {
	Workspace  string                  `json:"workspace" yaml:"workspace"`
	Memory     MemoryConfig            `json:"memory" yaml:"memory"`
	Visibility VisibilityConfig        `json:"visibility" yaml:"visibility"`
	Storage    StorageConfig           `json:"storage" yaml:"storage"`
	Provider   provider.ProviderConfig `json:"provider" yaml:"provider"`
	Schedule   ScheduleConfig          `json:"schedule" yaml:"schedule"`
	Feed       FeedConfig              `json:"feed" yaml:"feed"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Workspace:  defaultWorkspace,
		Memory:     defaultMemoryConfig(),
		Visibility: defaultVisibilityConfig(),
		Storage:    defaultStorageConfig(),
		Provider:   provider.DefaultProviderConfig(),
		Schedule:   defaultScheduleConfig(),
		Feed:       defaultFeedConfig(),
	}
}

// WorkspacePath returns the expanded absolute path to the workspace.
func (c *Config) WorkspacePath() string {
	return expandHome(c.Workspace, defaultWorkspace)
}

// SQLitePath returns the expanded SQLite database path, defaulting to
// ranges.db inside the workspace.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath == "" {
		return filepath.Join(c.WorkspacePath(), "ranges.db")
	}
	return expandHome(c.Storage.SQLitePath, "")
}

// VisibilitySettings converts the visibility section for the projector.
func (c *Config) VisibilitySettings() visibility.Settings {
	return visibility.Settings{
		HideByDefault:  c.Visibility.HideByDefault,
		CollapseHidden: c.Visibility.CollapseHidden,
		IgnoreNames:    ranges.ParseNames(c.Visibility.IgnoreNames),
	}
}

// ReviewPolicy parses memory.reviewPolicy.
func (c *Config) ReviewPolicy() (batch.Policy, error) {
	return batch.ParsePolicy(c.Memory.ReviewPolicy)
}

func expandHome(p, def string) string {
	if p == "" {
		p = def
	}
	if len(p) >= 2 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	return p
}
