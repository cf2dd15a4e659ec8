package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Sandbox       SandboxConfig       `toml:"sandbox"`
	Council       CouncilConfig       `toml:"council"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Git           GitConfig           `toml:"git"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	MaxRetries   int    `toml:"max_retries"`
}

// SandboxConfig holds compute-provider settings
type SandboxConfig struct {
	Template        string `toml:"template"`
	LifetimeMinutes int    `toml:"lifetime_minutes"`
	WorkDir         string `toml:"work_dir"`
}

// Lifetime returns the configured absolute session lifetime.
func (c SandboxConfig) Lifetime() time.Duration {
	return time.Duration(c.LifetimeMinutes) * time.Minute
}

// CouncilConfig holds council settings
type CouncilConfig struct {
	ManifestPath  string `toml:"manifest_path"`
	WatchManifest bool   `toml:"watch_manifest"`
	AgentBinary   string `toml:"agent_binary"`
}

// SchedulerConfig holds external-scheduler bridge settings
type SchedulerConfig struct {
	URL         string `toml:"url"`
	RequeueCron string `toml:"requeue_cron"`
}

// GitConfig holds source-control settings
type GitConfig struct {
	BaseBranch string `toml:"base_branch"`
	HostAPIURL string `toml:"host_api_url"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".council-orch", "orchestrator.db"),
			MaxRetries:   3,
		},
		Sandbox: SandboxConfig{
			Template:        "base",
			LifetimeMinutes: 60,
			WorkDir:         filepath.Join(home, ".council-orch", "sandboxes"),
		},
		Council: CouncilConfig{
			ManifestPath:  filepath.Join(home, ".council-orch", "council.yaml"),
			WatchManifest: true,
			AgentBinary:   "claude",
		},
		Scheduler: SchedulerConfig{
			RequeueCron: "*/15 * * * *",
		},
		Git: GitConfig{
			BaseBranch: "main",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Council.ManifestPath = ExpandPath(cfg.Council.ManifestPath)
	cfg.Sandbox.WorkDir = ExpandPath(cfg.Sandbox.WorkDir)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "council-orch", "config.toml")
}
