// Package config loads the adlaunch YAML configuration. Defaults cover a
// standard deployment; the file and a handful of environment variables
// override them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"adlaunch/internal/model"
)

// Config holds all adlaunch configuration.
type Config struct {
	// DataDir is where checkpoints, the run ledger, and debug logs live.
	DataDir string `yaml:"data_dir"`

	Platform PlatformConfig `yaml:"platform"`
	Browser  BrowserConfig  `yaml:"browser"`
	Run      RunConfig      `yaml:"run"`
	Naming   NamingConfig   `yaml:"naming"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PlatformConfig describes the ad platform and the template campaigns the
// tool clones from.
type PlatformConfig struct {
	BaseURL     string `yaml:"base_url"`
	SessionFile string `yaml:"session_file"`

	// Templates maps variant names (desktop, ios, all_mobile) to the
	// platform campaign id cloned for that variant. Android has no entry:
	// it clones the set's own ios campaign.
	Templates map[string]string `yaml:"templates"`
}

// BrowserConfig configures the automated Chrome session.
type BrowserConfig struct {
	Headless          bool   `yaml:"headless"`
	Bin               string `yaml:"bin"`
	SlowMo            string `yaml:"slow_mo"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	ActionTimeout     string `yaml:"action_timeout"`
}

// RunConfig configures batch execution.
type RunConfig struct {
	Workers        int `yaml:"workers"`
	CleaningPasses int `yaml:"cleaning_passes"`
}

// NamingConfig carries the fixed parts of the campaign naming convention.
type NamingConfig struct {
	Language string `yaml:"language"`
	AdFormat string `yaml:"ad_format"`
	BidType  string `yaml:"bid_type"`
	Source   string `yaml:"source"`
	Initials string `yaml:"initials"`
}

// LoggingConfig configures the categorized debug logs.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".adlaunch"),

		Platform: PlatformConfig{
			BaseURL:     "https://www.trafficjunky.com",
			SessionFile: filepath.Join(home, ".adlaunch", "session.json"),
			Templates: map[string]string{
				"desktop":    "1013076141",
				"ios":        "1013076221",
				"all_mobile": "1013076221",
			},
		},

		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: "45s",
			ActionTimeout:     "30s",
		},

		Run: RunConfig{
			Workers:        1,
			CleaningPasses: 1,
		},

		Naming: NamingConfig{
			Language: "EN",
			AdFormat: "NATIVE",
			BidType:  "CPA",
			Source:   "ALL",
			Initials: "XX",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, starting from defaults. A
// missing file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("ADLAUNCH_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if url := os.Getenv("ADLAUNCH_BASE_URL"); url != "" {
		c.Platform.BaseURL = url
	}
	if path := os.Getenv("ADLAUNCH_SESSION_FILE"); path != "" {
		c.Platform.SessionFile = path
	}
}

// Validate checks the parts of the configuration a run cannot proceed
// without.
func (c *Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url not configured")
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be at least 1, got %d", c.Run.Workers)
	}
	for _, variant := range []string{"desktop", "ios", "all_mobile"} {
		if c.Platform.Templates[variant] == "" {
			return fmt.Errorf("platform.templates.%s not configured", variant)
		}
	}
	return nil
}

// TemplateIDs converts the configured template map to typed variants.
func (c *Config) TemplateIDs() map[model.Variant]string {
	out := make(map[model.Variant]string, len(c.Platform.Templates))
	for name, id := range c.Platform.Templates {
		v, err := model.ParseVariant(name)
		if err != nil {
			continue
		}
		out[v] = id
	}
	return out
}

// NameParams converts the naming section for the model package.
func (c *Config) NameParams() model.NameParams {
	return model.NameParams{
		Language: c.Naming.Language,
		AdFormat: c.Naming.AdFormat,
		BidType:  c.Naming.BidType,
		Source:   c.Naming.Source,
		Initials: c.Naming.Initials,
	}
}

// CheckpointDir is where checkpoint files live.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// LedgerPath is the run-ledger database file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// GetSlowMo returns the browser slow-motion delay as a duration.
func (c *Config) GetSlowMo() time.Duration {
	d, err := time.ParseDuration(c.Browser.SlowMo)
	if err != nil {
		return 0
	}
	return d
}

// GetNavigationTimeout returns the page navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigationTimeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// GetActionTimeout returns the element action timeout as a duration.
func (c *Config) GetActionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.ActionTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
