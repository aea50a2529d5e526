package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"adlaunch/internal/model"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "https://www.trafficjunky.com", cfg.Platform.BaseURL)
	require.Equal(t, 1, cfg.Run.Workers)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platform:
  base_url: https://staging.example.com
browser:
  headless: false
  slow_mo: 250ms
run:
  workers: 3
naming:
  initials: JB
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://staging.example.com", cfg.Platform.BaseURL)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, 250*time.Millisecond, cfg.GetSlowMo())
	require.Equal(t, 3, cfg.Run.Workers)
	require.Equal(t, "JB", cfg.NameParams().Initials)

	// Untouched sections keep their defaults.
	require.Equal(t, "1013076141", cfg.Platform.Templates["desktop"])
	require.Equal(t, 45*time.Second, cfg.GetNavigationTimeout())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADLAUNCH_BASE_URL", "https://env.example.com")
	t.Setenv("ADLAUNCH_DATA_DIR", "/tmp/adlaunch-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "https://env.example.com", cfg.Platform.BaseURL)
	require.Equal(t, "/tmp/adlaunch-test", cfg.DataDir)
	require.Equal(t, filepath.Join("/tmp/adlaunch-test", "checkpoints"), cfg.CheckpointDir())
	require.Equal(t, filepath.Join("/tmp/adlaunch-test", "runs.db"), cfg.LedgerPath())
}

func TestValidateRejectsMissingTemplates(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.Platform.Templates, "ios")
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Run.Workers = 0
	require.Error(t, cfg.Validate())
}

func TestTemplateIDsIgnoresUnknownVariants(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Platform.Templates["smartfridge"] = "123"

	ids := cfg.TemplateIDs()
	require.Equal(t, "1013076221", ids[model.VariantIOS])
	require.Len(t, ids, 3)
}
