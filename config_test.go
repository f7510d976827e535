package sentinel

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-sentinel/flags"
)

// parseConfig runs a cli app with the service flags and returns the resulting config
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg    *Config
		cfgErr error
	)
	app := &cli.App{
		Flags: flags.Flags,
		Action: func(ctx *cli.Context) error {
			cfg, cfgErr = NewConfig(ctx, log.New())
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"op-sentinel"}, args...)))
	return cfg, cfgErr
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(t, "--components-dir", "components")
	require.NoError(t, err)

	abs, err := filepath.Abs("components")
	require.NoError(t, err)
	assert.Equal(t, abs, cfg.ComponentsDir)
	assert.True(t, filepath.IsAbs(cfg.ReportsDir))
	assert.Equal(t, "surefire-reports", filepath.Base(cfg.ReportsDir))
	assert.Equal(t, 0, cfg.RerunCount)
	assert.Equal(t, "auto", cfg.RegistryMode)
	assert.Equal(t, 5*time.Second, cfg.RunInterval)
	assert.Equal(t, 10*time.Minute, cfg.TestTimeout)
	assert.Equal(t, "go", cfg.GoBinary)
	assert.Equal(t, 8080, cfg.RPCPort)
	assert.False(t, cfg.Autostart)
	assert.Empty(t, cfg.Includes)
	assert.Empty(t, cfg.Excludes)
}

func TestNewConfigFlags(t *testing.T) {
	cfg, err := parseConfig(t,
		"--component", "a", "--component", "/srv/b",
		"--rerun-count", "2",
		"--autostart",
		"--include", "example.com/**, other.org/*",
		"--exclude", "example.com/slow/**",
		"--registry-mode", "manifest",
		"--run-interval", "1m",
		"--port", "9000",
	)
	require.NoError(t, err)

	abs, err := filepath.Abs("a")
	require.NoError(t, err)
	assert.Equal(t, []string{abs, "/srv/b"}, cfg.Components)
	assert.Equal(t, 2, cfg.RerunCount)
	assert.True(t, cfg.Autostart)
	assert.Equal(t, []string{"example.com/**", "other.org/*"}, cfg.Includes)
	assert.Equal(t, []string{"example.com/slow/**"}, cfg.Excludes)
	assert.Equal(t, "manifest", cfg.RegistryMode)
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 9000, cfg.RPCPort)
}

func TestNewConfigErrors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"nothing to test", nil},
		{"negative reruns", []string{"--component", "a", "--rerun-count", "-1"}},
		{"zero interval", []string{"--component", "a", "--run-interval", "0s"}},
		{"run-once with autostart", []string{"--component", "a", "--run-once", "--autostart"}},
		{"bad pattern", []string{"--component", "a", "--include", "example.com/[a"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := parseConfig(t, tc.args...)
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
