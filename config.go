package sentinel

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-sentinel/filter"
	"github.com/ethereum-optimism/infra/op-sentinel/flags"
)

// Config holds the application configuration
type Config struct {
	ComponentsDir string        // Directory watched for component modules
	Components    []string      // Component modules loaded once at startup
	ReportsDir    string        // Directory the surefire reports are written to
	RerunCount    int           // Reruns of a failed test before it is reported
	Autostart     bool          // Start a continuous run once components are loaded
	RunOnce       bool          // Run every test once and exit
	Includes      []string      // Patterns of test packages to run
	Excludes      []string      // Patterns of test packages to skip
	RegistryMode  string        // Discovery mode of the registry
	RunInterval   time.Duration // Interval between continuous passes
	SettleDelay   time.Duration // Quiet period before a new component is loaded
	GoBinary      string
	TestTimeout   time.Duration
	RPCHost       string
	RPCPort       int
	Log           log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	cfg := &Config{
		ComponentsDir: ctx.String(flags.ComponentsDir.Name),
		Components:    ctx.StringSlice(flags.Components.Name),
		ReportsDir:    ctx.String(flags.ReportsDir.Name),
		RerunCount:    ctx.Int(flags.RerunCount.Name),
		Autostart:     ctx.Bool(flags.Autostart.Name),
		RunOnce:       ctx.Bool(flags.RunOnce.Name),
		Includes:      filter.ParsePatterns(ctx.String(flags.Include.Name)),
		Excludes:      filter.ParsePatterns(ctx.String(flags.Exclude.Name)),
		RegistryMode:  ctx.String(flags.RegistryMode.Name),
		RunInterval:   ctx.Duration(flags.RunInterval.Name),
		SettleDelay:   ctx.Duration(flags.SettleDelay.Name),
		GoBinary:      ctx.String(flags.GoBinary.Name),
		TestTimeout:   ctx.Duration(flags.TestTimeout.Name),
		RPCHost:       ctx.String(flags.RPCAddr.Name),
		RPCPort:       ctx.Int(flags.RPCPort.Name),
		Log:           log,
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates the configuration and resolves its paths
func (c *Config) Check() error {
	if c.ComponentsDir == "" && len(c.Components) == 0 {
		return errors.New("a components directory or at least one component is required")
	}
	if err := flags.ValidateRegistryMode(c.RegistryMode); err != nil {
		return err
	}
	if c.RerunCount < 0 {
		return fmt.Errorf("rerun count must not be negative, got %d", c.RerunCount)
	}
	if c.RunInterval <= 0 {
		return fmt.Errorf("run interval must be positive, got %s", c.RunInterval)
	}
	if c.RunOnce && c.Autostart {
		return errors.New("run-once and autostart are mutually exclusive")
	}
	if _, err := filter.New(c.Includes, c.Excludes); err != nil {
		return err
	}
	if c.ReportsDir == "" {
		c.ReportsDir = "surefire-reports"
	}

	var err error
	if c.ReportsDir, err = filepath.Abs(c.ReportsDir); err != nil {
		return fmt.Errorf("failed to resolve absolute path for reports directory '%s': %w", c.ReportsDir, err)
	}
	if c.ComponentsDir != "" {
		if c.ComponentsDir, err = filepath.Abs(c.ComponentsDir); err != nil {
			return fmt.Errorf("failed to resolve absolute path for components directory '%s': %w", c.ComponentsDir, err)
		}
	}
	for i, dir := range c.Components {
		if c.Components[i], err = filepath.Abs(dir); err != nil {
			return fmt.Errorf("failed to resolve absolute path for component '%s': %w", dir, err)
		}
	}
	if c.Log == nil {
		c.Log = log.New()
	}
	return nil
}
