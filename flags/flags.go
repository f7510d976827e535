package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	"github.com/ethereum-optimism/infra/op-sentinel/discovery"
)

const EnvVarPrefix = "OP_SENTINEL"

var (
	ComponentsDir = &cli.StringFlag{
		Name:    "components-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMPONENTS_DIR"),
		Usage:   "Directory watched for Go modules to test. Each direct subdirectory with a go.mod is a component",
	}
	Components = &cli.StringSliceFlag{
		Name:    "component",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMPONENT"),
		Usage:   "Path to a Go module to test, can be repeated",
	}
	ReportsDir = &cli.StringFlag{
		Name:    "reports-dir",
		Value:   "surefire-reports",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORTS_DIR"),
		Usage:   "Directory the XML test reports are written to",
	}
	RerunCount = &cli.IntFlag{
		Name:    "rerun-count",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RERUN_COUNT"),
		Usage:   "How many times a failed test is rerun before it is reported as failed",
	}
	Autostart = &cli.BoolFlag{
		Name:    "autostart",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "AUTOSTART"),
		Usage:   "Start running tests continuously as soon as the service is up",
	}
	RunOnce = &cli.BoolFlag{
		Name:    "run-once",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_ONCE"),
		Usage:   "Run every test once, then exit. The exit code is 1 when a test failed",
	}
	Include = &cli.StringFlag{
		Name:    "include",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INCLUDE"),
		Usage:   "Comma or space separated patterns of test packages to run (eg. 'example.com/**')",
	}
	Exclude = &cli.StringFlag{
		Name:    "exclude",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXCLUDE"),
		Usage:   "Comma or space separated patterns of test packages to skip. Vendored packages are always skipped",
	}
	RegistryMode = &cli.StringFlag{
		Name:    "registry-mode",
		Value:   discovery.ModeAuto,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REGISTRY_MODE"),
		Usage:   fmt.Sprintf("How tests are discovered: '%s' scans packages, '%s' reads %s", discovery.ModeAuto, discovery.ModeManifest, discovery.ManifestFile),
		Action: func(_ *cli.Context, mode string) error {
			return ValidateRegistryMode(mode)
		},
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   5 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between two passes in continuous mode (e.g. '30s', '5m')",
	}
	SettleDelay = &cli.DurationFlag{
		Name:    "settle-delay",
		Value:   500 * time.Millisecond,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTLE_DELAY"),
		Usage:   "How long a new component directory must stay unchanged before it is loaded",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	TestTimeout = &cli.DurationFlag{
		Name:    "test-timeout",
		Value:   10 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_TIMEOUT"),
		Usage:   "Timeout of one go test invocation",
	}
	RPCAddr = &cli.StringFlag{
		Name:    "addr",
		Value:   "0.0.0.0",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ADDR"),
		Usage:   "Listen address of the management server",
	}
	RPCPort = &cli.IntFlag{
		Name:    "port",
		Value:   8080,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PORT"),
		Usage:   "Listen port of the management server",
	}
)

var optionalFlags = []cli.Flag{
	ComponentsDir,
	Components,
	ReportsDir,
	RerunCount,
	Autostart,
	RunOnce,
	Include,
	Exclude,
	RegistryMode,
	RunInterval,
	SettleDelay,
	GoBinary,
	TestTimeout,
	RPCAddr,
	RPCPort,
}

var Flags []cli.Flag

func init() {
	Flags = append(Flags, optionalFlags...)
	Flags = append(Flags, oplog.CLIFlags(EnvVarPrefix)...)
}

// ValidateRegistryMode checks that mode names a discovery mode
func ValidateRegistryMode(mode string) error {
	switch mode {
	case discovery.ModeAuto, discovery.ModeManifest:
		return nil
	default:
		return fmt.Errorf("registry mode must be one of: %s, %s", discovery.ModeAuto, discovery.ModeManifest)
	}
}

// CheckRequired makes sure there is something to test
func CheckRequired(ctx *cli.Context) error {
	if !ctx.IsSet(ComponentsDir.Name) && len(ctx.StringSlice(Components.Name)) == 0 {
		return fmt.Errorf("flag %s or %s is required", ComponentsDir.Name, Components.Name)
	}
	return nil
}
