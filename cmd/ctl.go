package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-sentinel/filter"
	"github.com/ethereum-optimism/infra/op-sentinel/flags"
	"github.com/ethereum-optimism/infra/op-sentinel/service"
)

const ctlTimeout = 30 * time.Second

var (
	EndpointFlag = &cli.StringFlag{
		Name:    "endpoint",
		Value:   "http://127.0.0.1:8080",
		EnvVars: opservice.PrefixEnvVar(flags.EnvVarPrefix, "CTL_ENDPOINT"),
		Usage:   "URL of the management API of a running op-sentinel",
	}
	ReportsPathFlag = &cli.StringFlag{
		Name:  "reports-dir",
		Usage: "Directory the reports of this run are written to, the service default when empty",
	}
	IncludeFlag = &cli.StringFlag{
		Name:  "include",
		Usage: "Comma or space separated patterns of test packages to run",
	}
	ExcludeFlag = &cli.StringFlag{
		Name:  "exclude",
		Usage: "Comma or space separated patterns of test packages to skip",
	}
)

func ctlCommand() *cli.Command {
	return &cli.Command{
		Name:  "ctl",
		Usage: "control a running op-sentinel through its management API",
		Flags: cliapp.ProtectFlags([]cli.Flag{EndpointFlag}),
		Subcommands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "keep running every registered test until stopped",
				Action: withClient(func(ctx context.Context, c *cli.Context, client *service.Client) error { return client.Start(ctx) }),
			},
			{
				Name:  "start-filtered",
				Usage: "run the registered tests matching the patterns once",
				Flags: []cli.Flag{IncludeFlag, ExcludeFlag, ReportsPathFlag},
				Action: withClient(func(ctx context.Context, c *cli.Context, client *service.Client) error {
					return client.StartFiltered(ctx,
						filter.ParsePatterns(c.String(IncludeFlag.Name)),
						filter.ParsePatterns(c.String(ExcludeFlag.Name)),
						c.String(ReportsPathFlag.Name))
				}),
			},
			{
				Name:      "start-tests",
				Usage:     "run the given tests once",
				ArgsUsage: "<test id>...",
				Flags:     []cli.Flag{ReportsPathFlag},
				Action: withClient(func(ctx context.Context, c *cli.Context, client *service.Client) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one test id is required")
					}
					return client.StartTests(ctx, c.Args().Slice(), c.String(ReportsPathFlag.Name))
				}),
			},
			{
				Name:   "stop",
				Usage:  "stop the active run after the current test",
				Action: withClient(func(ctx context.Context, c *cli.Context, client *service.Client) error { return client.Stop(ctx) }),
			},
			{
				Name:   "dispose",
				Usage:  "stop the active run and forget every registered test",
				Action: withClient(func(ctx context.Context, c *cli.Context, client *service.Client) error { return client.Dispose(ctx) }),
			},
			{
				Name:   "status",
				Usage:  "print the runner state",
				Action: withClient(printStatus),
			},
			{
				Name:   "tests",
				Usage:  "list the registered test ids",
				Action: withClient(printTests),
			},
		},
	}
}

func withClient(fn func(ctx context.Context, c *cli.Context, client *service.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, ctlTimeout)
		defer cancel()

		client, err := service.Dial(ctx, c.String(EndpointFlag.Name))
		if err != nil {
			return err
		}
		defer client.Close()
		return fn(ctx, c, client)
	}
}

func printStatus(ctx context.Context, c *cli.Context, client *service.Client) error {
	state, err := client.State(ctx)
	if err != nil {
		return err
	}
	remaining, err := client.TestCount(ctx)
	if err != nil {
		return err
	}
	stopped, err := client.IsStopped(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "state: %s\nremaining: %d\nstopped: %t\n", state, remaining, stopped)
	return err
}

func printTests(ctx context.Context, c *cli.Context, client *service.Client) error {
	ids, err := client.TestIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = fmt.Fprintln(c.App.Writer, strings.Join(ids, "\n"))
	return err
}
