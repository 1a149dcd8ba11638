package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/apiary/internal/config"
)

// version is set via ldflags at build time.
// e.g. -ldflags "-X main.version=1.2.3"
var version = "dev"

// newApp creates the CLI application with all flags and commands.
func newApp() *cli.Command {
	defaults := config.DefaultConfig()
	return &cli.Command{
		Name:        "apiary",
		Usage:       "Beehive concurrency simulation",
		Version:     version,
		UsageText:   "apiary [global options] [command] [N T_k eggs]",
		Description: "Apiary runs a colony of bees that share a capacity-bounded hive through two FIFO entrances",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (.json, .yaml or .toml); default <hive-dir>/" + config.DefaultFile,
			},
			&cli.StringFlag{
				Name:  "hive-dir",
				Usage: "Directory holding the journal and log file",
				Value: defaults.HiveDir,
			},
			&cli.IntFlag{
				Name:    "frames",
				Aliases: []string{"n"},
				Usage:   "Initial capacity basis N (also the initial population)",
				Value:   defaults.Hive.Frames,
			},
			&cli.IntFlag{
				Name:  "max-frames",
				Usage: "Ceiling for N",
				Value: defaults.Hive.MaxFrames,
			},
			&cli.DurationFlag{
				Name:    "lay-interval",
				Aliases: []string{"k"},
				Usage:   "Time between queen laying cycles",
				Value:   defaults.Queen.LayInterval,
			},
			&cli.IntFlag{
				Name:    "eggs",
				Aliases: []string{"e"},
				Usage:   "Bees laid per queen cycle",
				Value:   defaults.Queen.EggsPerCycle,
			},
			&cli.IntFlag{
				Name:  "visits",
				Usage: "Visits each bee makes before it dies",
				Value: defaults.Bees.MaxVisits,
			},
			&cli.Float64Flag{
				Name:  "time-scale",
				Usage: "Divide every duration by this factor",
				Value: defaults.TimeScale,
			},
			&cli.IntFlag{
				Name:  "seed",
				Usage: "Seed for every random source (0 seeds from the clock)",
			},
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "Terminate automatically after this long (0 runs until stopped)",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Plain log output (no TUI)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Verbose logging",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress all output (mutually exclusive with --json and --plain)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output in JSON format (mutually exclusive with --quiet and --plain)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			// Validate mutual exclusivity of output format flags
			flagCount := 0
			for _, name := range []string{"quiet", "json", "plain"} {
				if cmd.Bool(name) {
					flagCount++
				}
			}
			if flagCount > 1 {
				return ctx, fmt.Errorf("flags --quiet, --json, and --plain are mutually exclusive")
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a colony",
				ArgsUsage: "[N T_k eggs]",
				Action:    cmdRun,
			},
			{
				Name:   "status",
				Usage:  "Show the latest session",
				Action: cmdStatus,
			},
			{
				Name:   "init",
				Usage:  "Initialize a hive directory with a default config",
				Action: cmdInit,
			},
			{
				Name:   "config",
				Usage:  "Show current configuration",
				Action: cmdConfig,
			},
			{
				Name:      "logs",
				Usage:     "Show the event journal of a session",
				ArgsUsage: "[session-id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "Follow log output"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "Number of events to show (0 for all)"},
				},
				Action: cmdLogs,
			},
			{
				Name:      "sessions",
				Usage:     "List past sessions",
				ArgsUsage: "[session-id]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum sessions to show"},
					&cli.BoolFlag{Name: "running", Usage: "Show only running sessions"},
					&cli.BoolFlag{Name: "remove", Aliases: []string{"rm"}, Usage: "Remove the session whose id starts with the argument"},
				},
				Action: cmdSessions,
			},
		},
		Action: cmdRun,
	}
}
