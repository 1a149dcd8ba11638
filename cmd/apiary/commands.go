package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/apiary/internal/config"
	hiveerr "github.com/HexSleeves/apiary/internal/errors"
	"github.com/HexSleeves/apiary/internal/hive"
	"github.com/HexSleeves/apiary/internal/output"
)

// configPath returns --config, or the default file inside --hive-dir.
func configPath(cmd *cli.Command) string {
	if p := cmd.String("config"); p != "" {
		return p
	}
	return filepath.Join(cmd.String("hive-dir"), config.DefaultFile)
}

// loadConfig reads the config file and applies every flag the user set.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, hiveerr.NewResourceError(err, "load config")
	}

	if cmd.IsSet("hive-dir") {
		cfg.HiveDir = cmd.String("hive-dir")
	}
	if cmd.IsSet("frames") {
		cfg.Hive.Frames = cmd.Int("frames")
	}
	if cmd.IsSet("max-frames") {
		cfg.Hive.MaxFrames = cmd.Int("max-frames")
	}
	if cmd.IsSet("lay-interval") {
		cfg.Queen.LayInterval = cmd.Duration("lay-interval")
	}
	if cmd.IsSet("eggs") {
		cfg.Queen.EggsPerCycle = cmd.Int("eggs")
	}
	if cmd.IsSet("visits") {
		cfg.Bees.MaxVisits = cmd.Int("visits")
	}
	if cmd.IsSet("time-scale") {
		cfg.TimeScale = cmd.Float64("time-scale")
	}
	if cmd.IsSet("seed") {
		cfg.Seed = int64(cmd.Int("seed"))
	}
	return cfg, nil
}

// applyPositional accepts the classic "N T_k eggs" form, with T_k in seconds
// or as a Go duration.
func applyPositional(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) != 3 {
		return fmt.Errorf("usage: apiary run N T_k eggs (got %d arguments)", len(args))
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("N: %w", err)
	}
	interval, err := parseInterval(args[1])
	if err != nil {
		return fmt.Errorf("T_k: %w", err)
	}
	eggs, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("eggs: %w", err)
	}
	cfg.Hive.Frames = n
	cfg.Queen.LayInterval = interval
	cfg.Queen.EggsPerCycle = eggs
	return nil
}

func parseInterval(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func cmdInit(ctx context.Context, cmd *cli.Command) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.HiveDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", cfg.HiveDir, err)
	}

	path := configPath(cmd)
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	logger.Printf("Initialized hive at %s", cfg.HiveDir)
	logger.Printf("Config saved to %s", path)
	return nil
}

func cmdConfig(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	warnings := cfg.Normalize()

	p := output.NewPrinter(output.ModePlain, false)
	p.Header(fmt.Sprintf("Configuration (%s)", configPath(cmd)))
	p.KeyValue([][]string{
		{"Hive Dir", cfg.HiveDir},
		{"Log File", cfg.LogPath()},
		{"Frames (N)", fmt.Sprintf("%d (P=%d, max %d)", cfg.Hive.Frames, hive.Admissible(cfg.Hive.Frames), cfg.Hive.MaxFrames)},
		{"Lay Interval", cfg.Queen.LayInterval.String()},
		{"Eggs/Cycle", strconv.Itoa(cfg.Queen.EggsPerCycle)},
		{"Max Visits", strconv.Itoa(cfg.Bees.MaxVisits)},
		{"Hive Time", formatRange(cfg.Bees.HiveTime.Min, cfg.Bees.HiveTime.Max)},
		{"Outside Time", formatRange(cfg.Bees.OutsideTime.Min, cfg.Bees.OutsideTime.Max)},
		{"First Flight", formatRange(cfg.Bees.FirstFlight.Min, cfg.Bees.FirstFlight.Max)},
		{"Transit", cfg.Bees.Transit.String()},
		{"Capacity Retry", cfg.Bees.CapacityRetry.String()},
		{"Time Scale", strconv.FormatFloat(cfg.TimeScale, 'g', -1, 64)},
		{"Seed", strconv.FormatInt(cfg.Seed, 10)},
	})
	for _, w := range warnings {
		p.Warning("%s", w)
	}
	if err := cfg.Validate(); err != nil {
		p.Error("%v", err)
	}
	return nil
}

func formatRange(lo, hi time.Duration) string {
	return fmt.Sprintf("%s .. %s", lo, hi)
}
