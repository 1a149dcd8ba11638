package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/HexSleeves/apiary/internal/colony"
	"github.com/HexSleeves/apiary/internal/config"
	hiveerr "github.com/HexSleeves/apiary/internal/errors"
	"github.com/HexSleeves/apiary/internal/hive"
	"github.com/HexSleeves/apiary/internal/output"
	"github.com/HexSleeves/apiary/internal/state"
	"github.com/HexSleeves/apiary/internal/tui"
)

// runEnv is everything a run needs besides the colony itself.
type runEnv struct {
	cfg      *config.Config
	mode     output.Mode
	out      *output.Manager
	verbose  bool
	logFile  *os.File
	eventLog *log.Logger
	db       *state.DB
	warnings []string
}

func (env *runEnv) close() {
	if env.db != nil {
		env.db.Close()
	}
	if env.logFile != nil {
		env.logFile.Close()
	}
}

func cmdRun(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyPositional(cfg, cmd.Args().Slice()); err != nil {
		return err
	}
	warnings := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	mode := output.Select(cmd.Bool("json"), cmd.Bool("plain"), cmd.Bool("quiet"), isTTY)

	env, err := openEnv(cfg, mode, cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	defer env.close()
	env.warnings = warnings

	duration := cmd.Duration("duration")
	switch mode {
	case output.ModeTUI:
		return runWithTUI(ctx, env, duration)
	case output.ModeJSON:
		return runJSON(ctx, env, duration)
	default:
		return runPlain(ctx, env, duration)
	}
}

// openEnv creates the hive directory, the log file and the journal. Any
// failure here is a startup failure.
func openEnv(cfg *config.Config, mode output.Mode, verbose bool) (*runEnv, error) {
	if err := os.MkdirAll(cfg.HiveDir, 0755); err != nil {
		return nil, hiveerr.NewResourceError(err, "create hive dir")
	}
	f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, hiveerr.NewResourceError(err, "open log file")
	}
	db, err := state.OpenDB(cfg.HiveDir)
	if err != nil {
		f.Close()
		return nil, hiveerr.NewResourceError(err, "open journal")
	}
	return &runEnv{
		cfg:      cfg,
		mode:     mode,
		out:      output.NewManager(mode),
		verbose:  verbose,
		logFile:  f,
		eventLog: log.New(f, "", log.LstdFlags),
		db:       db,
	}, nil
}

// warn records the config warnings in the log file and shows them the way the
// current mode shows notices.
func (env *runEnv) warn() {
	for _, w := range env.warnings {
		env.eventLog.Printf("⚠ %s", w)
		env.out.Warn("%s", w)
	}
}

func (env *runEnv) componentLogger(w io.Writer) *log.Logger {
	flags := log.LstdFlags
	if env.verbose {
		flags |= log.Lmicroseconds
	}
	return log.New(w, "", flags)
}

func (env *runEnv) newColony(logger *log.Logger, duration time.Duration, reporters ...hive.Reporter) (*colony.Colony, error) {
	return colony.New(env.cfg, colony.Options{
		Logger:    logger,
		EventLog:  env.eventLog,
		DB:        env.db,
		Duration:  duration,
		Reporters: reporters,
	})
}

func runWithTUI(ctx context.Context, env *runEnv, duration time.Duration) error {
	logger := env.componentLogger(env.logFile)
	c, err := env.newColony(logger, duration)
	if err != nil {
		return err
	}

	cfg := env.cfg
	prog := tui.NewProgram(tui.Info{
		SessionID:   c.ID(),
		Frames:      cfg.Hive.Frames,
		MaxFrames:   cfg.Hive.MaxFrames,
		Eggs:        cfg.Queen.EggsPerCycle,
		LayInterval: cfg.Queen.LayInterval,
		TimeScale:   cfg.TimeScale,
	}, c.Beekeeper())
	env.warn()

	// Component logs go to the dashboard as well as the log file
	logger.SetOutput(io.MultiWriter(env.logFile, prog.LogWriter()))
	c.Bus().SubscribeAll(prog.Report)

	stop := watchSignals(c.Beekeeper(), logger)
	defer stop()

	var sum colony.Summary
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		sum, runErr = c.Run(ctx)
		if runErr != nil {
			prog.SendDone(sum.Status, "", runErr.Error())
		} else {
			prog.SendDone(sum.Status, summaryLine(sum), "")
		}
	}()

	// Run the TUI (blocks until the user quits)
	_, tuiErr := prog.Run()
	c.Beekeeper().Terminate()
	<-done
	if tuiErr != nil {
		return fmt.Errorf("TUI error: %w", tuiErr)
	}
	return runErr
}

func runPlain(ctx context.Context, env *runEnv, duration time.Duration) error {
	quiet := env.mode == output.ModeQuiet
	var logger *log.Logger
	if quiet {
		logger = env.componentLogger(env.logFile)
	} else {
		logger = env.componentLogger(io.MultiWriter(os.Stderr, env.logFile))
	}

	p := output.NewPrinter(env.mode, env.verbose)
	c, err := env.newColony(logger, duration, hive.ReporterFunc(p.Event))
	if err != nil {
		return err
	}

	stop := watchSignals(c.Beekeeper(), logger)
	defer stop()

	cfg := env.cfg
	p.Header("Apiary - Beehive Simulation")
	p.KeyValue([][]string{
		{"Session", c.ID()},
		{"Frames", fmt.Sprintf("N=%d P=%d (max %d)", cfg.Hive.Frames, hive.Admissible(cfg.Hive.Frames), cfg.Hive.MaxFrames)},
		{"Queen", fmt.Sprintf("%d eggs every %s", cfg.Queen.EggsPerCycle, cfg.Queen.LayInterval)},
		{"Bees", fmt.Sprintf("%d visits, scale x%g", cfg.Bees.MaxVisits, cfg.TimeScale)},
		{"Journal", env.db.Path()},
	})
	env.warn()
	p.Info("SIGUSR1 grows the hive, SIGUSR2 shrinks it, Ctrl-C stops")

	sum, err := c.Run(ctx)
	if err != nil {
		p.Error("%v", err)
		return err
	}

	p.Divider()
	p.Occupancy(sum.Final)
	p.Success("%s", summaryLine(sum))
	return nil
}

func runJSON(ctx context.Context, env *runEnv, duration time.Duration) error {
	jw := output.NewJSONWriter(env.out.Stdout(), "")
	env.out.SetJSONWriter(jw)

	logger := env.componentLogger(env.logFile)
	c, err := env.newColony(logger, duration, jw)
	if err != nil {
		jw.WriteError(err.Error(), hive.NoBee, string(hiveerr.GetErrorType(err)))
		return err
	}
	jw.SetSessionID(c.ID())

	stop := watchSignals(c.Beekeeper(), logger)
	defer stop()

	cfg := env.cfg
	if err := jw.WriteSessionStart(output.SessionParams{
		Frames:      cfg.Hive.Frames,
		MaxFrames:   cfg.Hive.MaxFrames,
		LayInterval: cfg.Queen.LayInterval,
		Eggs:        cfg.Queen.EggsPerCycle,
		MaxVisits:   cfg.Bees.MaxVisits,
		TimeScale:   cfg.TimeScale,
		Seed:        cfg.Seed,
	}); err != nil {
		return fmt.Errorf("write session start: %w", err)
	}
	env.warn()

	sum, runErr := c.Run(ctx)
	if runErr != nil {
		jw.WriteError(runErr.Error(), hive.NoBee, string(hiveerr.GetErrorType(runErr)))
	}
	if err := jw.WriteSessionEnd(output.SessionSummary{
		SessionID: sum.SessionID,
		Status:    sum.Status,
		Final:     sum.Final,
		Events:    sum.Events,
		Counts:    sum.Counts,
		Laid:      sum.Laid,
		Duration:  sum.Duration,
	}); err != nil {
		return fmt.Errorf("write session end: %w", err)
	}
	return runErr
}

func summaryLine(sum colony.Summary) string {
	return fmt.Sprintf("Session %s %s (%s) after %s: %d events, %d bees laid, %d died, final N=%d P=%d",
		shortID(sum.SessionID), sum.Status, sum.Reason, sum.Duration.Round(time.Millisecond),
		sum.Events, sum.Laid, sum.Counts[hive.KindDied]+sum.Counts[hive.KindFailed],
		sum.Final.Frames, sum.Final.Admissible)
}

func shortID(id string) string {
	const maxLen = 8
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}
