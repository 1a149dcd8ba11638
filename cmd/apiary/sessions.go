package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/apiary/internal/hive"
	"github.com/HexSleeves/apiary/internal/output"
	"github.com/HexSleeves/apiary/internal/state"
)

func cmdSessions(ctx context.Context, cmd *cli.Command) error {
	db, err := state.OpenDB(cmd.String("hive-dir"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if cmd.Bool("remove") {
		return removeSession(ctx, db, cmd.Args().First())
	}

	onlyRunning := cmd.Bool("running")
	sessions, err := db.ListSessions(ctx, cmd.Int("limit"), onlyRunning)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	p := output.NewPrinter(output.ModePlain, false)
	if len(sessions) == 0 {
		if onlyRunning {
			p.Info("No running sessions.")
		} else {
			p.Info("No sessions found. Run 'apiary run' to start one.")
		}
		return nil
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			output.StatusIcon(s.Status) + " " + s.Status,
			fmt.Sprintf("%d/%d", s.Frames, hive.Admissible(s.Frames)),
			fmt.Sprintf("%d x %s", s.Eggs, s.LayInterval),
			fmt.Sprintf("%d", s.Visits),
			s.CreatedAt,
		})
	}
	p.Header("Sessions")
	p.Table([]string{"Session", "Status", "N/P", "Queen", "Visits", "Started"}, rows)
	p.Printf("\n%d session(s)\n", len(sessions))
	return nil
}

// removeSession deletes the session whose id starts with prefix. The prefix
// must name exactly one session.
func removeSession(ctx context.Context, db *state.DB, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("session ID required: apiary sessions --rm <session-id>")
	}
	all, err := db.ListSessions(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	var matches []string
	for _, s := range all {
		if strings.HasPrefix(s.ID, prefix) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("no session matches %q", prefix)
	case 1:
	default:
		return fmt.Errorf("%q matches %d sessions", prefix, len(matches))
	}

	if err := db.RemoveSession(ctx, matches[0]); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	fmt.Printf("Session %s removed\n", matches[0])
	return nil
}
