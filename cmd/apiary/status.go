package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/apiary/internal/hive"
	"github.com/HexSleeves/apiary/internal/output"
	"github.com/HexSleeves/apiary/internal/state"
)

func cmdStatus(ctx context.Context, cmd *cli.Command) error {
	hiveDir := cmd.String("hive-dir")
	logger := log.New(os.Stderr, "", log.LstdFlags)

	if _, err := os.Stat(hiveDir); os.IsNotExist(err) {
		logger.Println("No hive found. Run 'apiary init' first.")
		return nil
	}

	dbPath := filepath.Join(hiveDir, "hive.db")
	if _, err := os.Stat(dbPath); err == nil {
		return cmdStatusDB(ctx, hiveDir)
	}

	fmt.Println("Hive initialized but no sessions run yet.")
	return nil
}

// cmdStatusDB reads the latest session from the journal.
func cmdStatusDB(ctx context.Context, hiveDir string) error {
	p := output.NewPrinter(output.ModePlain, false)

	db, err := state.OpenDB(hiveDir)
	if err != nil {
		return fmt.Errorf("open DB: %w", err)
	}
	defer db.Close()

	session, err := db.LatestSession(ctx)
	if errors.Is(err, state.ErrNotFound) {
		p.Info("Hive initialized but no sessions run yet.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest session: %w", err)
	}

	counts, err := db.CountEventsByKind(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}
	eventCount, err := db.EventCount(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("event count: %w", err)
	}

	p.Header("Apiary - Session Status")
	p.KeyValue([][]string{
		{"Session", session.ID},
		{"Status", output.StatusIcon(session.Status) + " " + session.Status},
		{"Started", session.CreatedAt},
		{"Updated", session.UpdatedAt},
		{"Parameters", fmt.Sprintf("N=%d, %d eggs every %s, %d visits", session.Frames, session.Eggs, session.LayInterval, session.Visits)},
		{"Events", fmt.Sprintf("%d", eventCount)},
	})

	if last, err := db.LastEvent(ctx, session.ID); err == nil {
		e := last.Event()
		p.Section("Last State")
		p.Occupancy(hive.Snapshot{
			Frames:     e.Frames,
			Admissible: e.Admissible,
			Inside:     e.Inside,
			Alive:      e.Alive,
			Waiting:    e.Waiting,
		})
		p.KeyValue([][]string{{"Last Event", e.String()}})
	}

	if len(counts) > 0 {
		p.Section("Events by Kind")
		kinds := make([]hive.Kind, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, k)
		}
		slices.Sort(kinds)
		var rows [][]string
		for _, k := range kinds {
			rows = append(rows, []string{output.KindIcon(k), string(k), fmt.Sprintf("%d", counts[k])})
		}
		p.Table([]string{" ", "Kind", "Count"}, rows)
	}
	return nil
}
