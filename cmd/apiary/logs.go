package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/HexSleeves/apiary/internal/output"
	"github.com/HexSleeves/apiary/internal/state"
)

const followInterval = time.Second

func cmdLogs(ctx context.Context, cmd *cli.Command) error {
	hiveDir := cmd.String("hive-dir")
	jsonOutput := cmd.Bool("json")
	follow := cmd.Bool("follow")
	limit := cmd.Int("limit")

	dbPath := filepath.Join(hiveDir, "hive.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no hive database found. Run 'apiary run' first")
	}

	db, err := state.OpenDB(hiveDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Get session ID from args or use latest
	sessionID := cmd.Args().First()
	if sessionID == "" {
		session, err := db.LatestSession(ctx)
		if err != nil {
			return fmt.Errorf("no sessions found. Run 'apiary run' first")
		}
		sessionID = session.ID
	}

	var events []state.EventRow
	if limit > 0 {
		events, err = db.TailEvents(ctx, sessionID, limit)
	} else {
		events, err = db.ListEvents(ctx, sessionID, 0, 0)
	}
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	if jsonOutput && !follow {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	p := output.NewPrinter(output.ModePlain, true)
	enc := json.NewEncoder(os.Stdout)
	emit := func(e state.EventRow) {
		if jsonOutput {
			_ = enc.Encode(e)
			return
		}
		p.Event(e.Event())
	}
	for _, e := range events {
		emit(e)
	}

	if !follow {
		return nil
	}

	// Follow mode: poll for new events
	var lastID int64
	if len(events) > 0 {
		lastID = events[len(events)-1].ID
	}
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			newEvents, err := db.ListEvents(ctx, sessionID, 100, lastID)
			if err != nil {
				continue
			}
			for _, e := range newEvents {
				emit(e)
				lastID = e.ID
			}
		}
	}
}
