package state

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HexSleeves/apiary/internal/hive"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSession(id string) SessionInfo {
	return SessionInfo{ID: id, Frames: 10, MaxFrames: 1000, LayInterval: 5 * time.Second, Eggs: 2, Visits: 3}
}

func TestOpenDB(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := OpenDB(tmpDir)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, "hive.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("hive.db was not created")
	}
	if db.Path() != dbPath {
		t.Errorf("Expected path %s, got %s", dbPath, db.Path())
	}
}

func TestOpenDBCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "nested", "hive")

	db, err := OpenDB(nestedDir)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
		t.Error("Nested directory was not created")
	}
}

func TestDBSessionOperations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateSession(ctx, testSession("session-1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session, err := db.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Frames != 10 || session.Eggs != 2 || session.Visits != 3 {
		t.Errorf("Unexpected session parameters: %+v", session)
	}
	if session.LayInterval != 5*time.Second {
		t.Errorf("Expected lay interval 5s, got %v", session.LayInterval)
	}
	if session.Status != StatusRunning {
		t.Errorf("Expected status 'running', got %s", session.Status)
	}
	if session.Created().IsZero() {
		t.Error("Expected a parseable created_at")
	}

	if err := db.UpdateSessionStatus(ctx, "session-1", StatusDone); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	session, _ = db.GetSession(ctx, "session-1")
	if session.Status != StatusDone {
		t.Errorf("Expected status 'done', got %s", session.Status)
	}

	if err := db.UpdateSessionStatus(ctx, "missing", StatusDone); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing session, got %v", err)
	}
	if _, err := db.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListAndLatestSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := db.CreateSession(ctx, testSession(id)); err != nil {
			t.Fatalf("CreateSession(%s) failed: %v", id, err)
		}
	}
	if err := db.UpdateSessionStatus(ctx, "b", StatusDone); err != nil {
		t.Fatal(err)
	}

	latest, err := db.LatestSession(ctx)
	if err != nil {
		t.Fatalf("LatestSession failed: %v", err)
	}
	if latest.ID != "c" {
		t.Errorf("Expected latest session 'c', got %s", latest.ID)
	}

	all, err := db.ListSessions(ctx, 0, false)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("Expected 3 sessions newest first, got %+v", all)
	}

	running, err := db.ListSessions(ctx, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 2 {
		t.Errorf("Expected 2 running sessions, got %d", len(running))
	}

	limited, _ := db.ListSessions(ctx, 1, false)
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}

func TestLatestSessionEmpty(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.LatestSession(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDBEventOperations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := db.CreateSession(ctx, testSession("s")); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	id, err := db.AppendEvent(ctx, "s", hive.Event{
		Seq: 1, Kind: hive.KindEntered, BeeID: 3, Entrance: 1,
		Frames: 10, Admissible: 4, Inside: 1, Alive: 10, Waiting: [2]int{2, 0}, Time: now,
	})
	if err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("Expected positive event id, got %d", id)
	}

	batch := []hive.Event{
		{Seq: 2, Kind: hive.KindExited, BeeID: 3, Entrance: 0, Frames: 10, Admissible: 4, Alive: 10, Time: now},
		{Seq: 3, Kind: hive.KindSkipped, BeeID: hive.NoBee, Entrance: hive.NoEntrance, Detail: "free space 0 < 2 eggs", Time: now},
	}
	if err := db.AppendEvents(ctx, "s", batch); err != nil {
		t.Fatalf("AppendEvents failed: %v", err)
	}

	count, err := db.EventCount(ctx, "s")
	if err != nil || count != 3 {
		t.Fatalf("Expected 3 events, got %d (%v)", count, err)
	}

	events, err := db.ListEvents(ctx, "s", 0, 0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	first := events[0].Event()
	if first.Kind != hive.KindEntered || first.BeeID != 3 || first.Entrance != 1 || first.Waiting != [2]int{2, 0} {
		t.Errorf("Unexpected first event: %+v", first)
	}
	if !first.Time.Equal(now.UTC()) {
		t.Errorf("Expected time %v, got %v", now, first.Time)
	}

	after, err := db.ListEvents(ctx, "s", 1, events[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || after[0].Seq != 2 {
		t.Errorf("Expected seq 2 after first id, got %+v", after)
	}

	tail, err := db.TailEvents(ctx, "s", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Seq != 2 || tail[1].Seq != 3 {
		t.Errorf("Expected tail seqs [2 3], got %+v", tail)
	}

	byKind, err := db.CountEventsByKind(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if byKind[hive.KindEntered] != 1 || byKind[hive.KindSkipped] != 1 {
		t.Errorf("Unexpected kind counts: %v", byKind)
	}

	last, err := db.LastEvent(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if last.Seq != 3 || last.Detail != "free space 0 < 2 eggs" {
		t.Errorf("Unexpected last event: %+v", last)
	}
}

func TestLastEventEmptySession(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.CreateSession(ctx, testSession("empty"))
	if _, err := db.LastEvent(ctx, "empty"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRemoveSession(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.CreateSession(ctx, testSession("gone"))
	db.AppendEvent(ctx, "gone", hive.Event{Seq: 1, Kind: hive.KindDied})

	if err := db.RemoveSession(ctx, "gone"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}
	if _, err := db.GetSession(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected session to be removed, got %v", err)
	}
	if n, _ := db.EventCount(ctx, "gone"); n != 0 {
		t.Errorf("Expected events to be removed, got %d", n)
	}
	if err := db.RemoveSession(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second remove, got %v", err)
	}
}

func TestRecorderFlushesOnClose(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.CreateSession(ctx, testSession("rec"))

	r := NewRecorder(db, "rec", 4, log.New(io.Discard, "", 0))
	for i := uint64(1); i <= 50; i++ {
		r.Report(hive.Event{Seq: i, Kind: hive.KindEntered, BeeID: int(i)})
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if r.Written() != 50 {
		t.Errorf("Expected 50 written, got %d", r.Written())
	}

	n, _ := db.EventCount(ctx, "rec")
	if n != 50 {
		t.Errorf("Expected 50 journaled events, got %d", n)
	}

	r.Report(hive.Event{Seq: 51, Kind: hive.KindDied})
	if r.Dropped() != 1 {
		t.Errorf("Expected late event to be dropped, got %d", r.Dropped())
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
