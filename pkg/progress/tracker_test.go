package progress

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/devsec-arena/arena/pkg/arena"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	tracker, err := NewSQLiteTracker(context.Background(), ":memory:", testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteTracker() error = %v", err)
	}
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

// trackers runs the same assertions against both ledger implementations.
func trackers(t *testing.T) map[string]arena.Tracker {
	t.Helper()
	return map[string]arena.Tracker{
		"sqlite": newTestTracker(t),
		"memory": NewMemoryTracker(),
	}
}

func TestRecordCompletion_AwardsXPOnce(t *testing.T) {
	for name, tracker := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 100); err != nil {
				t.Fatalf("RecordCompletion() error = %v", err)
			}
			// Re-completion with a different value must not change the award.
			if err := tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 500); err != nil {
				t.Fatalf("RecordCompletion() retry error = %v", err)
			}

			total, err := tracker.TotalXP(ctx, "kubernetes")
			if err != nil {
				t.Fatalf("TotalXP() error = %v", err)
			}
			if total != 100 {
				t.Errorf("TotalXP() = %d, want 100", total)
			}
		})
	}
}

func TestRecordHint_Increments(t *testing.T) {
	for name, tracker := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				if err := tracker.RecordHint(ctx, "kubernetes", "world-1/level-01"); err != nil {
					t.Fatalf("RecordHint() error = %v", err)
				}
			}

			progress, err := tracker.Progress(ctx, "kubernetes")
			if err != nil {
				t.Fatalf("Progress() error = %v", err)
			}
			p := progress["world-1/level-01"]
			if p.HintsUsed != 3 {
				t.Errorf("HintsUsed = %d, want 3", p.HintsUsed)
			}
			if p.Completed {
				t.Error("hints alone must not complete a challenge")
			}
		})
	}
}

func TestHintsSurviveCompletion(t *testing.T) {
	for name, tracker := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tracker.RecordHint(ctx, "kubernetes", "world-1/level-01")
			tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 100)

			progress, _ := tracker.Progress(ctx, "kubernetes")
			p := progress["world-1/level-01"]
			if !p.Completed || p.XPEarned != 100 || p.HintsUsed != 1 {
				t.Errorf("progress = %+v, want completed with 100 xp and 1 hint", p)
			}
		})
	}
}

func TestProgress_IsolatedPerDomain(t *testing.T) {
	for name, tracker := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 100)
			tracker.RecordCompletion(ctx, "docker", "world-1/level-01", 200)

			k8s, _ := tracker.TotalXP(ctx, "kubernetes")
			docker, _ := tracker.TotalXP(ctx, "docker")
			if k8s != 100 || docker != 200 {
				t.Errorf("TotalXP = %d/%d, want 100/200", k8s, docker)
			}
		})
	}
}

func TestReset(t *testing.T) {
	for name, tracker := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 100)
			tracker.RecordCompletion(ctx, "docker", "world-1/level-01", 200)

			if err := tracker.Reset(ctx, "kubernetes"); err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			k8s, _ := tracker.TotalXP(ctx, "kubernetes")
			docker, _ := tracker.TotalXP(ctx, "docker")
			if k8s != 0 {
				t.Errorf("TotalXP after reset = %d, want 0", k8s)
			}
			if docker != 200 {
				t.Errorf("reset leaked into other domain: %d", docker)
			}
		})
	}
}

func TestSQLite_RoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.db")

	first, err := NewSQLiteTracker(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteTracker() error = %v", err)
	}
	first.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 100)
	first.RecordHint(ctx, "kubernetes", "world-1/level-02")
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := NewSQLiteTracker(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	progress, err := second.Progress(ctx, "kubernetes")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if len(progress) != 2 {
		t.Fatalf("Progress() = %d rows, want 2", len(progress))
	}
	if p := progress["world-1/level-01"]; !p.Completed || p.XPEarned != 100 {
		t.Errorf("level-01 = %+v", p)
	}
	if p := progress["world-1/level-02"]; p.HintsUsed != 1 || p.Completed {
		t.Errorf("level-02 = %+v", p)
	}
}

func TestOpen_FailsOpenToMemory(t *testing.T) {
	// A directory in place of the database file makes SQLite fail.
	dir := t.TempDir()
	bad := filepath.Join(dir, "progress.db")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}

	tracker := Open(context.Background(), bad, testLogger())
	defer tracker.Close()

	if _, ok := tracker.(*MemoryTracker); !ok {
		t.Fatalf("Open() = %T, want fallback *MemoryTracker", tracker)
	}
	// The fallback still works.
	ctx := context.Background()
	if err := tracker.RecordCompletion(ctx, "kubernetes", "world-1/level-01", 100); err != nil {
		t.Fatalf("fallback RecordCompletion() error = %v", err)
	}
}
