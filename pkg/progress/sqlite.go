package progress

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/devsec-arena/arena/pkg/arena"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteTracker is the file-backed progress ledger.
type SQLiteTracker struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// NewSQLiteTracker opens the ledger at path, applies migrations, and
// returns a ready tracker. Any failure is a PERSISTENCE_FAILED error so
// the caller can fall back to memory.
func NewSQLiteTracker(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteTracker, error) {
	if path == "" {
		return nil, arena.NewPermanentError("ledger path is required", nil).
			WithCode(arena.ErrCodePersistence)
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, arena.NewPermanentError("opening progress ledger", err).
			WithCode(arena.ErrCodePersistence)
	}
	// A single player writes; keep the pool tiny.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, arena.NewPermanentError("pinging progress ledger", err).
			WithCode(arena.ErrCodePersistence)
	}

	t := &SQLiteTracker{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "progress").Logger(),
	}
	if err := t.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *SQLiteTracker) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return arena.NewPermanentError("loading ledger migrations", err).
			WithCode(arena.ErrCodePersistence)
	}
	driver, err := sqlite3.WithInstance(t.db, &sqlite3.Config{})
	if err != nil {
		return arena.NewPermanentError("preparing ledger migrations", err).
			WithCode(arena.ErrCodePersistence)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return arena.NewPermanentError("creating ledger migrator", err).
			WithCode(arena.ErrCodePersistence)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return arena.NewPermanentError("migrating progress ledger", err).
			WithCode(arena.ErrCodePersistence)
	}
	return nil
}

// RecordCompletion marks a challenge complete. XP is monotonic: a
// challenge that is already complete keeps its original award.
func (t *SQLiteTracker) RecordCompletion(ctx context.Context, domainID, challengeID string, xp int) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO progress (domain_id, challenge_id, completed, xp_earned, hints_used, completed_at, updated_at)
		VALUES (?, ?, 1, ?, 0, ?, ?)
		ON CONFLICT(domain_id, challenge_id) DO UPDATE SET
			completed = 1,
			xp_earned = CASE WHEN progress.completed = 1 THEN progress.xp_earned ELSE excluded.xp_earned END,
			completed_at = COALESCE(progress.completed_at, excluded.completed_at),
			updated_at = excluded.updated_at
	`
	if _, err := t.db.ExecContext(ctx, query, domainID, challengeID, xp, now, now); err != nil {
		return arena.NewTransientError("recording completion", err).
			WithCode(arena.ErrCodePersistence).
			WithChallenge(challengeID)
	}
	return nil
}

// RecordHint increments the hint counter for a challenge.
func (t *SQLiteTracker) RecordHint(ctx context.Context, domainID, challengeID string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO progress (domain_id, challenge_id, completed, xp_earned, hints_used, updated_at)
		VALUES (?, ?, 0, 0, 1, ?)
		ON CONFLICT(domain_id, challenge_id) DO UPDATE SET
			hints_used = progress.hints_used + 1,
			updated_at = excluded.updated_at
	`
	if _, err := t.db.ExecContext(ctx, query, domainID, challengeID, now); err != nil {
		return arena.NewTransientError("recording hint", err).
			WithCode(arena.ErrCodePersistence).
			WithChallenge(challengeID)
	}
	return nil
}

// Progress returns the ledger slice for one domain.
func (t *SQLiteTracker) Progress(ctx context.Context, domainID string) (map[string]arena.ChallengeProgress, error) {
	query := `
		SELECT challenge_id, completed, xp_earned, hints_used
		FROM progress WHERE domain_id = ?
	`
	rows, err := t.db.QueryContext(ctx, query, domainID)
	if err != nil {
		return nil, arena.NewTransientError("reading progress", err).
			WithCode(arena.ErrCodePersistence)
	}
	defer rows.Close()

	out := make(map[string]arena.ChallengeProgress)
	for rows.Next() {
		var id string
		var completed int
		var p arena.ChallengeProgress
		if err := rows.Scan(&id, &completed, &p.XPEarned, &p.HintsUsed); err != nil {
			return nil, arena.NewTransientError("scanning progress row", err).
				WithCode(arena.ErrCodePersistence)
		}
		p.Completed = completed == 1
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, arena.NewTransientError("iterating progress rows", err).
			WithCode(arena.ErrCodePersistence)
	}
	return out, nil
}

// TotalXP returns the XP earned in one domain.
func (t *SQLiteTracker) TotalXP(ctx context.Context, domainID string) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(xp_earned), 0) FROM progress WHERE domain_id = ?`
	if err := t.db.QueryRowContext(ctx, query, domainID).Scan(&total); err != nil {
		return 0, arena.NewTransientError("summing xp", err).
			WithCode(arena.ErrCodePersistence)
	}
	return total, nil
}

// Reset clears all progress for one domain.
func (t *SQLiteTracker) Reset(ctx context.Context, domainID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM progress WHERE domain_id = ?`, domainID); err != nil {
		return arena.NewTransientError("resetting progress", err).
			WithCode(arena.ErrCodePersistence)
	}
	return nil
}

// Close closes the underlying database.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

// Open returns the best available tracker for path: SQLite when the
// ledger opens cleanly, otherwise an in-memory tracker with a logged
// warning. Progress is never a reason to refuse to play.
func Open(ctx context.Context, path string, logger zerolog.Logger) arena.Tracker {
	t, err := NewSQLiteTracker(ctx, path, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).
			Msg("progress ledger unavailable, progress will not survive this session")
		return NewMemoryTracker()
	}
	return t
}
