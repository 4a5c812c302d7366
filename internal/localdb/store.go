// Package localdb keeps the CLI's offline run history in SQLite.
package localdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"rippletrade/internal/game"

	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is a game.Store over a local SQLite file.
type Store struct {
	sqlDB *sql.DB
}

var _ game.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func applyMigrations(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		var n int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, file).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if n > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveRecord(ctx context.Context, rec game.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO records (id, user_id, username, scenario_id, seed, room_id, net_worth, digest, verified, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.UserID,
		rec.Username,
		rec.ScenarioID,
		strconv.FormatUint(rec.Seed, 10),
		rec.RoomID,
		rec.NetWorth.StringFixed(game.MoneyPlaces),
		rec.Digest,
		rec.Verified,
		toMillis(rec.CompletedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return game.ErrDuplicateIdempotency
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// MarkVerified flags a record once the server has accepted it.
func (s *Store) MarkVerified(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE records SET verified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return game.ErrRunNotFound
	}
	return nil
}

// Records lists local runs, most recent first.
func (s *Store) Records(ctx context.Context, limit int) ([]game.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `SELECT id, user_id, username, scenario_id, seed, room_id, net_worth, digest, verified, completed_at
		FROM records ORDER BY completed_at DESC LIMIT ?`, limit)
}

// Leaderboard ranks local runs. Unverified offline runs count locally.
func (s *Store) Leaderboard(ctx context.Context, board game.Board, since time.Time, limit int) ([]game.LeaderboardRow, error) {
	recs, err := s.query(ctx, `SELECT id, user_id, username, scenario_id, seed, room_id, net_worth, digest, verified, completed_at
		FROM records WHERE completed_at >= ?`, toMillis(since))
	if err != nil {
		return nil, err
	}
	return game.RankRecords(recs, board, limit), nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]game.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	var out []game.Record
	for rows.Next() {
		var rec game.Record
		var seed, netWorth string
		var completed int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Username, &rec.ScenarioID, &seed, &rec.RoomID, &netWorth, &rec.Digest, &rec.Verified, &completed); err != nil {
			return nil, err
		}
		if rec.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("parse seed: %w", err)
		}
		if rec.NetWorth, err = decimal.NewFromString(netWorth); err != nil {
			return nil, fmt.Errorf("parse net worth: %w", err)
		}
		rec.CompletedAt = fromMillis(completed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
