package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rippletrade/internal/game"
	"rippletrade/internal/room"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrTxConflict = errors.New("transaction conflict, retry")

// Store is the Postgres implementation of game.Store and room.Store.
type Store struct {
	db *pgxpool.Pool
}

var (
	_ game.Store = (*Store)(nil)
	_ room.Store = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) SaveRecord(ctx context.Context, rec game.Record) error {
	var roomID *string
	if rec.RoomID != "" {
		roomID = &rec.RoomID
	}
	cmd, err := s.db.Exec(ctx, `
		INSERT INTO rippletrade.runs (id, user_id, username, scenario_id, seed, room_id, net_worth, digest, verified, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.UserID, rec.Username, rec.ScenarioID, strconv.FormatUint(rec.Seed, 10), roomID,
		rec.NetWorth.StringFixed(game.MoneyPlaces), rec.Digest, rec.Verified, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return game.ErrDuplicateIdempotency
	}
	return nil
}

func (s *Store) Leaderboard(ctx context.Context, board game.Board, since time.Time, limit int) ([]game.LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	order := "net_worth DESC"
	if board.Ascending() {
		order = "net_worth ASC"
	}
	rows, err := s.db.Query(ctx, `
		SELECT username, scenario_id, net_worth::text, completed_at
		FROM rippletrade.runs
		WHERE verified AND ($1::timestamptz IS NULL OR completed_at >= $1)
		ORDER BY `+order+`, completed_at ASC
		LIMIT $2
	`, sinceArg, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []game.LeaderboardRow
	for rows.Next() {
		var row game.LeaderboardRow
		var netWorth string
		if err := rows.Scan(&row.Username, &row.ScenarioID, &netWorth, &row.CompletedAt); err != nil {
			return nil, err
		}
		if row.NetWorth, err = decimal.NewFromString(netWorth); err != nil {
			return nil, fmt.Errorf("parse net worth: %w", err)
		}
		row.Rank = int64(len(out) + 1)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) CreateRoom(ctx context.Context, r room.Room) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rippletrade.rooms (id, scenario_id, seed, creator_id, status, created_at, last_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.ID, r.ScenarioID, strconv.FormatUint(r.Seed, 10), r.CreatorID, r.Status, r.CreatedAt, r.LastActive); err != nil {
			return err
		}
		for _, m := range r.Members {
			if err := insertMember(ctx, tx, r.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetRoom(ctx context.Context, id string) (room.Room, error) {
	var r room.Room
	var seed string
	err := s.db.QueryRow(ctx, `
		SELECT id::text, scenario_id, seed, creator_id, status, created_at, last_active
		FROM rippletrade.rooms
		WHERE id::text = $1
	`, id).Scan(&r.ID, &r.ScenarioID, &seed, &r.CreatorID, &r.Status, &r.CreatedAt, &r.LastActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return room.Room{}, room.ErrRoomNotFound
		}
		return room.Room{}, err
	}
	if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return room.Room{}, fmt.Errorf("parse room seed: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT user_id, username, joined_at, day, digest
		FROM rippletrade.room_members
		WHERE room_id = $1
		ORDER BY joined_at ASC
	`, r.ID)
	if err != nil {
		return room.Room{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var m room.Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.JoinedAt, &m.Day, &m.Digest); err != nil {
			return room.Room{}, err
		}
		r.Members = append(r.Members, m)
	}
	return r, rows.Err()
}

func (s *Store) AddMember(ctx context.Context, roomID string, m room.Member, at time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := touchRoom(ctx, tx, roomID, at); err != nil {
			return err
		}
		return insertMember(ctx, tx, roomID, m)
	})
}

func (s *Store) UpdateProgress(ctx context.Context, roomID, userID string, day int, digest string, at time.Time) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := touchRoom(ctx, tx, roomID, at); err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
			UPDATE rippletrade.room_members
			SET day = $3, digest = $4
			WHERE room_id::text = $1 AND user_id = $2
		`, roomID, userID, day, digest)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return room.ErrNotMember
		}
		return nil
	})
}

func (s *Store) CloseIdle(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE rippletrade.rooms
		SET status = 'closed'
		WHERE status = 'open' AND last_active < $1
		RETURNING id::text
	`, before)
	if err != nil {
		return nil, fmt.Errorf("close idle rooms: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func touchRoom(ctx context.Context, tx pgx.Tx, roomID string, at time.Time) error {
	cmd, err := tx.Exec(ctx, `
		UPDATE rippletrade.rooms SET last_active = $2 WHERE id::text = $1
	`, roomID, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return room.ErrRoomNotFound
	}
	return nil
}

func insertMember(ctx context.Context, tx pgx.Tx, roomID string, m room.Member) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO rippletrade.room_members (room_id, user_id, username, joined_at, day, digest)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, m.UserID, m.Username, m.JoinedAt, m.Day, m.Digest)
	return err
}

// withTx runs fn in a serializable transaction, retrying serialization
// failures with backoff.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	const maxAttempts = 6
	retryDelay := 50 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
