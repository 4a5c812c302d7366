package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"rippletrade/internal/game"
	"rippletrade/internal/room"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// These tests need a disposable Postgres; they are skipped otherwise.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("RIPPLETRADE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RIPPLETRADE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(pool)
}

func TestRecordsAndLeaderboard(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	scenarioID := "test-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	rec := game.Record{
		ID: uuid.NewString(), UserID: "u1", Username: "ann", ScenarioID: scenarioID,
		Seed: 1<<64 - 1, NetWorth: decimal.RequireFromString("99999999.25"), Digest: "d", Verified: true, CompletedAt: now,
	}
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRecord(ctx, rec); !errors.Is(err, game.ErrDuplicateIdempotency) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	rows, err := s.Leaderboard(ctx, game.BoardAllTime, now.Add(-time.Second), 100)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.ScenarioID == scenarioID && r.NetWorth.Equal(rec.NetWorth) {
			found = true
		}
	}
	if !found {
		t.Fatalf("record missing from leaderboard: %+v", rows)
	}
}

func TestRoomLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	r := room.Room{
		ID: uuid.NewString(), ScenarioID: "ore-basics", Seed: 12345, CreatorID: "u1", Status: room.StatusOpen,
		Members:   []room.Member{{UserID: "u1", Username: "ann", JoinedAt: now}},
		CreatedAt: now, LastActive: now,
	}
	if err := s.CreateRoom(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AddMember(ctx, r.ID, room.Member{UserID: "u2", Username: "bob", JoinedAt: now.Add(time.Second)}, now); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.UpdateProgress(ctx, r.ID, "u2", 4, "abc", now); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := s.UpdateProgress(ctx, r.ID, "ghost", 1, "x", now); !errors.Is(err, room.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	got, err := s.GetRoom(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Seed != 12345 || len(got.Members) != 2 || got.Members[1].Day != 4 {
		t.Fatalf("room = %+v", got)
	}
	ids, err := s.CloseIdle(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("close idle: %v", err)
	}
	closed := false
	for _, id := range ids {
		closed = closed || id == r.ID
	}
	if !closed {
		t.Fatalf("room not closed: %v", ids)
	}
	if _, err := s.GetRoom(ctx, uuid.NewString()); !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}
