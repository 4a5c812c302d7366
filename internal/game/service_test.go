package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"rippletrade/internal/scenario"
)

type fakeRooms struct {
	scenarioID string
	seed       uint64
	progress   []int
}

func (f *fakeRooms) Session(ctx context.Context, roomID, userID string) (string, uint64, error) {
	if roomID != "room-1" {
		return "", 0, errors.New("no such room")
	}
	return f.scenarioID, f.seed, nil
}

func (f *fakeRooms) ReportProgress(ctx context.Context, roomID, userID string, day int, digest string) {
	f.progress = append(f.progress, day)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	catalog, err := scenario.Builtin()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}
	store := NewMemoryStore()
	return NewService(catalog, store, nil, opts...), store
}

func playToEnd(t *testing.T, svc *Service, userID, runID string, trade func(day int)) RunView {
	t.Helper()
	v, err := svc.Run(context.Background(), userID, runID)
	if err != nil {
		t.Fatalf("run view: %v", err)
	}
	for v.Status != "completed" {
		trade(v.Day)
		if v, err = svc.Advance(context.Background(), userID, runID); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	return v
}

func TestLiveRunMatchesReplay(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed := uint64(77)
	view, err := svc.StartRun(ctx, StartRunInput{UserID: "u1", Email: "ann@example.com", ScenarioID: "ore-rush", Seed: &seed})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var orders []Order
	playToEnd(t, svc, "u1", view.ID, func(day int) {
		var side Side
		switch day % 4 {
		case 0:
			side = SideBuy
		case 2:
			side = SideSell
		default:
			return
		}
		fill, err := svc.PlaceOrder(ctx, OrderInput{UserID: "u1", RunID: view.ID, Symbol: "ORE", Side: string(side), Quantity: d("5")})
		if err != nil {
			t.Fatalf("day %d %s: %v", day, side, err)
		}
		orders = append(orders, fill.Order)
	})

	if _, err := svc.PlaceOrder(ctx, OrderInput{UserID: "u1", RunID: view.ID, Symbol: "ORE", Side: "buy", Quantity: d("1")}); !errors.Is(err, ErrRunFinished) {
		t.Fatalf("order after last day: expected ErrRunFinished, got %v", err)
	}
	if _, err := svc.Advance(ctx, "u1", view.ID); !errors.Is(err, ErrNoDaysLeft) || errors.Is(err, ErrRunNotFinished) {
		t.Fatalf("advance after last day: expected ErrNoDaysLeft, got %v", err)
	}

	res, err := svc.Finish(ctx, "u1", view.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := svc.Finish(ctx, "u1", view.ID); !errors.Is(err, ErrRunFinished) {
		t.Fatalf("second finish: expected ErrRunFinished, got %v", err)
	}

	sc, _ := svc.scenarios.Get("ore-rush")
	replayed, err := Replay(sc, seed, orders)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Digest != res.Digest || !replayed.NetWorth.Equal(res.NetWorth) {
		t.Fatalf("replay %+v differs from live %+v", replayed, res)
	}

	sub, err := svc.Submission(ctx, "u1", view.ID)
	if err != nil {
		t.Fatalf("submission: %v", err)
	}
	if _, err := Verify(sc, sub); err != nil {
		t.Fatalf("own submission does not verify: %v", err)
	}
	if len(sub.Orders) != len(orders) || sub.ClientRunID != view.ID {
		t.Fatalf("submission = %+v", sub)
	}

	rows, err := store.Leaderboard(ctx, BoardAllTime, time.Time{}, 10)
	if err != nil || len(rows) != 1 || rows[0].Username != "ann" {
		t.Fatalf("leaderboard rows=%+v err=%v", rows, err)
	}
}

func TestSubmitVerifies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sc, _ := svc.scenarios.Get("rate-shock")
	orders := []Order{
		{Day: 0, Symbol: "UTIL", Side: SideBuy, Quantity: d("50")},
		{Day: 5, Symbol: "UTIL", Side: SideSell, Quantity: d("20")},
	}
	honest, err := Replay(sc, 9, orders)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	sub := Submission{ScenarioID: "rate-shock", Seed: 9, Orders: orders, Digest: honest.Digest, NetWorth: honest.NetWorth}
	if _, err := svc.Submit(ctx, "u2", "bo@example.com", sub); err != nil {
		t.Fatalf("honest submission rejected: %v", err)
	}

	inflated := sub
	inflated.NetWorth = honest.NetWorth.Add(d("1000"))
	if _, err := svc.Submit(ctx, "u2", "bo@example.com", inflated); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	wrongSeed := sub
	wrongSeed.Seed = 10
	if _, err := svc.Submit(ctx, "u2", "bo@example.com", wrongSeed); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed for wrong seed, got %v", err)
	}
}

func TestReplayRejectsBadOrders(t *testing.T) {
	catalog, _ := scenario.Builtin()
	sc, _ := catalog.Get("ore-basics")
	tests := map[string][]Order{
		"unsorted":      {{Day: 2, Symbol: "ORE", Side: SideBuy, Quantity: d("1")}, {Day: 1, Symbol: "ORE", Side: SideBuy, Quantity: d("1")}},
		"after end":     {{Day: 5, Symbol: "ORE", Side: SideBuy, Quantity: d("1")}},
		"unknown asset": {{Day: 0, Symbol: "GLD", Side: SideBuy, Quantity: d("1")}},
		"oversell":      {{Day: 0, Symbol: "ORE", Side: SideSell, Quantity: d("1")}},
	}
	for name, orders := range tests {
		if _, err := Replay(sc, 1, orders); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRunOwnershipAndRooms(t *testing.T) {
	rooms := &fakeRooms{scenarioID: "ore-basics", seed: 42}
	svc, _ := newTestService(t, WithRooms(rooms))
	ctx := context.Background()

	view, err := svc.StartRun(ctx, StartRunInput{UserID: "u1", RoomID: "room-1"})
	if err != nil {
		t.Fatalf("start in room: %v", err)
	}
	if view.ScenarioID != "ore-basics" || view.Seed != 42 {
		t.Fatalf("room session not applied: %+v", view)
	}
	if _, err := svc.Run(ctx, "intruder", view.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Run(ctx, "u1", "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := svc.Finish(ctx, "u1", view.ID); !errors.Is(err, ErrRunNotFinished) {
		t.Fatalf("expected ErrRunNotFinished, got %v", err)
	}
	if _, err := svc.Advance(ctx, "u1", view.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(rooms.progress) != 1 || rooms.progress[0] != 0 {
		t.Fatalf("progress = %v", rooms.progress)
	}

	other, err := svc.StartRun(ctx, StartRunInput{UserID: "u2", RoomID: "room-1"})
	if err != nil {
		t.Fatalf("second member start: %v", err)
	}
	a, _ := svc.Run(ctx, "u1", view.ID)
	b, _ := svc.Advance(ctx, "u2", other.ID)
	if a.Digest != b.Digest {
		t.Fatalf("room members diverged after one day")
	}
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seed := uint64(1)
	view, err := svc.StartRun(ctx, StartRunInput{UserID: "u1", ScenarioID: "ore-basics", Seed: &seed})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	in := OrderInput{UserID: "u1", RunID: view.ID, Symbol: "ORE", Side: "buy", Quantity: d("1"), IdempotencyKey: "k1"}
	if _, err := svc.PlaceOrder(ctx, in); err != nil {
		t.Fatalf("first order: %v", err)
	}
	if _, err := svc.PlaceOrder(ctx, in); !errors.Is(err, ErrDuplicateIdempotency) {
		t.Fatalf("expected ErrDuplicateIdempotency, got %v", err)
	}
}

func TestEvictIdle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, WithClock(func() time.Time { return now }))
	seed := uint64(1)
	view, err := svc.StartRun(context.Background(), StartRunInput{UserID: "u1", ScenarioID: "ore-basics", Seed: &seed})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if n := svc.EvictIdle(now.Add(-time.Minute)); n != 0 {
		t.Fatalf("evicted fresh run")
	}
	if n := svc.EvictIdle(now.Add(time.Minute)); n != 1 {
		t.Fatalf("evicted %d want 1", n)
	}
	if _, err := svc.Run(context.Background(), "u1", view.ID); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound after eviction, got %v", err)
	}
}

func TestLeaderboardBoards(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	ctx := context.Background()
	recs := []Record{
		{ID: "1", Username: "old", NetWorth: d("90000"), Verified: true, CompletedAt: now.Add(-48 * time.Hour)},
		{ID: "2", Username: "rich", NetWorth: d("40000"), Verified: true, CompletedAt: now.Add(-time.Hour)},
		{ID: "3", Username: "poor", NetWorth: d("100"), Verified: true, CompletedAt: now.Add(-2 * time.Hour)},
		{ID: "4", Username: "cheat", NetWorth: d("900000"), CompletedAt: now.Add(-time.Minute)},
		{ID: "5", Username: "broke", NetWorth: d("1"), CompletedAt: now.Add(-time.Minute)},
	}
	for _, r := range recs {
		if err := store.SaveRecord(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	daily, _ := store.Leaderboard(ctx, BoardDaily, BoardDaily.Since(now), 10)
	if len(daily) != 2 || daily[0].Username != "rich" {
		t.Fatalf("daily = %+v", daily)
	}
	all, _ := store.Leaderboard(ctx, BoardAllTime, time.Time{}, 10)
	if len(all) != 3 || all[0].Username != "old" || all[2].Rank != 3 {
		t.Fatalf("alltime = %+v", all)
	}
	worst, _ := store.Leaderboard(ctx, BoardWorst, time.Time{}, 1)
	if len(worst) != 1 || worst[0].Username != "poor" {
		t.Fatalf("worst = %+v", worst)
	}
}
