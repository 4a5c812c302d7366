package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"rippletrade/internal/scenario"
)

const testSecret = "room-grant-secret-for-tests"

func newTestRegistry(t *testing.T, hub *Hub) *Registry {
	t.Helper()
	catalog, err := scenario.Builtin()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}
	grants, err := NewGrantIssuer(testSecret, "rippletrade-test", time.Hour)
	if err != nil {
		t.Fatalf("grant issuer: %v", err)
	}
	return NewRegistry(NewMemoryStore(), catalog, grants, hub, nil)
}

func TestCreateAndJoinShareSession(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx := context.Background()

	created, err := reg.Create(ctx, "u1", "ann@example.com", "ore-rush")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	joined, err := reg.Join(ctx, created.Room.ID, "u2", "bo@example.com")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joined.Room.Members) != 2 {
		t.Fatalf("members = %+v", joined.Room.Members)
	}
	if _, err := reg.Join(ctx, created.Room.ID, "u2", "bo@example.com"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	rm, _ := reg.Get(ctx, created.Room.ID)
	if len(rm.Members) != 2 {
		t.Fatalf("rejoin duplicated member: %+v", rm.Members)
	}

	for _, user := range []string{"u1", "u2"} {
		sc, seed, err := reg.Session(ctx, created.Room.ID, user)
		if err != nil {
			t.Fatalf("session %s: %v", user, err)
		}
		if sc != "ore-rush" || seed != created.Room.Seed {
			t.Fatalf("session %s = %s/%d", user, sc, seed)
		}
	}
	if _, _, err := reg.Session(ctx, created.Room.ID, "stranger"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}

	g, err := reg.Authorize(ctx, created.Room.ID, joined.Grant)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if g.UserID != "u2" || g.Seed != created.Room.Seed {
		t.Fatalf("grant = %+v", g)
	}
}

func TestCreateUnknownScenario(t *testing.T) {
	reg := newTestRegistry(t, nil)
	if _, err := reg.Create(context.Background(), "u1", "a@example.com", "nope"); err == nil {
		t.Fatalf("expected error for unknown scenario")
	}
	if _, err := reg.Join(context.Background(), "missing", "u1", "a@example.com"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestCloseIdleRooms(t *testing.T) {
	reg := newTestRegistry(t, nil)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	stale, err := reg.Create(ctx, "u1", "a@example.com", "ore-basics")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now = now.Add(2 * time.Hour)
	fresh, err := reg.Create(ctx, "u1", "a@example.com", "ore-basics")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := reg.CloseIdleRooms(ctx, now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("closed %d, err %v", n, err)
	}
	if _, err := reg.Join(ctx, stale.Room.ID, "u2", "b@example.com"); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
	if _, err := reg.Authorize(ctx, stale.Room.ID, stale.Grant); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed on authorize, got %v", err)
	}
	if _, err := reg.Join(ctx, fresh.Room.ID, "u2", "b@example.com"); err != nil {
		t.Fatalf("fresh room closed: %v", err)
	}
}

func TestGrantRejections(t *testing.T) {
	issuer, err := NewGrantIssuer(testSecret, "rippletrade-test", time.Minute)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	token, err := issuer.Issue(Grant{RoomID: "r1", ScenarioID: "ore-basics", Seed: 1<<63 + 5, UserID: "u1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	g, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Seed != 1<<63+5 || g.RoomID != "r1" {
		t.Fatalf("grant = %+v", g)
	}

	other, _ := NewGrantIssuer("a-different-secret-value", "rippletrade-test", time.Minute)
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("wrong key: expected ErrInvalidGrant, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expired: expected ErrInvalidGrant, got %v", err)
	}
	if _, err := issuer.Parse(""); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("empty: expected ErrInvalidGrant, got %v", err)
	}
	if _, err := NewGrantIssuer("short", "x", time.Minute); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}
