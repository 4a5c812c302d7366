package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rippletrade/internal/game"
	"rippletrade/internal/sim"

	"github.com/google/uuid"
)

type Scenarios interface {
	Get(id string) (*sim.Scenario, error)
}

// Joined is returned from Create and Join: the room plus a grant the member
// presents to the websocket feed.
type Joined struct {
	Room  Room   `json:"room"`
	Grant string `json:"grant"`
}

// Registry owns room membership. It implements game.Rooms so live runs can
// be bound to a room's scenario and seed.
type Registry struct {
	store     Store
	scenarios Scenarios
	grants    *GrantIssuer
	hub       *Hub
	log       *slog.Logger
	now       func() time.Time
}

func NewRegistry(store Store, scenarios Scenarios, grants *GrantIssuer, hub *Hub, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		scenarios: scenarios,
		grants:    grants,
		hub:       hub,
		log:       logger,
		now:       time.Now,
	}
}

var _ game.Rooms = (*Registry)(nil)

func (r *Registry) Create(ctx context.Context, userID, email, scenarioID string) (Joined, error) {
	scenarioID = strings.TrimSpace(scenarioID)
	if _, err := r.scenarios.Get(scenarioID); err != nil {
		return Joined{}, fmt.Errorf("%w: %s", game.ErrScenarioNotFound, scenarioID)
	}
	seed, err := game.NewSeed()
	if err != nil {
		return Joined{}, err
	}
	now := r.now().UTC()
	rm := Room{
		ID:         uuid.NewString(),
		ScenarioID: scenarioID,
		Seed:       seed,
		CreatorID:  userID,
		Status:     StatusOpen,
		Members:    []Member{{UserID: userID, Username: game.UsernameFromEmail(email), JoinedAt: now}},
		CreatedAt:  now,
		LastActive: now,
	}
	if err := r.store.CreateRoom(ctx, rm); err != nil {
		return Joined{}, fmt.Errorf("create room: %w", err)
	}
	grant, err := r.issue(rm, userID)
	if err != nil {
		return Joined{}, err
	}
	r.log.Info("room created", "room_id", rm.ID, "scenario", scenarioID)
	return Joined{Room: rm, Grant: grant}, nil
}

func (r *Registry) Join(ctx context.Context, roomID, userID, email string) (Joined, error) {
	rm, err := r.openRoom(ctx, roomID)
	if err != nil {
		return Joined{}, err
	}
	member := Member{UserID: userID, Username: game.UsernameFromEmail(email), JoinedAt: r.now().UTC()}
	fresh := !rm.HasMember(userID)
	if err := r.store.AddMember(ctx, roomID, member, member.JoinedAt); err != nil {
		return Joined{}, fmt.Errorf("join room: %w", err)
	}
	if rm, err = r.store.GetRoom(ctx, roomID); err != nil {
		return Joined{}, err
	}
	grant, err := r.issue(rm, userID)
	if err != nil {
		return Joined{}, err
	}
	if fresh && r.hub != nil {
		r.hub.Broadcast(Message{Type: MessageMemberJoined, RoomID: roomID, UserID: userID, Username: member.Username})
	}
	return Joined{Room: rm, Grant: grant}, nil
}

func (r *Registry) Get(ctx context.Context, roomID string) (Room, error) {
	return r.store.GetRoom(ctx, roomID)
}

// Session returns the room's scenario and seed for a member of an open room.
func (r *Registry) Session(ctx context.Context, roomID, userID string) (string, uint64, error) {
	rm, err := r.openRoom(ctx, roomID)
	if err != nil {
		return "", 0, err
	}
	if !rm.HasMember(userID) {
		return "", 0, ErrNotMember
	}
	return rm.ScenarioID, rm.Seed, nil
}

// ReportProgress records a member's day and digest and tells the room.
// Failures are logged; progress is advisory.
func (r *Registry) ReportProgress(ctx context.Context, roomID, userID string, day int, digest string) {
	if err := r.store.UpdateProgress(ctx, roomID, userID, day, digest, r.now().UTC()); err != nil {
		r.log.Warn("room progress not recorded", "err", err, "room_id", roomID, "day", day)
		return
	}
	if r.hub != nil {
		r.hub.Broadcast(Message{Type: MessageProgress, RoomID: roomID, UserID: userID, Day: day, Digest: digest})
	}
}

// Authorize checks a websocket grant against roomID.
func (r *Registry) Authorize(ctx context.Context, roomID, token string) (Grant, error) {
	g, err := r.grants.Parse(token)
	if err != nil {
		return Grant{}, err
	}
	if g.RoomID != roomID {
		return Grant{}, fmt.Errorf("%w: grant is for another room", ErrInvalidGrant)
	}
	if _, err := r.openRoom(ctx, roomID); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// CloseIdleRooms closes open rooms with no activity since before.
func (r *Registry) CloseIdleRooms(ctx context.Context, before time.Time) (int, error) {
	ids, err := r.store.CloseIdle(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("close idle rooms: %w", err)
	}
	for _, id := range ids {
		if r.hub != nil {
			r.hub.CloseRoom(id)
		}
		r.log.Info("room closed", "room_id", id)
	}
	return len(ids), nil
}

func (r *Registry) openRoom(ctx context.Context, roomID string) (Room, error) {
	rm, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, err
	}
	if rm.Status != StatusOpen {
		return Room{}, ErrRoomClosed
	}
	return rm, nil
}

func (r *Registry) issue(rm Room, userID string) (string, error) {
	if r.grants == nil {
		return "", errors.New("room grants are not configured")
	}
	return r.grants.Issue(Grant{RoomID: rm.ID, ScenarioID: rm.ScenarioID, Seed: rm.Seed, UserID: userID})
}
