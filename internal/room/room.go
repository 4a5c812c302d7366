package room

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomClosed   = errors.New("room is closed")
	ErrNotMember    = errors.New("not a member of this room")
	ErrInvalidGrant = errors.New("invalid join grant")
)

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Room pins a scenario and seed so every member replays the same market.
type Room struct {
	ID         string    `json:"id"`
	ScenarioID string    `json:"scenario_id"`
	Seed       uint64    `json:"seed,string"`
	CreatorID  string    `json:"creator_id"`
	Status     string    `json:"status"`
	Members    []Member  `json:"members"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type Member struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
	Day      int       `json:"day"`
	Digest   string    `json:"digest,omitempty"`
}

func (r Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Store persists rooms and their members.
type Store interface {
	CreateRoom(ctx context.Context, r Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	AddMember(ctx context.Context, roomID string, m Member, at time.Time) error
	UpdateProgress(ctx context.Context, roomID, userID string, day int, digest string, at time.Time) error
	CloseIdle(ctx context.Context, before time.Time) ([]string, error)
}

type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: map[string]*Room{}}
}

func (m *MemoryStore) CreateRoom(ctx context.Context, r Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Members = append([]Member(nil), r.Members...)
	m.rooms[r.ID] = &r
	return nil
}

func (m *MemoryStore) GetRoom(ctx context.Context, id string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	out := *r
	out.Members = append([]Member(nil), r.Members...)
	return out, nil
}

// AddMember is a no-op for existing members apart from touching the room.
func (m *MemoryStore) AddMember(ctx context.Context, roomID string, member Member, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	r.LastActive = at
	if r.HasMember(member.UserID) {
		return nil
	}
	r.Members = append(r.Members, member)
	sort.SliceStable(r.Members, func(i, j int) bool { return r.Members[i].JoinedAt.Before(r.Members[j].JoinedAt) })
	return nil
}

func (m *MemoryStore) UpdateProgress(ctx context.Context, roomID, userID string, day int, digest string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	for i := range r.Members {
		if r.Members[i].UserID == userID {
			r.Members[i].Day = day
			r.Members[i].Digest = digest
			r.LastActive = at
			return nil
		}
	}
	return ErrNotMember
}

func (m *MemoryStore) CloseIdle(ctx context.Context, before time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var closed []string
	for id, r := range m.rooms {
		if r.Status == StatusOpen && r.LastActive.Before(before) {
			r.Status = StatusClosed
			closed = append(closed, id)
		}
	}
	sort.Strings(closed)
	return closed, nil
}
