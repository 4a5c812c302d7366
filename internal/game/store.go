package game

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists finished runs and ranks them. SaveRecord returns
// ErrDuplicateIdempotency for a record id it has already stored.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	Leaderboard(ctx context.Context, board Board, since time.Time, limit int) ([]LeaderboardRow, error)
}

// MemoryStore keeps records in process. It backs tests and API instances
// started without a database. Like the Postgres store, its boards rank
// verified records only.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveRecord(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if rec.ID != "" && r.ID == rec.ID {
			return ErrDuplicateIdempotency
		}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) Leaderboard(ctx context.Context, board Board, since time.Time, limit int) ([]LeaderboardRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	recs := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if !r.Verified || (!since.IsZero() && r.CompletedAt.Before(since)) {
			continue
		}
		recs = append(recs, r)
	}
	m.mu.Unlock()
	return RankRecords(recs, board, limit), nil
}

// RankRecords orders records for board: highest net worth first, or lowest
// for the worst board. Ties go to the earlier completion.
func RankRecords(recs []Record, board Board, limit int) []LeaderboardRow {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.NetWorth.Equal(b.NetWorth) {
			if board.Ascending() {
				return a.NetWorth.LessThan(b.NetWorth)
			}
			return a.NetWorth.GreaterThan(b.NetWorth)
		}
		return a.CompletedAt.Before(b.CompletedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]LeaderboardRow, 0, len(recs))
	for i, r := range recs {
		out = append(out, LeaderboardRow{
			Rank:        int64(i + 1),
			Username:    r.Username,
			ScenarioID:  r.ScenarioID,
			NetWorth:    r.NetWorth,
			CompletedAt: r.CompletedAt,
		})
	}
	return out
}
