package game

import (
	"fmt"
	"strings"
	"time"

	"rippletrade/internal/sim"

	"github.com/shopspring/decimal"
)

type RunView struct {
	ID         string             `json:"id"`
	ScenarioID string             `json:"scenario_id"`
	Seed       uint64             `json:"seed,string"`
	RoomID     string             `json:"room_id,omitempty"`
	Status     string             `json:"status"`
	Day        int                `json:"day"`
	Days       int                `json:"days"`
	Label      string             `json:"label,omitempty"`
	Prices     map[string]float64 `json:"prices"`
	News       []sim.NewsEntry    `json:"news"`
	History    []sim.NewsEntry    `json:"history"`
	Cash       decimal.Decimal    `json:"cash"`
	NetWorth   decimal.Decimal    `json:"net_worth"`
	DebtLimit  decimal.Decimal    `json:"debt_limit"`
	Positions  []PositionView     `json:"positions"`
	Digest     string             `json:"digest"`
	Finished   bool               `json:"finished"`
}

type PositionView struct {
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

type StartRunInput struct {
	UserID     string
	Email      string
	ScenarioID string
	Seed       *uint64
	RoomID     string
}

type OrderInput struct {
	UserID         string
	RunID          string
	Symbol         string
	Side           string
	Quantity       decimal.Decimal
	IdempotencyKey string
}

// Submission is a run played offline and uploaded for verification.
type Submission struct {
	ClientRunID string          `json:"client_run_id"`
	ScenarioID  string          `json:"scenario_id"`
	Seed        uint64          `json:"seed,string"`
	RoomID      string          `json:"room_id,omitempty"`
	Orders      []Order         `json:"orders"`
	Digest      string          `json:"digest"`
	NetWorth    decimal.Decimal `json:"net_worth"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Result is the outcome of a completed run, live or replayed.
type Result struct {
	ScenarioID string          `json:"scenario_id"`
	Seed       uint64          `json:"seed,string"`
	Days       int             `json:"days"`
	Orders     int             `json:"orders"`
	NetWorth   decimal.Decimal `json:"net_worth"`
	Digest     string          `json:"digest"`
}

// Record is a finished run as persisted for leaderboards.
type Record struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	ScenarioID  string          `json:"scenario_id"`
	Seed        uint64          `json:"seed,string"`
	RoomID      string          `json:"room_id,omitempty"`
	NetWorth    decimal.Decimal `json:"net_worth"`
	Digest      string          `json:"digest"`
	Verified    bool            `json:"verified"`
	CompletedAt time.Time       `json:"completed_at"`
}

type LeaderboardRow struct {
	Rank        int64           `json:"rank"`
	Username    string          `json:"username"`
	ScenarioID  string          `json:"scenario_id"`
	NetWorth    decimal.Decimal `json:"net_worth"`
	CompletedAt time.Time       `json:"completed_at"`
}

type Board string

const (
	BoardDaily   Board = "daily"
	BoardAllTime Board = "alltime"
	BoardWorst   Board = "worst"
)

func ParseBoard(s string) (Board, error) {
	switch Board(strings.ToLower(strings.TrimSpace(s))) {
	case BoardDaily:
		return BoardDaily, nil
	case BoardAllTime, "all-time", "all":
		return BoardAllTime, nil
	case BoardWorst:
		return BoardWorst, nil
	default:
		return "", fmt.Errorf("unknown leaderboard %q (daily, alltime, worst)", s)
	}
}

// Since is the earliest completion time a board counts, or the zero time.
func (b Board) Since(now time.Time) time.Time {
	if b != BoardDaily {
		return time.Time{}
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Ascending reports whether lower net worth ranks first.
func (b Board) Ascending() bool {
	return b == BoardWorst
}
