package game

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rippletrade/internal/sim"

	"github.com/google/uuid"
)

type Scenarios interface {
	Get(id string) (*sim.Scenario, error)
}

// Rooms hands out the shared (scenario, seed) pair of a room and receives
// progress reports from runs played in it.
type Rooms interface {
	Session(ctx context.Context, roomID, userID string) (scenarioID string, seed uint64, err error)
	ReportProgress(ctx context.Context, roomID, userID string, day int, digest string)
}

type Service struct {
	scenarios Scenarios
	store     Store
	rooms     Rooms
	log       *slog.Logger
	now       func() time.Time
	verified  bool

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	mu          sync.Mutex
	id          string
	userID      string
	username    string
	roomID      string
	director    *sim.Director
	portfolio   *Portfolio
	orders      []Order
	idem        map[string]Fill
	digest      *sim.Digest
	last        sim.DayResult
	finished    bool
	completedAt time.Time
	lastActive  time.Time
}

type Option func(*Service)

func WithRooms(r Rooms) Option {
	return func(s *Service) { s.rooms = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Unverified marks runs finished by this service as unverified. The CLI
// uses it for offline play, where the server has not replayed the run yet.
func Unverified() Option {
	return func(s *Service) { s.verified = false }
}

func NewService(scenarios Scenarios, store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		scenarios: scenarios,
		store:     store,
		log:       logger,
		now:       time.Now,
		verified:  true,
		runs:      map[string]*run{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeed draws a run seed from crypto/rand.
func NewSeed() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate seed: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (s *Service) StartRun(ctx context.Context, in StartRunInput) (RunView, error) {
	scenarioID := strings.TrimSpace(in.ScenarioID)
	var seed uint64
	switch {
	case in.RoomID != "":
		if s.rooms == nil {
			return RunView{}, errors.New("rooms are not enabled")
		}
		roomScenario, roomSeed, err := s.rooms.Session(ctx, in.RoomID, in.UserID)
		if err != nil {
			return RunView{}, err
		}
		if scenarioID != "" && scenarioID != roomScenario {
			return RunView{}, fmt.Errorf("%w: room plays %s", ErrInvalidOrder, roomScenario)
		}
		scenarioID, seed = roomScenario, roomSeed
	case in.Seed != nil:
		seed = *in.Seed
	default:
		var err error
		if seed, err = NewSeed(); err != nil {
			return RunView{}, err
		}
	}

	sc, err := s.scenarios.Get(scenarioID)
	if err != nil {
		return RunView{}, fmt.Errorf("%w: %s", ErrScenarioNotFound, scenarioID)
	}
	director, err := sim.NewDirector(sc, seed, sim.WithLogger(s.log))
	if err != nil {
		return RunView{}, err
	}
	r := &run{
		id:         uuid.NewString(),
		userID:     in.UserID,
		username:   UsernameFromEmail(in.Email),
		roomID:     in.RoomID,
		director:   director,
		portfolio:  NewPortfolio(),
		idem:       map[string]Fill{},
		digest:     sim.NewDigest(),
		lastActive: s.now(),
	}
	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()

	s.log.Info("run started", "run_id", r.id, "scenario", scenarioID, "room_id", in.RoomID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view(), nil
}

func (s *Service) lookup(userID, runID string) (*run, error) {
	s.mu.Lock()
	r, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	if r.userID != userID {
		return nil, ErrUnauthorized
	}
	return r, nil
}

func (s *Service) Run(ctx context.Context, userID, runID string) (RunView, error) {
	r, err := s.lookup(userID, runID)
	if err != nil {
		return RunView{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view(), nil
}

// Advance plays the run's next day.
func (s *Service) Advance(ctx context.Context, userID, runID string) (RunView, error) {
	r, err := s.lookup(userID, runID)
	if err != nil {
		return RunView{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return RunView{}, ErrRunFinished
	}
	res, err := r.director.AdvanceDay()
	if err != nil {
		if errors.Is(err, sim.ErrAlreadyCompleted) {
			return RunView{}, fmt.Errorf("%w: %w", ErrNoDaysLeft, err)
		}
		return RunView{}, err
	}
	r.last = res
	r.digest.Add(res)
	r.portfolio.Mark(res.Prices)
	r.lastActive = s.now()
	view := r.view()
	if r.roomID != "" && s.rooms != nil {
		s.rooms.ReportProgress(ctx, r.roomID, r.userID, res.Day, view.Digest)
	}
	return view, nil
}

func (s *Service) PlaceOrder(ctx context.Context, in OrderInput) (Fill, error) {
	r, err := s.lookup(in.UserID, in.RunID)
	if err != nil {
		return Fill{}, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if err := ValidateSymbol(symbol); err != nil {
		return Fill{}, err
	}
	side, err := ParseSide(in.Side)
	if err != nil {
		return Fill{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished || r.director.Status() == sim.StatusCompleted {
		return Fill{}, ErrRunFinished
	}
	if _, dup := r.idem[in.IdempotencyKey]; dup && in.IdempotencyKey != "" {
		return Fill{}, ErrDuplicateIdempotency
	}
	if _, ok := r.director.Scenario().Asset(symbol); !ok {
		return Fill{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	order := Order{Day: r.director.Day(), Symbol: symbol, Side: side, Quantity: in.Quantity}
	prices := r.director.Prices()
	fill, err := r.portfolio.Apply(order, PriceOf(prices[symbol]))
	if err != nil {
		return Fill{}, err
	}
	r.orders = append(r.orders, order)
	if in.IdempotencyKey != "" {
		r.idem[in.IdempotencyKey] = fill
	}
	r.lastActive = s.now()
	return fill, nil
}

// Finish records a completed run for the leaderboards.
func (s *Service) Finish(ctx context.Context, userID, runID string) (Result, error) {
	r, err := s.lookup(userID, runID)
	if err != nil {
		return Result{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return Result{}, ErrRunFinished
	}
	if r.director.Status() != sim.StatusCompleted {
		return Result{}, ErrRunNotFinished
	}
	sc := r.director.Scenario()
	res := Result{
		ScenarioID: sc.ID(),
		Seed:       r.director.Seed(),
		Days:       sc.DayCount(),
		Orders:     len(r.orders),
		NetWorth:   r.portfolio.NetWorth(r.director.Prices()),
		Digest:     r.digest.Sum(),
	}
	rec := Record{
		ID:          r.id,
		UserID:      r.userID,
		Username:    r.username,
		ScenarioID:  res.ScenarioID,
		Seed:        res.Seed,
		RoomID:      r.roomID,
		NetWorth:    res.NetWorth,
		Digest:      res.Digest,
		Verified:    s.verified,
		CompletedAt: s.now().UTC(),
	}
	if err := s.store.SaveRecord(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("save record: %w", err)
	}
	r.finished = true
	r.completedAt = rec.CompletedAt
	s.log.Info("run finished", "run_id", r.id, "net_worth", res.NetWorth.StringFixed(MoneyPlaces))
	return res, nil
}

// Submission packages a finished run for upload to a server that will
// replay it.
func (s *Service) Submission(ctx context.Context, userID, runID string) (Submission, error) {
	r, err := s.lookup(userID, runID)
	if err != nil {
		return Submission{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		return Submission{}, ErrRunNotFinished
	}
	return Submission{
		ClientRunID: r.id,
		ScenarioID:  r.director.Scenario().ID(),
		Seed:        r.director.Seed(),
		RoomID:      r.roomID,
		Orders:      append([]Order(nil), r.orders...),
		Digest:      r.digest.Sum(),
		NetWorth:    r.portfolio.NetWorth(r.director.Prices()),
		CompletedAt: r.completedAt,
	}, nil
}

// Submit verifies an offline run by replaying it and records it on success.
func (s *Service) Submit(ctx context.Context, userID, email string, sub Submission) (Result, error) {
	if sub.RoomID != "" && s.rooms != nil {
		scenarioID, seed, err := s.rooms.Session(ctx, sub.RoomID, userID)
		if err != nil {
			return Result{}, err
		}
		if scenarioID != sub.ScenarioID || seed != sub.Seed {
			return Result{}, fmt.Errorf("%w: run does not match room", ErrVerificationFailed)
		}
	}
	sc, err := s.scenarios.Get(sub.ScenarioID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrScenarioNotFound, sub.ScenarioID)
	}
	res, err := Verify(sc, sub)
	if err != nil {
		s.log.Warn("submission rejected", "err", err, "scenario", sub.ScenarioID, "client_run_id", sub.ClientRunID)
		return Result{}, err
	}
	completed := sub.CompletedAt
	if completed.IsZero() || completed.After(s.now()) {
		completed = s.now()
	}
	id := sub.ClientRunID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	rec := Record{
		ID:          id,
		UserID:      userID,
		Username:    UsernameFromEmail(email),
		ScenarioID:  res.ScenarioID,
		Seed:        res.Seed,
		RoomID:      sub.RoomID,
		NetWorth:    res.NetWorth,
		Digest:      res.Digest,
		Verified:    true,
		CompletedAt: completed.UTC(),
	}
	if err := s.store.SaveRecord(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("save record: %w", err)
	}
	return res, nil
}

func (s *Service) Leaderboard(ctx context.Context, board Board, limit int) ([]LeaderboardRow, error) {
	return s.store.Leaderboard(ctx, board, board.Since(s.now()), limit)
}

// EvictIdle drops in-memory runs untouched since before and returns how
// many were removed.
func (s *Service) EvictIdle(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.runs {
		r.mu.Lock()
		idle := r.lastActive.Before(before)
		r.mu.Unlock()
		if idle {
			delete(s.runs, id)
			n++
		}
	}
	return n
}

// view must be called with r.mu held.
func (r *run) view() RunView {
	sc := r.director.Scenario()
	prices := r.director.Prices()
	snap := r.director.Snapshot()
	v := RunView{
		ID:         r.id,
		ScenarioID: sc.ID(),
		Seed:       r.director.Seed(),
		RoomID:     r.roomID,
		Status:     r.director.Status().String(),
		Day:        r.director.Day(),
		Days:       sc.DayCount(),
		Prices:     prices,
		News:       r.last.News,
		History:    snap.News,
		Cash:       r.portfolio.Cash,
		NetWorth:   r.portfolio.NetWorth(prices),
		DebtLimit:  r.portfolio.DebtLimit(),
		Positions:  r.portfolio.Views(prices),
		Digest:     r.digest.Sum(),
		Finished:   r.finished,
	}
	if r.director.Day() > 0 {
		v.Label = r.last.Label
	}
	return v
}
