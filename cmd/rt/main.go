package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cl "rippletrade/internal/cli"
	"rippletrade/internal/config"
	"rippletrade/internal/game"
	"rippletrade/internal/localdb"
	"rippletrade/internal/scenario"
	"rippletrade/internal/sim"
	"rippletrade/internal/syncq"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:          "rt",
		Short:        "Ripple Trade market game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "API base URL")
	root.PersistentFlags().StringVar(&cfg.Home, "home", cfg.Home, "directory for session, queue and local history")

	root.AddCommand(
		newSignupCmd(&cfg),
		newLoginCmd(&cfg),
		newLogoutCmd(&cfg),
		newScenariosCmd(&cfg),
		newSimCmd(&cfg),
		newPlayCmd(&cfg),
		newVerifyCmd(&cfg),
		newSyncCmd(&cfg),
		newRoomsCmd(&cfg),
		newLeaderboardCmd(&cfg),
		newHistoryCmd(&cfg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(cfg *config.CLIConfig) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"))
}

func requireSession(cfg *config.CLIConfig) (cl.Session, error) {
	sess, err := cl.LoadSession(cfg.Home)
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func openLocal(cfg *config.CLIConfig) (*localdb.Store, error) {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}
	return localdb.Open(filepath.Join(cfg.Home, "runs.db"))
}

// loadCatalog returns the built-in scenarios plus any JSON files under
// <home>/scenarios.
func loadCatalog(cfg *config.CLIConfig) (*scenario.Catalog, error) {
	catalog, err := scenario.Builtin()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(cfg.Home, "scenarios")
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		if err := catalog.LoadDir(dir); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

func saveSession(cfg *config.CLIConfig, accessToken, refreshToken, email, userID string) error {
	return cl.SaveSession(cfg.Home, cl.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Email:        email,
		UserID:       userID,
	})
}

func newSignupCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(cfg).Signup(ctx, email, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `rt login`.")
				return nil
			}
			if err := saveSession(cfg, session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login and save a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(cfg).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveSession(cfg, session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(cfg.Home); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newScenariosCmd(cfg *config.CLIConfig) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List playable scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !local {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				rows, err := newClient(cfg).Scenarios(ctx)
				if err == nil {
					renderScenarios(rows)
					return nil
				}
				var apiErr *cl.APIError
				if errors.As(err, &apiErr) {
					return err
				}
				printWarn(fmt.Sprintf("Server unreachable (%v); showing local scenarios.", err))
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			renderScenarios(catalog.List())
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "list scenarios bundled with this client")
	return cmd
}

func newSimCmd(cfg *config.CLIConfig) *cobra.Command {
	var (
		seed  uint64
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "sim <scenario>",
		Short: "Simulate a scenario without trading and print each day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			sc, err := catalog.Get(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				if seed, err = game.NewSeed(); err != nil {
					return err
				}
			}
			results, err := sim.Play(sc, seed)
			if err != nil {
				return err
			}
			symbols := make([]string, 0, len(sc.Assets()))
			prev := make(map[string]float64, len(sc.Assets()))
			for _, a := range sc.Assets() {
				symbols = append(symbols, a.Symbol)
				prev[a.Symbol] = a.StartPrice
			}
			if !quiet {
				for _, res := range results {
					renderDay(res, prev, symbols)
					prev = res.Prices
				}
				fmt.Println()
			}
			fmt.Printf("Scenario: %s\n", sc.ID())
			fmt.Printf("Seed:     %d\n", seed)
			fmt.Printf("Digest:   %s\n", sim.DigestOf(results))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed to simulate (random if unset)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "print only the digest")
	return cmd
}

func newPlayCmd(cfg *config.CLIConfig) *cobra.Command {
	var (
		seed   uint64
		online bool
		roomID string
	)
	cmd := &cobra.Command{
		Use:   "play [scenario]",
		Short: "Play a scenario in the terminal",
		Long: "Play a scenario in the terminal. Runs are played offline by default and queued " +
			"for verification; --online or --room plays against the server.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("play needs an interactive terminal; try `rt sim`")
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			scenarioID := ""
			if len(args) > 0 {
				scenarioID = strings.TrimSpace(args[0])
			}
			if scenarioID == "" && roomID == "" {
				ids := make([]string, 0)
				for _, s := range catalog.List() {
					ids = append(ids, s.ID)
				}
				if len(ids) == 0 {
					return errors.New("no scenarios available")
				}
				if scenarioID, err = promptChoice("Scenario", ids, ids[0]); err != nil {
					return err
				}
			}
			var seedPtr *uint64
			if cmd.Flags().Changed("seed") {
				seedPtr = &seed
			}

			store, err := openLocal(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if online || roomID != "" {
				return playOnline(cmd.Context(), cfg, store, scenarioID, seedPtr, roomID)
			}
			return playOffline(cmd.Context(), cfg, catalog, store, scenarioID, seedPtr)
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed to play (random if unset)")
	cmd.Flags().BoolVar(&online, "online", false, "play against the server instead of locally")
	cmd.Flags().StringVar(&roomID, "room", "", "play the shared seed of a room (implies --online)")
	return cmd
}

func playOffline(ctx context.Context, cfg *config.CLIConfig, catalog *scenario.Catalog, store *localdb.Store, scenarioID string, seed *uint64) error {
	userID, email := "local", "player@local"
	sess, sessErr := cl.LoadSession(cfg.Home)
	if sessErr == nil {
		userID, email = sess.UserID, sess.Email
	}

	quietLog := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(catalog, store, quietLog, game.Unverified())
	view, err := svc.StartRun(ctx, game.StartRunInput{
		UserID:     userID,
		Email:      email,
		ScenarioID: scenarioID,
		Seed:       seed,
	})
	if err != nil {
		return err
	}
	res, err := runPlay(ctx, &localRunner{svc: svc, userID: userID, runID: view.ID}, view)
	if err != nil {
		return err
	}
	if res == nil {
		printWarn("Run abandoned.")
		return nil
	}
	renderResult(*res, "Run complete")

	sub, err := svc.Submission(ctx, userID, view.ID)
	if err != nil {
		return err
	}
	if err := syncq.Push(cfg.Home, sub); err != nil {
		return fmt.Errorf("queue run for upload: %w", err)
	}
	if sessErr != nil {
		printInfo("Run saved locally. Login and run `rt sync` to post it to the leaderboards.")
		return nil
	}
	syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sent, remaining, err := flushQueue(syncCtx, newClient(cfg), sess.AccessToken, cfg.Home, store)
	if err != nil {
		return err
	}
	if remaining > 0 {
		printWarn(fmt.Sprintf("Uploaded %d run(s); %d still queued. Run `rt sync` later.", sent, remaining))
		return nil
	}
	printSuccess("Run verified by the server.")
	return nil
}

func playOnline(ctx context.Context, cfg *config.CLIConfig, store *localdb.Store, scenarioID string, seed *uint64, roomID string) error {
	sess, err := requireSession(cfg)
	if err != nil {
		return err
	}
	client := newClient(cfg)
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if roomID != "" {
		joined, err := client.JoinRoom(reqCtx, sess.AccessToken, roomID)
		if err != nil {
			return err
		}
		if scenarioID != "" && scenarioID != joined.Room.ScenarioID {
			return fmt.Errorf("room %s plays %s, not %s", roomID, joined.Room.ScenarioID, scenarioID)
		}
		scenarioID = joined.Room.ScenarioID
		seed = nil
	}
	view, err := client.StartRun(reqCtx, sess.AccessToken, scenarioID, seed, roomID)
	if err != nil {
		return err
	}
	res, err := runPlay(ctx, &remoteRunner{client: client, token: sess.AccessToken, runID: view.ID}, view)
	if err != nil {
		return err
	}
	if res == nil {
		printWarn("Run abandoned; it expires on the server once idle.")
		return nil
	}
	renderResult(*res, "Run complete")

	rec := game.Record{
		ID:          view.ID,
		UserID:      sess.UserID,
		Username:    game.UsernameFromEmail(sess.Email),
		ScenarioID:  res.ScenarioID,
		Seed:        res.Seed,
		RoomID:      roomID,
		NetWorth:    res.NetWorth,
		Digest:      res.Digest,
		Verified:    true,
		CompletedAt: time.Now().UTC(),
	}
	if err := store.SaveRecord(ctx, rec); err != nil && !errors.Is(err, game.ErrDuplicateIdempotency) {
		printWarn(fmt.Sprintf("Could not save run to local history: %v", err))
	}
	return nil
}

func newVerifyCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [submission.json]",
		Short: "Replay a submission file, or every queued run, and check its digest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			var subs []game.Submission
			if len(args) > 0 {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				sub, err := decodeInto[game.Submission](raw)
				if err != nil {
					return fmt.Errorf("decode submission: %w", err)
				}
				subs = append(subs, sub)
			} else {
				queue, err := syncq.Load(cfg.Home)
				if err != nil {
					return err
				}
				for _, e := range queue {
					subs = append(subs, e.Submission)
				}
			}
			if len(subs) == 0 {
				printInfo("Nothing to verify.")
				return nil
			}
			failed := 0
			for _, sub := range subs {
				label := fmt.Sprintf("%s seed %d (%d orders)", sub.ScenarioID, sub.Seed, len(sub.Orders))
				sc, err := catalog.Get(sub.ScenarioID)
				if err != nil {
					failed++
					printError(fmt.Sprintf("FAIL %s: %v", label, err))
					continue
				}
				res, err := game.Verify(sc, sub)
				if err != nil {
					failed++
					printError(fmt.Sprintf("FAIL %s: %v", label, err))
					continue
				}
				printSuccess(fmt.Sprintf("OK   %s net worth %s", label, formatMoney(res.NetWorth)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d submissions failed verification", failed, len(subs))
			}
			return nil
		},
	}
}

func newSyncCmd(cfg *config.CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload runs played offline for verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(cfg)
			if err != nil {
				return err
			}
			store, err := openLocal(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			sent, remaining, err := flushQueue(ctx, newClient(cfg), sess.AccessToken, cfg.Home, store)
			if err != nil {
				return err
			}
			if sent == 0 && remaining == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			printSuccess(fmt.Sprintf("Sync complete: uploaded=%d remaining=%d", sent, remaining))
			return nil
		},
	}
}

// flushQueue submits every queued run. Accepted runs and runs the server
// already holds are dropped and marked verified locally; runs that fail
// replay are dropped; anything else stays queued for the next sync.
func flushQueue(ctx context.Context, client *cl.Client, token, home string, store *localdb.Store) (int, int, error) {
	queue, err := syncq.Load(home)
	if err != nil {
		return 0, 0, err
	}
	remaining := make([]syncq.Entry, 0, len(queue))
	sent := 0
	for _, e := range queue {
		id := e.Submission.ClientRunID
		_, err := client.Submit(ctx, token, e.Submission)
		switch {
		case err == nil, cl.IsStatus(err, http.StatusConflict):
			if err := store.MarkVerified(ctx, id); err != nil && !errors.Is(err, game.ErrRunNotFound) {
				printWarn(fmt.Sprintf("Could not mark run %s verified: %v", truncate(id, 8), err))
			}
			sent++
		case cl.IsStatus(err, http.StatusUnprocessableEntity):
			printError(fmt.Sprintf("Run %s rejected by the server: %v", truncate(id, 8), err))
		default:
			e.Attempts++
			e.LastError = err.Error()
			remaining = append(remaining, e)
			printError(fmt.Sprintf("Sync failed for run %s: %v", truncate(id, 8), err))
		}
	}
	if err := syncq.Save(home, remaining); err != nil {
		return sent, len(remaining), err
	}
	return sent, len(remaining), nil
}

func newRoomsCmd(cfg *config.CLIConfig) *cobra.Command {
	rooms := &cobra.Command{
		Use:     "rooms",
		Short:   "Shared-seed rooms",
		Aliases: []string{"room"},
	}
	rooms.AddCommand(&cobra.Command{
		Use:   "create <scenario>",
		Short: "Create a room for a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			joined, err := newClient(cfg).CreateRoom(ctx, sess.AccessToken, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			renderRoom(joined.Room)
			printSuccess(fmt.Sprintf("Room created. Others join with `rt rooms join %s`.", joined.Room.ID))
			return nil
		},
	})
	rooms.AddCommand(&cobra.Command{
		Use:   "join <room_id>",
		Short: "Join a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			joined, err := newClient(cfg).JoinRoom(ctx, sess.AccessToken, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			renderRoom(joined.Room)
			printSuccess(fmt.Sprintf("Joined. Play with `rt play --room %s`.", joined.Room.ID))
			return nil
		},
	})
	rooms.AddCommand(&cobra.Command{
		Use:   "show <room_id>",
		Short: "Show a room and its members' progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rm, err := newClient(cfg).Room(ctx, sess.AccessToken, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			renderRoom(rm)
			return nil
		},
	})
	rooms.AddCommand(&cobra.Command{
		Use:   "watch <room_id>",
		Short: "Follow a room's live feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession(cfg)
			if err != nil {
				return err
			}
			roomID := strings.TrimSpace(args[0])
			client := newClient(cfg)
			joinCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			joined, err := client.JoinRoom(joinCtx, sess.AccessToken, roomID)
			cancel()
			if err != nil {
				return err
			}
			printInfo("Watching room feed. Ctrl+C to stop.")
			return client.WatchRoom(cmd.Context(), roomID, joined.Grant, renderRoomMessage)
		},
	})
	return rooms
}

func newLeaderboardCmd(cfg *config.CLIConfig) *cobra.Command {
	var (
		limit int
		local bool
	)
	cmd := &cobra.Command{
		Use:   "leaderboard [daily|alltime|worst]",
		Short: "Show a leaderboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board := game.BoardAllTime
			if len(args) > 0 {
				b, err := game.ParseBoard(args[0])
				if err != nil {
					return err
				}
				board = b
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if local {
				store, err := openLocal(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				rows, err := store.Leaderboard(ctx, board, board.Since(time.Now()), limit)
				if err != nil {
					return err
				}
				renderLeaderboard(rows, fmt.Sprintf("Local %s leaderboard", board))
				return nil
			}
			sess, err := requireSession(cfg)
			if err != nil {
				return err
			}
			rows, err := newClient(cfg).Leaderboard(ctx, sess.AccessToken, board, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(rows, fmt.Sprintf("%s leaderboard", board))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	cmd.Flags().BoolVar(&local, "local", false, "rank runs played on this machine")
	return cmd
}

func newHistoryCmd(cfg *config.CLIConfig) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs played on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLocal(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			recs, err := store.Records(ctx, limit)
			if err != nil {
				return err
			}
			renderHistory(recs)
			queue, err := syncq.Load(cfg.Home)
			if err != nil {
				return err
			}
			if len(queue) > 0 {
				printWarn(fmt.Sprintf("%d run(s) waiting for `rt sync`.", len(queue)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "runs to show")
	return cmd
}
