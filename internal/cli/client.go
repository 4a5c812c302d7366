package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rippletrade/internal/auth"
	"rippletrade/internal/game"
	"rippletrade/internal/room"
	"rippletrade/internal/scenario"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Scenarios(ctx context.Context) ([]scenario.Summary, error) {
	var out struct {
		Scenarios []scenario.Summary `json:"scenarios"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/scenarios", "", nil, &out, "")
	return out.Scenarios, err
}

// StartRun starts a server-side run. A nil seed lets the server pick one;
// a non-empty roomID plays the room's scenario and seed.
func (c *Client) StartRun(ctx context.Context, accessToken, scenarioID string, seed *uint64, roomID string) (game.RunView, error) {
	body := map[string]any{"scenario_id": scenarioID}
	if seed != nil {
		body["seed"] = strconv.FormatUint(*seed, 10)
	}
	if roomID != "" {
		body["room_id"] = roomID
	}
	var out game.RunView
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/runs", accessToken, body, &out, "")
	return out, err
}

func (c *Client) Run(ctx context.Context, accessToken, runID string) (game.RunView, error) {
	var out game.RunView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Advance(ctx context.Context, accessToken, runID string) (game.RunView, error) {
	var out game.RunView
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/advance", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, accessToken, runID, symbol, side string, qty decimal.Decimal, idem string) (game.Fill, error) {
	var out game.Fill
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/orders", accessToken, map[string]any{
		"symbol":   symbol,
		"side":     side,
		"quantity": qty.String(),
	}, &out, idem)
	return out, err
}

func (c *Client) Finish(ctx context.Context, accessToken, runID string) (game.Result, error) {
	var out game.Result
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/finish", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Submit(ctx context.Context, accessToken string, sub game.Submission) (game.Result, error) {
	var out game.Result
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/submissions", accessToken, sub, &out, sub.ClientRunID)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, accessToken string, board game.Board, limit int) ([]game.LeaderboardRow, error) {
	var out struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	path := "/v1/leaderboard/" + url.PathEscape(string(board))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Rows, err
}

func (c *Client) CreateRoom(ctx context.Context, accessToken, scenarioID string) (room.Joined, error) {
	var out room.Joined
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms", accessToken, map[string]any{
		"scenario_id": scenarioID,
	}, &out, "")
	return out, err
}

func (c *Client) Room(ctx context.Context, accessToken, roomID string) (room.Room, error) {
	var out room.Room
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) JoinRoom(ctx context.Context, accessToken, roomID string) (room.Joined, error) {
	var out room.Joined
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/join", accessToken, nil, &out, "")
	return out, err
}

// WatchRoom streams room messages to fn until ctx is done or the server
// closes the feed.
func (c *Client) WatchRoom(ctx context.Context, roomID, grant string, fn func(room.Message)) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/rooms/" + url.PathEscape(roomID) + "/ws"
	u.RawQuery = url.Values{"grant": {grant}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: "room feed refused"}
		}
		return fmt.Errorf("dial room feed: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var msg room.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fn(msg)
		if msg.Type == room.MessageClosed {
			return nil
		}
	}
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
