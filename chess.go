// Ouija Chess
//
// Any number of anonymous players share one board. Each round lasts a fixed
// time; every player may vote for one legal move, and when the round ends
// the move with the most votes is played. An empty round plays a random
// legal move. Ties go to the move whose UCI notation sorts first.
//
// Features:
// - Games created via POST /start_game or GET /game, with random 8-char IDs
// - Live state per game as Server-Sent Events (/game/:gameid/state) or a
//   WebSocket (/game/:gameid/ws)
// - Votes via POST /game/:gameid/move, or in-band on the WebSocket
// - Players identified by the player_id they send, falling back to a cookie
// - Each viewer is shown the board from a randomly chosen side
// - In-browser QR code to share the current game, backed by go-qrcode

package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/ouija/session"
)

const (
	keepAliveInterval = 15 * time.Second
	maxVoteSize       = 4096
	writeWait         = 10 * time.Second
)

// Messages coming from WebSocket clients
type ClientMessage struct {
	Type     string `json:"type"`                // "vote"
	PlayerID string `json:"player_id,omitempty"` // vote
	Move     string `json:"move,omitempty"`      // vote
}

// StateMessage carries a session update over the WebSocket.
type StateMessage struct {
	Type string `json:"type"` // "state"
	session.Update
}

// VoteResultMessage answers a single client's vote.
type VoteResultMessage struct {
	Type  string `json:"type"` // "vote_result"
	OK    bool   `json:"ok"`
	Move  string `json:"move"`
	Error string `json:"error,omitempty"`
}

type voteRequest struct {
	PlayerID string `json:"player_id"`
	Move     string `json:"move"`
	Mov      string `json:"mov"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	dead     chan struct{}
	playerID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "ouija_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func lookupGame(registry *session.Registry, w http.ResponseWriter, ps httprouter.Params) (*session.Session, bool) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return nil, false
	}

	s, err := registry.Get(gameID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}

	return s, true
}

// serveState streams session updates as Server-Sent Events.
func serveState(cfg *Config, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, ok := lookupGame(registry, w, ps)
		if !ok {
			return
		}

		ctx := r.Context()

		sub, err := s.Subscribe(ctx)
		if err != nil {
			return
		}

		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		logf(cfg, "SERVE: State stream for %s to %s as %s", s.ID(), realIP(r), sub.Team)

		for {
			waitCtx, cancel := context.WithTimeout(ctx, keepAliveInterval)
			update, err := sub.Next(waitCtx)
			cancel()

			switch {
			case err == nil:
				data, err := json.Marshal(update)
				if err != nil {
					return
				}
				if _, err := io.WriteString(w, "data: "+string(data)+"\n\n"); err != nil {
					return
				}
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return
				}
			default:
				logf(cfg, "SERVE: State stream for %s to %s closed", s.ID(), realIP(r))
				return
			}

			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// serveVote accepts a single vote as JSON: {"player_id": "...", "move": "e2e4"}.
func serveVote(cfg *Config, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, ok := lookupGame(registry, w, ps)
		if !ok {
			return
		}

		var req voteRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVoteSize)).Decode(&req); err != nil {
			http.Error(w, "invalid vote: "+err.Error(), http.StatusBadRequest)
			return
		}

		if req.Move == "" {
			req.Move = req.Mov
		}
		if req.PlayerID == "" {
			req.PlayerID = getOrSetPlayerID(w, r)
		}
		if req.Move == "" {
			http.Error(w, "invalid vote: missing move", http.StatusBadRequest)
			return
		}

		if err := s.Vote(r.Context(), req.PlayerID, req.Move); err != nil {
			logf(cfg, "GAMES: Rejected vote %q from %q in %s: %v", req.Move, req.PlayerID, s.ID(), err)
			http.Error(w, err.Error(), voteStatus(err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// serveWS streams session updates over a WebSocket and accepts votes sent
// back on the same connection.
func serveWS(cfg *Config, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, ok := lookupGame(registry, w, ps)
		if !ok {
			return
		}

		playerID := getOrSetPlayerID(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: WebSocket upgrade for %s: %v", s.ID(), err)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sub, err := s.Subscribe(ctx)
		if err != nil {
			_ = conn.Close()
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			dead:     make(chan struct{}),
			playerID: playerID,
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.pushUpdates(ctx, sub)
		}()
		go client.writePump()

		client.readPump(ctx, s)

		cancel()
		wg.Wait()
		close(client.send)
	}
}

func (c *Client) deliver(ctx context.Context, msg any) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.dead:
	case <-ctx.Done():
	}
	return false
}

func (c *Client) pushUpdates(ctx context.Context, sub *session.Subscription) {
	for {
		update, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if !c.deliver(ctx, StateMessage{Type: "state", Update: update}) {
			return
		}
	}
}

func (c *Client) readPump(ctx context.Context, s *session.Session) {
	defer func() {
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxVoteSize)

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "vote":
			playerID := msg.PlayerID
			if playerID == "" {
				playerID = c.playerID
			}

			result := VoteResultMessage{Type: "vote_result", OK: true, Move: msg.Move}
			if err := s.Vote(ctx, playerID, msg.Move); err != nil {
				result.OK = false
				result.Error = err.Error()
			}

			if !c.deliver(ctx, result) {
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer close(c.dead)
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qrcode.png; strip the suffix to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qrcode.png")
	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed chess/index.html
var indexHTML []byte

func getIndexHandler(cfg *Config, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, err := registry.Get(ps.ByName("gameid")); err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, newPage("Game Not Found", "No such game. Click to start a new one."))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)
		_ = getOrSetPlayerID(w, r)
		_, _ = w.Write(indexHTML)
	}
}

// startGame creates a new game and redirects to its page. Form posts get a
// 303 so the browser follows with a GET.
func startGame(cfg *Config, path string, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s, err := registry.CreateRandom()
		if err != nil {
			logf(cfg, "ERROR: Creating game: %v", err)
			http.Error(w, "unable to create game", http.StatusInternalServerError)
			return
		}

		logf(cfg, "GAMES: Created game %s/%s for %s", path, s.ID(), realIP(r))

		code := http.StatusTemporaryRedirect
		if r.Method == http.MethodPost {
			code = http.StatusSeeOther
		}
		http.Redirect(w, r, cfg.prefix+path+"/"+s.ID(), code)
	}
}

// registerChessGame sets up routes so that:
//   - POST /start_game          → new game, redirect to it
//   - $path                     → new game, redirect to it
//   - $path/:gameid             → HTML client
//   - $path/:gameid/state       → Server-Sent Events stream
//   - $path/:gameid/ws          → WebSocket for that game
//   - $path/:gameid/move        → vote
//   - $path/:gameid/qrcode.png  → PNG QR code for that game URL
func registerChessGame(cfg *Config, path string, registry *session.Registry, mux *httprouter.Router) {
	mux.POST(cfg.prefix+"/start_game", startGame(cfg, path, registry))
	mux.GET(cfg.prefix+path, startGame(cfg, path, registry))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg, registry))

	mux.GET(cfg.prefix+path+"/:gameid/state", serveState(cfg, registry))
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWS(cfg, registry))
	mux.POST(cfg.prefix+path+"/:gameid/move", serveVote(cfg, registry))

	mux.GET(cfg.prefix+path+"/:gameid/qrcode.png", qrHandler)
}
