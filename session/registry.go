/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"
)

const idLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Registry maps game ids to sessions. The lock only guards the map; each
// session serializes its own mutations.
type Registry struct {
	ctx    context.Context
	cfg    Config
	engine Engine

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. Sessions it creates run until ctx
// is cancelled or their game ends.
func NewRegistry(ctx context.Context, cfg Config, engine Engine) *Registry {
	return &Registry{
		ctx:      ctx,
		cfg:      cfg.withDefaults(),
		engine:   engine,
		sessions: make(map[string]*Session),
	}
}

// Create inserts a waiting session under id and starts its round loop.
func (r *Registry) Create(id string) (*Session, error) {
	s, err := newSession(id, r.cfg, r.engine)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()

		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, id)
	}
	r.sessions[id] = s
	r.mu.Unlock()

	go s.run(r.ctx)

	r.cfg.Logf("GAMES: Created %s, waiting for %d players", id, r.cfg.MinPlayers)

	return s, nil
}

// CreateRandom creates a session under a fresh random 8-character id.
func (r *Registry) CreateRandom() (*Session, error) {
	for {
		id, err := newID(8)
		if err != nil {
			return nil, err
		}

		s, err := r.Create(id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
	}
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}

	return s, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// Reap drops finished sessions whose game ended before cutoff. Games still
// waiting or in progress are never removed.
func (r *Registry) Reap(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, s := range r.sessions {
		st := s.State()
		if st.Status.Terminal() && st.FinishedAt.Before(cutoff) {
			delete(r.sessions, id)
			reaped++
		}
	}

	return reaped
}

// ReapLoop calls Reap every timeout/2 until ctx is done.
func (r *Registry) ReapLoop(ctx context.Context, timeout time.Duration) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Reap(now.Add(-timeout)); n > 0 {
				r.cfg.Logf("GAMES: Reaped %d finished games, %d remain", n, r.Len())
			}
		}
	}
}

func newID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating game id: %w", err)
	}

	out := make([]byte, n)
	for i := range out {
		out[i] = idLetters[int(buf[i])%len(idLetters)]
	}

	return string(out), nil
}
