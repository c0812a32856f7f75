/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session runs collaborative chess games. Every game is a Session
// whose state is owned by a single goroutine; votes and subscriptions reach
// it through a command channel, and a round timer resolves the most popular
// move once per round.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Seednode/ouija/board"
)

const (
	DefaultRoundDuration = 10 * time.Second
	DefaultMinPlayers    = 1
)

// Engine supplies the rules of chess. Implementations hold no state of their
// own; board.Rules is the production implementation.
type Engine interface {
	Legal(p board.Position, move string) (board.Move, bool)
	Apply(p board.Position, m board.Move) (board.Position, error)
	LegalMoves(p board.Position) []board.Move
	Terminal(p board.Position) (board.Termination, board.Color)
	Serialize(p board.Position) string
}

type Config struct {
	RoundDuration time.Duration
	// Subscribers needed before the first round starts.
	MinPlayers int
	// Starting position; the standard one when empty.
	StartFEN string
	Logf     func(format string, args ...any)
	// Picks a random index in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
}

func (c Config) withDefaults() Config {
	if c.RoundDuration <= 0 {
		c.RoundDuration = DefaultRoundDuration
	}
	if c.MinPlayers < 1 {
		c.MinPlayers = DefaultMinPlayers
	}
	if c.Logf == nil {
		c.Logf = func(string, ...any) {}
	}
	if c.Intn == nil {
		c.Intn = rand.Intn
	}
	return c
}

type command interface {
	apply(s *Session)
}

type voteCmd struct {
	player string
	move   string
	reply  chan error
}

func (c voteCmd) apply(s *Session) {
	c.reply <- s.acceptVote(c.player, c.move)
}

type joinCmd struct {
	reply chan struct{}
}

func (c joinCmd) apply(s *Session) {
	s.join(time.Now())
	close(c.reply)
}

// Session is one game. Its fields below the channel block are touched only
// by the goroutine running run, or by tests before it starts.
type Session struct {
	id     string
	cfg    Config
	engine Engine
	state  *Broadcaster[State]

	cmds chan command
	done chan struct{}

	position      board.Position
	status        Status
	players       int
	round         int
	tally         *Tally
	roundStart    time.Time
	roundDeadline time.Time
	finishedAt    time.Time
}

func newSession(id string, cfg Config, engine Engine) (*Session, error) {
	cfg = cfg.withDefaults()

	position := board.StartingPosition()
	if cfg.StartFEN != "" {
		p, err := board.ParseFEN(cfg.StartFEN)
		if err != nil {
			return nil, err
		}
		position = p
	}
	if term, _ := engine.Terminal(position); term != board.Ongoing {
		return nil, fmt.Errorf("starting position is already decided: %s", term)
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		engine:   engine,
		cmds:     make(chan command),
		done:     make(chan struct{}),
		position: position,
		status:   Waiting,
		tally:    NewTally(),
	}
	s.state = NewBroadcaster(s.snapshot())

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// State returns the most recently published state.
func (s *Session) State() State {
	st, _ := s.state.Load()
	return st
}

// Done is closed once the session stops accepting commands.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Vote casts player's vote for move in the current round.
func (s *Session) Vote(ctx context.Context, player, move string) error {
	reply := make(chan error, 1)

	select {
	case s.cmds <- voteCmd{player: player, move: move, reply: reply}:
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscription streams session updates to one observer.
type Subscription struct {
	Team Team
	recv *Receiver[State]
}

// Next returns the current state on the first call and blocks for a newer
// one afterwards. Intermediate states may be skipped.
func (sub *Subscription) Next(ctx context.Context) (Update, error) {
	st, err := sub.recv.Next(ctx)
	if err != nil {
		return Update{}, err
	}
	return st.For(sub.Team), nil
}

// Subscribe registers a new observer. Each one counts toward the players
// needed to start the game. Finished games can still be observed.
func (s *Session) Subscribe(ctx context.Context) (*Subscription, error) {
	reply := make(chan struct{})

	select {
	case s.cmds <- joinCmd{reply: reply}:
		select {
		case <-reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &Subscription{
		Team: randomTeam(),
		recv: s.state.Subscribe(),
	}, nil
}

func (s *Session) closedErr() error {
	if s.State().Status.Terminal() {
		return ErrGameOver
	}
	return ErrSessionClosed
}

// run owns the session until the game ends or ctx is cancelled.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if s.status == Ongoing {
			if timer == nil {
				timer = time.NewTimer(time.Until(s.roundDeadline))
			}
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd.apply(s)
		case now := <-tick:
			timer = nil
			s.resolveRound(now)
			if s.status.Terminal() {
				return
			}
		}
	}
}

func (s *Session) acceptVote(player, move string) error {
	if s.status.Terminal() {
		return ErrGameOver
	}

	m, ok := s.engine.Legal(s.position, move)
	if !ok {
		return fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}

	if err := s.tally.Add(player, m); err != nil {
		return err
	}

	s.cfg.Logf("GAMES: Player %q voted %s in %s (%d votes this round)", player, m, s.id, s.tally.Total())
	s.publish()

	return nil
}

func (s *Session) join(now time.Time) {
	if s.status.Terminal() {
		return
	}

	s.players++

	if err := s.start(now); err != nil {
		s.cfg.Logf("GAMES: %d/%d players connected to %s", s.players, s.cfg.MinPlayers, s.id)
	}

	s.publish()
}

// start moves a waiting game into its first round once enough players joined.
func (s *Session) start(now time.Time) error {
	if s.status != Waiting {
		return nil
	}
	if s.players < s.cfg.MinPlayers {
		return ErrInsufficientPlayers
	}

	s.status = Ongoing
	s.beginRound(now)

	s.cfg.Logf("GAMES: Started %s with %d players", s.id, s.players)

	return nil
}

func (s *Session) beginRound(start time.Time) {
	s.round++
	s.roundStart = start
	s.roundDeadline = start.Add(s.cfg.RoundDuration)
}

// resolveRound plays the winning move of the round that just ended.
func (s *Session) resolveRound(now time.Time) {
	if s.status != Ongoing {
		return
	}

	m, ok := s.tally.Winner()
	if ok {
		s.cfg.Logf("GAMES: Round %d of %s chose %s with %d of %d votes", s.round, s.id, m, s.tally.Count(m), s.tally.Total())
	} else {
		moves := s.engine.LegalMoves(s.position)
		if len(moves) == 0 {
			panic(fmt.Sprintf("session %s: no legal moves in non-terminal position %s", s.id, s.engine.Serialize(s.position)))
		}
		m = moves[s.cfg.Intn(len(moves))]
		s.cfg.Logf("GAMES: Round %d of %s had no votes, picked %s at random", s.round, s.id, m)
	}

	next, err := s.engine.Apply(s.position, m)
	if err != nil {
		panic(fmt.Sprintf("session %s: %v", s.id, err))
	}

	s.position = next
	s.tally.Reset()

	if status, over := s.outcome(); over {
		s.status = status
		s.roundStart = time.Time{}
		s.roundDeadline = time.Time{}
		s.finishedAt = now

		s.cfg.Logf("GAMES: %s ended after %d rounds: %s", s.id, s.round, status)
	} else {
		// Chain rounds off the previous deadline so late wakeups do not
		// accumulate, unless we have fallen a whole round behind.
		start := s.roundDeadline
		if now.Sub(start) >= s.cfg.RoundDuration {
			start = now
		}
		s.beginRound(start)
	}

	s.publish()
}

func (s *Session) outcome() (Status, bool) {
	term, side := s.engine.Terminal(s.position)

	switch term {
	case board.Checkmate:
		if side == board.White {
			return BlackWon, true
		}
		return WhiteWon, true
	case board.Stalemate, board.InsufficientMaterial:
		return Draw, true
	}

	return Ongoing, false
}

func (s *Session) snapshot() State {
	return State{
		FEN:           s.engine.Serialize(s.position),
		Status:        s.status,
		Votes:         s.tally.Total(),
		Players:       s.players,
		Round:         s.round,
		RoundStart:    s.roundStart,
		RoundDeadline: s.roundDeadline,
		FinishedAt:    s.finishedAt,
	}
}

func (s *Session) publish() {
	s.state.Publish(s.snapshot())
}
