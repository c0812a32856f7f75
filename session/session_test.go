package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/ouija/board"
)

const (
	// Black to play Qh4#.
	foolsMateFEN = "rnbqkbnr/pppp1ppp/8/4p3/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq - 0 2"
	// White to play Qb6, stalemating the black king.
	stalemateFEN = "k7/8/2K5/8/8/8/8/1Q6 w - - 0 1"
	afterE4FEN   = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
)

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()

	s, err := newSession("test", cfg, board.Rules{})
	require.NoError(t, err)

	return s
}

// started returns a session already in its first round, begun at t0.
func started(t *testing.T, cfg Config, t0 time.Time) *Session {
	t.Helper()

	s := newTestSession(t, cfg)
	s.join(t0)
	require.Equal(t, Ongoing, s.status)

	return s
}

func TestAcceptVote(t *testing.T) {
	t.Run("legal move is counted", func(t *testing.T) {
		s := newTestSession(t, Config{})
		require.NoError(t, s.acceptVote("alice", "e2e4"))

		assert.Equal(t, 1, s.tally.Count("e2e4"))
		assert.Equal(t, 1, s.State().Votes)
	})

	t.Run("san and uci count as the same move", func(t *testing.T) {
		s := newTestSession(t, Config{})
		require.NoError(t, s.acceptVote("alice", "e2e4"))
		require.NoError(t, s.acceptVote("bob", "e4"))

		assert.Equal(t, 2, s.tally.Count("e2e4"))
	})

	t.Run("illegal move leaves the tally alone", func(t *testing.T) {
		s := newTestSession(t, Config{})
		require.NoError(t, s.acceptVote("alice", "e2e4"))

		err := s.acceptVote("bob", "e2e5")
		assert.ErrorIs(t, err, ErrIllegalMove)
		assert.Equal(t, 1, s.tally.Total())
		assert.False(t, s.tally.HasVoted("bob"))

		// bob can still vote for something legal.
		assert.NoError(t, s.acceptVote("bob", "d2d4"))
	})

	t.Run("second vote in a round is rejected", func(t *testing.T) {
		s := newTestSession(t, Config{})
		require.NoError(t, s.acceptVote("alice", "e2e4"))

		err := s.acceptVote("alice", "d2d4")
		assert.ErrorIs(t, err, ErrDuplicateVote)
		assert.Equal(t, 1, s.tally.Count("e2e4"))
		assert.Equal(t, 0, s.tally.Count("d2d4"))
		assert.Equal(t, 1, s.tally.Total())
	})

	t.Run("votes never move the board", func(t *testing.T) {
		s := newTestSession(t, Config{})
		before := s.position.String()
		require.NoError(t, s.acceptVote("alice", "e2e4"))

		assert.Equal(t, before, s.position.String())
	})
}

func TestStartWaitsForPlayers(t *testing.T) {
	d := time.Second
	s := newTestSession(t, Config{RoundDuration: d, MinPlayers: 2})
	t0 := time.Now()

	s.join(t0)
	st := s.State()
	assert.Equal(t, Waiting, st.Status)
	assert.Equal(t, 1, st.Players)
	assert.True(t, st.RoundStart.IsZero())
	assert.True(t, st.RoundDeadline.IsZero())
	assert.ErrorIs(t, s.start(t0), ErrInsufficientPlayers)

	s.join(t0)
	st = s.State()
	assert.Equal(t, Ongoing, st.Status)
	assert.Equal(t, 2, st.Players)
	assert.Equal(t, 1, st.Round)
	assert.Equal(t, t0, st.RoundStart)
	assert.Equal(t, t0.Add(d), st.RoundDeadline)
}

func TestResolveRound(t *testing.T) {
	d := time.Second
	rules := board.Rules{}

	t.Run("majority move is played", func(t *testing.T) {
		s := started(t, Config{RoundDuration: d}, time.Now())
		require.NoError(t, s.acceptVote("a", "d2d4"))
		require.NoError(t, s.acceptVote("b", "d2d4"))
		require.NoError(t, s.acceptVote("c", "e2e4"))

		s.resolveRound(s.roundDeadline)

		want, err := rules.Apply(board.StartingPosition(), "d2d4")
		require.NoError(t, err)
		assert.Equal(t, want.String(), s.State().FEN)
	})

	t.Run("exact tie picks the first move in notation order", func(t *testing.T) {
		s := started(t, Config{RoundDuration: d}, time.Now())
		require.NoError(t, s.acceptVote("a", "g1f3"))
		require.NoError(t, s.acceptVote("b", "e2e4"))
		require.NoError(t, s.acceptVote("c", "b1c3"))

		s.resolveRound(s.roundDeadline)

		want, err := rules.Apply(board.StartingPosition(), "b1c3")
		require.NoError(t, err)
		assert.Equal(t, want.String(), s.State().FEN)
	})

	t.Run("empty round plays a random legal move", func(t *testing.T) {
		var n int
		s := started(t, Config{RoundDuration: d, Intn: func(k int) int {
			n = k
			return k - 1
		}}, time.Now())

		s.resolveRound(s.roundDeadline)

		legal := rules.LegalMoves(board.StartingPosition())
		assert.Equal(t, len(legal), n)

		want, err := rules.Apply(board.StartingPosition(), legal[len(legal)-1])
		require.NoError(t, err)
		assert.Equal(t, want.String(), s.State().FEN)
	})

	t.Run("next round starts at the previous deadline", func(t *testing.T) {
		t0 := time.Now()
		s := started(t, Config{RoundDuration: d}, t0)
		require.NoError(t, s.acceptVote("a", "e2e4"))

		s.resolveRound(t0.Add(d + 5*time.Millisecond))

		st := s.State()
		assert.Equal(t, afterE4FEN, st.FEN)
		assert.Equal(t, Ongoing, st.Status)
		assert.Equal(t, 2, st.Round)
		assert.Equal(t, t0.Add(d), st.RoundStart)
		assert.Equal(t, t0.Add(2*d), st.RoundDeadline)
		assert.Equal(t, 0, st.Votes)
		assert.False(t, s.tally.HasVoted("a"))
	})

	t.Run("a round resolved very late restarts the clock", func(t *testing.T) {
		t0 := time.Now()
		s := started(t, Config{RoundDuration: d}, t0)

		late := t0.Add(3 * d)
		s.resolveRound(late)

		st := s.State()
		assert.Equal(t, late, st.RoundStart)
		assert.Equal(t, late.Add(d), st.RoundDeadline)
	})

	t.Run("checkmate ends the game", func(t *testing.T) {
		s := started(t, Config{RoundDuration: d, StartFEN: foolsMateFEN}, time.Now())
		require.NoError(t, s.acceptVote("a", "d8h4"))

		now := s.roundDeadline
		s.resolveRound(now)

		st := s.State()
		assert.Equal(t, BlackWon, st.Status)
		assert.True(t, st.RoundStart.IsZero())
		assert.True(t, st.RoundDeadline.IsZero())
		assert.Equal(t, now, st.FinishedAt)

		mated := st.FEN
		assert.ErrorIs(t, s.acceptVote("b", "e1f2"), ErrGameOver)

		s.resolveRound(now.Add(d))
		s.join(now.Add(d))

		after := s.State()
		assert.Equal(t, mated, after.FEN)
		assert.Equal(t, BlackWon, after.Status)
		assert.Equal(t, st.Players, after.Players)
		assert.Equal(t, st.Round, after.Round)
	})

	t.Run("stalemate is a draw", func(t *testing.T) {
		s := started(t, Config{RoundDuration: d, StartFEN: stalemateFEN}, time.Now())
		require.NoError(t, s.acceptVote("a", "b1b6"))

		s.resolveRound(s.roundDeadline)

		assert.Equal(t, Draw, s.State().Status)
	})
}

func TestNewSessionRejectsFinishedPosition(t *testing.T) {
	_, err := newSession("x", Config{StartFEN: "k7/8/8/8/8/8/8/7K w - - 0 1"}, board.Rules{})
	assert.Error(t, err)

	_, err = newSession("x", Config{StartFEN: "nonsense"}, board.Rules{})
	assert.Error(t, err)
}

func TestUpdateJSON(t *testing.T) {
	s := newTestSession(t, Config{})

	raw, err := json.Marshal(s.State().For(Black))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, board.StartingPosition().String(), got["fen"])
	assert.Equal(t, "black", got["team"])
	assert.Equal(t, "waiting", got["status"])
	assert.EqualValues(t, 0, got["votes"])
	assert.Contains(t, got, "start_time")
	assert.Nil(t, got["start_time"])
	assert.Nil(t, got["deadline"])

	s.join(time.Now())
	raw, err = json.Marshal(s.State().For(White))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "ongoing", got["status"])
	assert.NotNil(t, got["start_time"])
	assert.NotNil(t, got["deadline"])
}

func TestSessionRounds(t *testing.T) {
	const d = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, Config{RoundDuration: d}, board.Rules{})
	s, err := reg.Create("game")
	require.NoError(t, err)

	require.NoError(t, s.Vote(ctx, "alice", "e2e4"))

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()

	first, err := sub.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, Ongoing, first.Status)
	assert.Equal(t, 1, first.Players)
	assert.Equal(t, 1, first.Votes)
	require.NotNil(t, first.StartTime)
	require.NotNil(t, first.Deadline)
	assert.Equal(t, d, first.Deadline.Sub(*first.StartTime))

	var next Update
	for next.Round < 2 {
		next, err = sub.Next(waitCtx)
		require.NoError(t, err)
	}

	assert.False(t, time.Now().Before(*first.Deadline))
	assert.Equal(t, afterE4FEN, next.FEN)
	assert.Equal(t, 0, next.Votes)
	require.NotNil(t, next.StartTime)
	require.NotNil(t, next.Deadline)
	assert.WithinDuration(t, *first.Deadline, *next.StartTime, d)
	assert.Equal(t, d, next.Deadline.Sub(*next.StartTime))

	// A new round means a fresh vote for alice, and a late observer sees
	// the game as it is now.
	assert.NoError(t, s.Vote(ctx, "alice", "e7e5"))

	late, err := s.Subscribe(ctx)
	require.NoError(t, err)
	snap, err := late.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Players)
	assert.GreaterOrEqual(t, snap.Round, 2)
	assert.NotEqual(t, board.StartingPosition().String(), snap.FEN)
}

func TestSessionRejectsBadVotes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, Config{RoundDuration: time.Hour}, board.Rules{})
	s, err := reg.Create("game")
	require.NoError(t, err)

	require.NoError(t, s.Vote(ctx, "alice", "e2e4"))
	assert.ErrorIs(t, s.Vote(ctx, "alice", "d2d4"), ErrDuplicateVote)
	assert.ErrorIs(t, s.Vote(ctx, "bob", "e2e5"), ErrIllegalMove)
	assert.ErrorIs(t, s.Vote(ctx, "bob", "xyzzy"), ErrIllegalMove)

	assert.Equal(t, 1, s.State().Votes)
	assert.Equal(t, board.StartingPosition().String(), s.State().FEN)
}

func TestSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(ctx, Config{RoundDuration: 20 * time.Millisecond, StartFEN: foolsMateFEN}, board.Rules{})
	s, err := reg.Create("game")
	require.NoError(t, err)

	require.NoError(t, s.Vote(ctx, "alice", "d8h4"))
	_, err = s.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("game did not finish")
	}

	assert.Equal(t, BlackWon, s.State().Status)
	assert.ErrorIs(t, s.Vote(ctx, "bob", "e1f2"), ErrGameOver)

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	u, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, BlackWon, u.Status)
	assert.Equal(t, 1, u.Players)
	assert.Nil(t, u.Deadline)

	// Finished games stay reachable.
	got, err := reg.Get("game")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestSessionClosedOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reg := NewRegistry(ctx, Config{}, board.Rules{})
	s, err := reg.Create("game")
	require.NoError(t, err)

	cancel()
	<-s.Done()

	assert.ErrorIs(t, s.Vote(context.Background(), "alice", "e2e4"), ErrSessionClosed)
}
