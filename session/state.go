/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"fmt"
	"math/rand"
	"time"
)

type Status int

const (
	Waiting Status = iota
	Ongoing
	WhiteWon
	BlackWon
	Draw
)

var statusNames = [...]string{
	Waiting:  "waiting",
	Ongoing:  "ongoing",
	WhiteWon: "white_win",
	BlackWon: "black_win",
	Draw:     "draw",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal is true once the game has been decided.
func (s Status) Terminal() bool {
	return s == WhiteWon || s == BlackWon || s == Draw
}

// Team is the side a subscriber's board is drawn from. It has no effect on
// who may vote.
type Team int

const (
	White Team = iota
	Black
)

func (t Team) String() string {
	if t == Black {
		return "black"
	}
	return "white"
}

func (t Team) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func randomTeam() Team {
	return Team(rand.Intn(2))
}

// State is the authoritative view of a session, published after every change.
type State struct {
	FEN     string
	Status  Status
	Votes   int
	Players int
	Round   int

	// Zero outside of an ongoing game.
	RoundStart    time.Time
	RoundDeadline time.Time

	// Set when the game reaches a terminal status.
	FinishedAt time.Time
}

// Update is the record sent to a single subscriber.
type Update struct {
	FEN       string     `json:"fen"`
	Votes     int        `json:"votes"`
	Team      Team       `json:"team"`
	StartTime *time.Time `json:"start_time"`
	Deadline  *time.Time `json:"deadline"`
	Status    Status     `json:"status"`
	Players   int        `json:"players"`
	Round     int        `json:"round"`
}

func (s State) For(team Team) Update {
	return Update{
		FEN:       s.FEN,
		Votes:     s.Votes,
		Team:      team,
		StartTime: timePtr(s.RoundStart),
		Deadline:  timePtr(s.RoundDeadline),
		Status:    s.Status,
		Players:   s.Players,
		Round:     s.Round,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.Round(0)
	return &t
}
