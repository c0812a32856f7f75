/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"fmt"

	"github.com/Seednode/ouija/board"
)

// Tally counts the votes of a single round.
type Tally struct {
	votes map[board.Move]int
	voted map[string]struct{}
	total int
}

func NewTally() *Tally {
	return &Tally{
		votes: make(map[board.Move]int),
		voted: make(map[string]struct{}),
	}
}

// Add records one vote from player. A player gets one vote per round.
func (t *Tally) Add(player string, m board.Move) error {
	if _, ok := t.voted[player]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateVote, player)
	}

	t.voted[player] = struct{}{}
	t.votes[m]++
	t.total++

	return nil
}

// Winner returns the move with the most votes. Ties go to the move whose UCI
// notation sorts first, so "d2d4" beats "e2e4" on equal counts.
func (t *Tally) Winner() (board.Move, bool) {
	var (
		best  board.Move
		count int
	)

	for m, n := range t.votes {
		if n > count || (n == count && m < best) {
			best, count = m, n
		}
	}

	return best, count > 0
}

func (t *Tally) Count(m board.Move) int {
	return t.votes[m]
}

func (t *Tally) HasVoted(player string) bool {
	_, ok := t.voted[player]
	return ok
}

// Total is the number of votes cast this round.
func (t *Tally) Total() int {
	return t.total
}

func (t *Tally) Reset() {
	clear(t.votes)
	clear(t.voted)
	t.total = 0
}
