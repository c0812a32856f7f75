/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package board adapts github.com/notnil/chess to the small set of rules the
// voting engine needs: move legality, move application, enumeration of legal
// moves, terminal detection and FEN serialization. Nothing here keeps state;
// every call works on the Position it is handed.
package board

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notnil/chess"
)

// Move is a move in UCI notation ("e2e4", "e7e8q").
type Move string

type Color int

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

type Termination int

const (
	Ongoing Termination = iota
	Checkmate
	Stalemate
	InsufficientMaterial
)

func (t Termination) String() string {
	switch t {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case InsufficientMaterial:
		return "insufficient material"
	default:
		return "ongoing"
	}
}

// Position is a board position. The zero value is the standard starting
// position. The underlying notnil position caches its move list on first
// use, so a Position must not be shared between goroutines.
type Position struct {
	pos *chess.Position
}

func StartingPosition() Position {
	return Position{pos: chess.NewGame().Position()}
}

// ParseFEN decodes a position from Forsyth-Edwards Notation.
func ParseFEN(fen string) (Position, error) {
	opt, err := chess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return Position{}, fmt.Errorf("invalid fen %q: %w", fen, err)
	}

	return Position{pos: chess.NewGame(opt).Position()}, nil
}

func (p Position) get() *chess.Position {
	if p.pos == nil {
		return chess.NewGame().Position()
	}
	return p.pos
}

func (p Position) String() string {
	return p.get().String()
}

// Rules implements the chess rules on top of notnil/chess.
type Rules struct{}

// Legal reports whether text names a legal move in p. Both UCI ("g1f3") and
// SAN ("Nf3") are accepted; the returned Move is always UCI.
func (Rules) Legal(p Position, text string) (Move, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	pos := p.get()
	uci := strings.ToLower(text)
	for _, m := range pos.ValidMoves() {
		if m.String() == uci {
			return Move(uci), true
		}
	}

	m, err := chess.AlgebraicNotation{}.Decode(pos, text)
	if err != nil {
		return "", false
	}

	return Move(m.String()), true
}

// Apply plays m on p and returns the resulting position.
func (Rules) Apply(p Position, m Move) (Position, error) {
	pos := p.get()
	for _, vm := range pos.ValidMoves() {
		if vm.String() == string(m) {
			return Position{pos: pos.Update(vm)}, nil
		}
	}

	return p, fmt.Errorf("move %q is not legal in %s", m, pos)
}

// LegalMoves lists every legal move in p, sorted by notation.
func (Rules) LegalMoves(p Position) []Move {
	valid := p.get().ValidMoves()

	moves := make([]Move, 0, len(valid))
	for _, m := range valid {
		moves = append(moves, Move(m.String()))
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i] < moves[j] })

	return moves
}

// Terminal reports whether the game is over in p, along with the side to move.
func (r Rules) Terminal(p Position) (Termination, Color) {
	pos := p.get()
	side := r.Turn(p)

	switch pos.Status() {
	case chess.Checkmate:
		return Checkmate, side
	case chess.Stalemate:
		return Stalemate, side
	}

	if deadPosition(pos.Board()) {
		return InsufficientMaterial, side
	}

	return Ongoing, side
}

func (Rules) Serialize(p Position) string {
	return p.String()
}

func (Rules) Turn(p Position) Color {
	if p.get().Turn() == chess.Black {
		return Black
	}
	return White
}

// deadPosition is true when neither side can ever deliver mate: bare kings,
// or kings plus a single knight or bishop.
func deadPosition(b *chess.Board) bool {
	minors := 0
	for _, piece := range b.SquareMap() {
		switch piece.Type() {
		case chess.King:
		case chess.Knight, chess.Bishop:
			minors++
		default:
			return false
		}
	}

	return minors <= 1
}
