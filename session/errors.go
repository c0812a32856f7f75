/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyExists       = errors.New("session already exists")
	ErrIllegalMove         = errors.New("illegal move")
	ErrDuplicateVote       = errors.New("player has already voted this round")
	ErrInsufficientPlayers = errors.New("not enough players")
	ErrGameOver            = errors.New("game is over")
	ErrSessionClosed       = errors.New("session closed")
)
