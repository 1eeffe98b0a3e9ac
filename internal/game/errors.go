package game

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNameTaken      = errors.New("name already taken")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyStarted = errors.New("game already started")
	ErrAlreadyInRoom  = errors.New("already in a room")
	ErrNotInRoom      = errors.New("not in this room")
	ErrNotHost        = errors.New("host only")
	ErrWrongPhase     = errors.New("not allowed in this phase")
	ErrNotEnough      = errors.New("need at least 3 players")
	ErrNotReady       = errors.New("not enough ready players")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrAlreadyVoted   = errors.New("vote already cast")
	ErrInvalidTarget  = errors.New("invalid target")
	ErrVotingOnly     = errors.New("voting-only")
	ErrRateLimited    = errors.New("rate limited")
	ErrGhostExpired   = errors.New("rejoin window expired")
	ErrNoGhost        = errors.New("no seat to rejoin")
)
