package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrOutOfSync    = errors.New("strategy state out of sync")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock held by another instance")
)
