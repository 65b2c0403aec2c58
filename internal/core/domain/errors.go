package domain

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrStreamAlreadyLive    = errors.New("stream already live")
	ErrInvalidStreamKey     = errors.New("invalid stream key")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrPlaybackDenied       = errors.New("playback denied")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrStoreUnavailable     = errors.New("store unavailable")
)
