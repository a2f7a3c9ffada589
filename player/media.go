// Package player : playback state for a single generation and the coordination between players
package player

import (
	"context"
	"fmt"
)

type EventKind int

const (
	EventLoadStart EventKind = iota
	EventWaiting
	EventCanPlay
	EventPlaying
	EventPaused
	EventEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventLoadStart:
		return "loadstart"
	case EventWaiting:
		return "waiting"
	case EventCanPlay:
		return "canplay"
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind EventKind
	Err  error
}

// Media is a native audio handle. Times are in seconds.
type Media interface {
	Load(ctx context.Context, url string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	Position() float64
	Duration() float64
	SetVolume(v float64)
	SetMuted(muted bool)
	SetRate(rate float64)
	Events() <-chan Event
	Close() error
}
