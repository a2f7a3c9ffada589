package waveform

import (
	"math"
	"time"
)

// Animator accumulates frame deltas into a phase. It has no clock of its own,
// so the same sequence of deltas always produces the same pulse.
type Animator struct {
	Period  time.Duration
	elapsed time.Duration
	playing bool
}

func NewAnimator() *Animator {
	return &Animator{Period: 1200 * time.Millisecond}
}

// Advance adds dt while playing. Negative deltas are ignored.
func (a *Animator) Advance(dt time.Duration, playing bool) {
	a.playing = playing
	if !playing || dt <= 0 {
		return
	}
	a.elapsed += dt
	if a.Period > 0 {
		a.elapsed %= a.Period
	}
}

func (a *Animator) Phase() float64 {
	if a.Period <= 0 {
		return 0
	}
	return float64(a.elapsed) / float64(a.Period)
}

// Pulse is the glow intensity in [0, 1]; it is 0 while not playing.
func (a *Animator) Pulse() float64 {
	if !a.playing {
		return 0
	}
	return 0.5 + 0.5*math.Sin(a.Phase()*2*math.Pi)
}
