package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"
	"github.com/rs/zerolog"
)

const outputRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
	})
	return speakerErr
}

var ErrNoAudio = errors.New("no audio loaded")

type Source interface {
	FetchAudio(ctx context.Context, audioURL string) ([]byte, error)
}

// SpeakerMedia plays decoded audio through the system speaker.
type SpeakerMedia struct {
	source Source
	logger zerolog.Logger
	events chan Event

	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	resample *beep.Resampler
	attached atomic.Bool
	level    float64
	muted    bool
	rate     float64
}

func NewSpeakerMedia(source Source, logger zerolog.Logger) *SpeakerMedia {
	return &SpeakerMedia{
		source: source,
		logger: logger,
		events: make(chan Event, 32),
		level:  1,
		rate:   1,
	}
}

func (m *SpeakerMedia) Events() <-chan Event {
	return m.events
}

func (m *SpeakerMedia) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn().Str("event", ev.Kind.String()).Msg("media event dropped")
	}
}

func (m *SpeakerMedia) Load(ctx context.Context, url string) error {
	m.emit(Event{Kind: EventLoadStart})
	m.unload()
	m.emit(Event{Kind: EventWaiting})

	data, err := m.source.FetchAudio(ctx, url)
	if err != nil {
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	streamer, format, err := decode(data)
	if err != nil {
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	m.mu.Lock()
	m.streamer = streamer
	m.format = format
	m.mu.Unlock()

	m.logger.Debug().Str("url", url).Int("sample_rate", int(format.SampleRate)).Float64("duration", m.Duration()).Msg("audio loaded")
	m.emit(Event{Kind: EventCanPlay})
	return nil
}

func decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	r := readSeekCloser{bytes.NewReader(data)}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		s, f, err := wav.Decode(r)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return s, f, nil
	}
	s, f, err := mp3.Decode(r)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
	}
	return s, f, nil
}

type readSeekCloser struct {
	*bytes.Reader
}

func (readSeekCloser) Close() error { return nil }

func (m *SpeakerMedia) Play() error {
	if err := initSpeaker(); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamer == nil {
		return ErrNoAudio
	}

	if !m.attached.Load() {
		m.resample = beep.ResampleRatio(4, m.ratio(), m.streamer)
		m.volume = &effects.Volume{Streamer: m.resample, Base: 2}
		m.applyVolume()
		m.ctrl = &beep.Ctrl{
			Streamer: beep.Seq(m.volume, beep.Callback(func() {
				m.attached.Store(false)
				m.emit(Event{Kind: EventEnded})
			})),
		}
		m.attached.Store(true)
		speaker.Play(m.ctrl)
	} else {
		speaker.Lock()
		m.ctrl.Paused = false
		speaker.Unlock()
	}

	m.emit(Event{Kind: EventPlaying})
	return nil
}

func (m *SpeakerMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctrl == nil {
		return nil
	}
	speaker.Lock()
	m.ctrl.Paused = true
	speaker.Unlock()

	m.emit(Event{Kind: EventPaused})
	return nil
}

func (m *SpeakerMedia) Seek(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamer == nil {
		return ErrNoAudio
	}
	n := m.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	n = min(max(n, 0), m.streamer.Len())

	if m.attached.Load() {
		speaker.Lock()
		defer speaker.Unlock()
	}
	return m.streamer.Seek(n)
}

func (m *SpeakerMedia) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamer == nil {
		return 0
	}
	if m.attached.Load() {
		speaker.Lock()
		defer speaker.Unlock()
	}
	return m.format.SampleRate.D(m.streamer.Position()).Seconds()
}

func (m *SpeakerMedia) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamer == nil {
		return 0
	}
	return m.format.SampleRate.D(m.streamer.Len()).Seconds()
}

func (m *SpeakerMedia) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = v
	m.withSpeaker(m.applyVolume)
}

func (m *SpeakerMedia) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	m.withSpeaker(m.applyVolume)
}

func (m *SpeakerMedia) SetRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = rate
	if m.resample != nil {
		m.withSpeaker(func() { m.resample.SetRatio(m.ratio()) })
	}
}

func (m *SpeakerMedia) Close() error {
	m.unload()
	return nil
}

func (m *SpeakerMedia) unload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctrl != nil {
		speaker.Lock()
		m.ctrl.Streamer = nil
		speaker.Unlock()
		m.ctrl = nil
	}
	m.attached.Store(false)
	if m.streamer != nil {
		m.streamer.Close()
		m.streamer = nil
	}
	m.volume = nil
	m.resample = nil
}

// ratio folds sample-rate conversion and playback rate together. Caller holds mu.
func (m *SpeakerMedia) ratio() float64 {
	return float64(m.format.SampleRate) / float64(outputRate) * m.rate
}

// applyVolume maps a linear 0..1 level onto beep's exponential volume. Caller holds mu.
func (m *SpeakerMedia) applyVolume() {
	if m.volume == nil {
		return
	}
	m.volume.Silent = m.muted || m.level <= 0
	if m.level > 0 {
		m.volume.Volume = math.Log2(m.level)
	}
}

func (m *SpeakerMedia) withSpeaker(fn func()) {
	if m.attached.Load() {
		speaker.Lock()
		defer speaker.Unlock()
	}
	fn()
}
