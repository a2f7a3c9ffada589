package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cryogon/music-genie/generation"
	"cryogon/music-genie/tracking"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	MinRate = 0.5
	MaxRate = 2.0
)

var (
	ErrNotReady    = errors.New("audio not ready")
	ErrNotPlayable = errors.New("generation has no playable audio")
)

type Enqueuer interface {
	Enqueue(ev tracking.Event) (string, bool)
}

// Library is where play counts, favorites and downloads are recorded.
type Library interface {
	Get(id string) (generation.Generation, bool)
	RecordPlay(id string)
	ToggleFavorite(ctx context.Context, id string) (bool, <-chan error)
	Download(ctx context.Context, id, dir string) (string, error)
}

type Config struct {
	Media       Media
	Coordinator *Coordinator
	Tracking    Enqueuer
	Library     Library
	DownloadDir string
	Volume      float64
	Waveform    bool
	Logger      zerolog.Logger
}

// Snapshot is a consistent read of the player for rendering.
type Snapshot struct {
	Generation   generation.Generation
	State        State
	Position     float64
	Duration     float64
	Volume       float64
	Muted        bool
	Rate         float64
	ShowWaveform bool
	Buffering    bool
	Err          error
}

func (s Snapshot) AudioLoaded() bool {
	return s.State == StateReady || s.State == StatePlaying || s.State == StatePaused
}

func (s Snapshot) CanSeek() bool {
	return s.AudioLoaded() && s.Duration > 0
}

type Player struct {
	id       string
	media    Media
	coord    *Coordinator
	tracking Enqueuer
	library  Library
	dir      string
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	gen         generation.Generation
	state       State
	err         error
	buffering   bool
	volume      float64
	muted       bool
	rate        float64
	waveform    bool
	loadSeq     uint64
	playStarted time.Time
	onChange    func()

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) *Player {
	p := &Player{
		id:       uuid.NewString(),
		media:    cfg.Media,
		coord:    cfg.Coordinator,
		tracking: cfg.Tracking,
		library:  cfg.Library,
		dir:      cfg.DownloadDir,
		logger:   cfg.Logger,
		now:      time.Now,
		volume:   1,
		rate:     1,
		waveform: cfg.Waveform,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.Volume > 0 && cfg.Volume <= 1 {
		p.volume = cfg.Volume
	}
	if p.coord == nil {
		p.coord = NewCoordinator()
	}
	p.media.SetVolume(p.volume)

	go p.watch()

	return p
}

func (p *Player) ID() string {
	return p.id
}

// OnChange registers a callback fired after every state change. It runs without the player lock.
func (p *Player) OnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	s := Snapshot{
		Generation:   p.gen,
		State:        p.state,
		Volume:       p.volume,
		Muted:        p.muted,
		Rate:         p.rate,
		ShowWaveform: p.waveform,
		Buffering:    p.buffering,
		Err:          p.err,
	}
	p.mu.Unlock()

	if s.AudioLoaded() {
		s.Position = p.media.Position()
		s.Duration = p.media.Duration()
	}
	if s.Duration <= 0 {
		s.Duration = s.Generation.Duration
	}
	return s
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) AudioLoaded() bool {
	return p.Snapshot().AudioLoaded()
}

func (p *Player) CanSeek() bool {
	return p.Snapshot().CanSeek()
}

func (p *Player) IsBuffering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffering
}

func (p *Player) LoadError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateError {
		return nil
	}
	return p.err
}

// Load replaces the current generation. A later Load supersedes an earlier one still in flight.
func (p *Player) Load(ctx context.Context, gen generation.Generation) error {
	p.stopPlayback(true)

	p.mu.Lock()
	p.loadSeq++
	seq := p.loadSeq
	p.gen = gen
	p.err = nil
	if !gen.Playable() {
		p.state = StateError
		p.buffering = false
		p.err = fmt.Errorf("%s: %w", gen.GenerationID, ErrNotPlayable)
		p.mu.Unlock()
		p.changed()
		return ErrNotPlayable
	}
	p.state = StateLoading
	p.buffering = true
	p.mu.Unlock()
	p.changed()

	err := p.media.Load(ctx, gen.AudioURL)

	p.mu.Lock()
	if seq != p.loadSeq {
		p.mu.Unlock()
		return context.Canceled
	}
	p.buffering = false
	if err != nil {
		p.state = StateError
		p.err = err
	} else {
		p.state = StateReady
		p.media.SetVolume(p.volume)
		p.media.SetMuted(p.muted)
		p.media.SetRate(p.rate)
	}
	p.mu.Unlock()
	p.changed()

	if err != nil {
		p.logger.Warn().Err(err).Str("generation_id", gen.GenerationID).Msg("audio load failed")
	}
	return err
}

// Retry reloads after a failed load.
func (p *Player) Retry(ctx context.Context) error {
	p.mu.Lock()
	gen, state := p.gen, p.state
	p.mu.Unlock()

	if state != StateError {
		return nil
	}
	return p.Load(ctx, gen)
}

func (p *Player) Play() error {
	p.mu.Lock()
	if p.state != StateReady && p.state != StatePaused {
		state := p.state
		p.mu.Unlock()
		if state == StatePlaying {
			return nil
		}
		return ErrNotReady
	}
	p.mu.Unlock()

	// before taking our own lock: the previous owner's Silence locks its player
	p.coord.Acquire(p.id, p)

	p.mu.Lock()
	if p.state != StateReady && p.state != StatePaused {
		p.mu.Unlock()
		return ErrNotReady
	}
	if p.coord.Owner() != p.id {
		// another player took the speaker in between
		p.mu.Unlock()
		return nil
	}
	fresh := p.state == StateReady
	if err := p.media.Play(); err != nil {
		p.state = StateError
		p.err = err
		p.mu.Unlock()
		p.coord.Release(p.id)
		p.changed()
		return err
	}
	p.state = StatePlaying
	p.playStarted = p.now()
	id := p.gen.GenerationID
	p.mu.Unlock()

	if fresh {
		p.tracking.Enqueue(tracking.Event{GenerationID: id})
		p.library.RecordPlay(id)
	}
	p.changed()
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return nil
	}
	err := p.media.Pause()
	p.state = StatePaused
	report := p.elapsed()
	p.mu.Unlock()

	p.report(report)
	p.changed()
	return err
}

// TogglePlay pauses while playing and plays otherwise.
func (p *Player) TogglePlay() error {
	if p.State() == StatePlaying {
		return p.Pause()
	}
	return p.Play()
}

// Stop pauses, rewinds to the start and releases the speaker.
func (p *Player) Stop() error {
	return p.stopPlayback(false)
}

func (p *Player) stopPlayback(unloading bool) error {
	p.mu.Lock()
	var err error
	report := reportless
	if p.state == StatePlaying {
		err = p.media.Pause()
		report = p.elapsed()
	}
	if p.state == StatePlaying || p.state == StatePaused {
		if serr := p.media.Seek(0); serr != nil && err == nil {
			err = serr
		}
		p.state = StateReady
	}
	if unloading {
		p.state = StateIdle
	}
	p.mu.Unlock()

	p.coord.Release(p.id)
	p.report(report)
	p.changed()
	return err
}

// Seek clamps to [0, duration].
func (p *Player) Seek(seconds float64) error {
	if !p.CanSeek() {
		return ErrNotReady
	}
	duration := p.media.Duration()
	seconds = min(max(seconds, 0), duration)
	err := p.media.Seek(seconds)
	p.changed()
	return err
}

// Skip moves relative to the current position.
func (p *Player) Skip(delta float64) error {
	if !p.CanSeek() {
		return ErrNotReady
	}
	return p.Seek(p.media.Position() + delta)
}

func (p *Player) SetVolume(v float64) {
	v = min(max(v, 0), 1)
	p.mu.Lock()
	p.volume = v
	p.media.SetVolume(v)
	p.mu.Unlock()
	p.changed()
}

func (p *Player) ToggleMute() bool {
	p.mu.Lock()
	p.muted = !p.muted
	muted := p.muted
	p.media.SetMuted(muted)
	p.mu.Unlock()
	p.changed()
	return muted
}

func (p *Player) SetRate(rate float64) {
	rate = min(max(rate, MinRate), MaxRate)
	p.mu.Lock()
	p.rate = rate
	p.media.SetRate(rate)
	p.mu.Unlock()
	p.changed()
}

func (p *Player) ToggleWaveform() bool {
	p.mu.Lock()
	p.waveform = !p.waveform
	on := p.waveform
	p.mu.Unlock()
	p.changed()
	return on
}

// ToggleFavorite flips the favorite flag optimistically. The channel yields once the backend settled.
func (p *Player) ToggleFavorite(ctx context.Context) (bool, <-chan error) {
	p.mu.Lock()
	id := p.gen.GenerationID
	p.mu.Unlock()

	optimistic, done := p.library.ToggleFavorite(ctx, id)
	p.setFavorite(id, optimistic)

	settled := make(chan error, 1)
	go func() {
		defer close(settled)
		err := <-done
		if g, ok := p.library.Get(id); ok {
			p.setFavorite(id, g.IsFavorited)
		}
		settled <- err
	}()
	return optimistic, settled
}

func (p *Player) setFavorite(id string, v bool) {
	p.mu.Lock()
	if p.gen.GenerationID == id {
		p.gen.IsFavorited = v
	}
	p.mu.Unlock()
	p.changed()
}

func (p *Player) Download(ctx context.Context) (string, error) {
	p.mu.Lock()
	id := p.gen.GenerationID
	p.mu.Unlock()

	if id == "" {
		return "", ErrNotReady
	}
	path, err := p.library.Download(ctx, id, p.dir)
	if err != nil {
		return "", err
	}
	if g, ok := p.library.Get(id); ok {
		p.mu.Lock()
		if p.gen.GenerationID == id {
			p.gen.DownloadCount = g.DownloadCount
		}
		p.mu.Unlock()
	}
	p.changed()
	return path, nil
}

// Silence pauses playback when another player takes the speaker.
func (p *Player) Silence() {
	if err := p.Pause(); err != nil {
		p.logger.Warn().Err(err).Msg("silence failed")
	}
}

func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.stopPlayback(true)
		close(p.stop)
		<-p.done
		err = p.media.Close()
	})
	return err
}

func (p *Player) watch() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case ev, ok := <-p.media.Events():
			if !ok {
				return
			}
			p.handle(ev)
		}
	}
}

func (p *Player) handle(ev Event) {
	p.mu.Lock()
	report := reportless
	release := false

	switch ev.Kind {
	case EventLoadStart, EventWaiting:
		// a dead stream has nothing left to buffer
		if p.state != StateError && p.state != StateIdle {
			p.buffering = true
		}
	case EventCanPlay:
		p.buffering = false
	case EventPlaying:
		p.buffering = false
	case EventEnded:
		if p.state == StatePlaying {
			report = p.elapsed()
			if err := p.media.Seek(0); err != nil {
				p.logger.Warn().Err(err).Msg("rewind after end failed")
			}
			p.state = StateReady
			release = true
		}
	case EventError:
		p.buffering = false
		if p.state == StatePlaying || p.state == StatePaused || p.state == StateReady {
			if p.state == StatePlaying {
				report = p.elapsed()
			}
			p.state = StateError
			p.err = ev.Err
			release = true
		}
	}
	p.mu.Unlock()

	if release {
		p.coord.Release(p.id)
	}
	p.report(report)
	p.changed()
}

const reportless = -1.0

// elapsed is the wall time since Play. Caller holds mu.
func (p *Player) elapsed() float64 {
	if p.playStarted.IsZero() {
		return reportless
	}
	d := p.now().Sub(p.playStarted).Seconds()
	p.playStarted = time.Time{}
	return max(d, 0)
}

func (p *Player) report(seconds float64) {
	if seconds < 0 {
		return
	}
	p.mu.Lock()
	id := p.gen.GenerationID
	p.mu.Unlock()
	if id == "" {
		return
	}
	d := seconds
	p.tracking.Enqueue(tracking.Event{GenerationID: id, PlayDuration: &d})
}

func (p *Player) changed() {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}
