// Package waveform : peak extraction, load sequencing and terminal rendering of audio waveforms
package waveform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultDecodeTimeout    = 10 * time.Second
	DefaultFallbackDuration = 30.0
)

var ErrTooFewSamples = errors.New("not enough samples for requested width")

// Geometry is the bar layout in terminal columns.
type Geometry struct {
	BarWidth int
	BarGap   int
}

var DefaultGeometry = Geometry{BarWidth: 1, BarGap: 1}

func (g Geometry) stride() int {
	return max(g.BarWidth, 1) + max(g.BarGap, 0)
}

// SampleCount is how many bars fit in width columns.
func SampleCount(width int, g Geometry) int {
	if width <= 0 {
		return 0
	}
	return width / g.stride()
}

type Fetcher interface {
	FetchAudio(ctx context.Context, audioURL string) ([]byte, error)
}

type Request struct {
	URL              string
	Width            int
	FallbackDuration float64
}

type Result struct {
	Peaks     []float64
	Duration  float64
	Synthetic bool
}

type Engine struct {
	fetcher Fetcher
	geom    Geometry
	timeout time.Duration
	logger  zerolog.Logger
	rand    func() float64
}

type Option func(*Engine)

func WithGeometry(g Geometry) Option {
	return func(e *Engine) { e.geom = g }
}

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRand replaces the jitter source of synthetic waveforms.
func WithRand(fn func() float64) Option {
	return func(e *Engine) { e.rand = fn }
}

// NewEngine builds an engine; a nil fetcher always yields synthetic waveforms.
func NewEngine(fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		fetcher: fetcher,
		geom:    DefaultGeometry,
		timeout: DefaultDecodeTimeout,
		logger:  zerolog.Nop(),
		rand:    rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Geometry() Geometry {
	return e.geom
}

// Load never fails: anything that stops real peaks from being computed
// degrades to a synthetic waveform.
func (e *Engine) Load(ctx context.Context, req Request) Result {
	n := SampleCount(req.Width, e.geom)

	res, err := e.decode(ctx, req.URL, n)
	if err == nil {
		return res
	}

	e.logger.Debug().Err(err).Str("url", req.URL).Int("bars", n).Msg("using synthetic waveform")

	duration := req.FallbackDuration
	if duration <= 0 {
		duration = DefaultFallbackDuration
	}
	return Result{
		Peaks:     e.Synthetic(n),
		Duration:  duration,
		Synthetic: true,
	}
}

func (e *Engine) decode(ctx context.Context, url string, n int) (Result, error) {
	if e.fetcher == nil {
		return Result{}, errors.New("no audio fetcher")
	}
	if url == "" {
		return Result{}, errors.New("no audio url")
	}
	if n <= 0 {
		return Result{}, ErrTooFewSamples
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := e.fetcher.FetchAudio(ctx, url)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}

	samples, format, err := DecodeChannel(data)
	if err != nil {
		return Result{}, err
	}

	peaks, err := Peaks(samples, n)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Peaks:    peaks,
		Duration: format.SampleRate.D(len(samples)).Seconds(),
	}, nil
}

// DecodeChannel decodes WAV or MP3 bytes and returns the first channel.
func DecodeChannel(data []byte) ([]float64, beep.Format, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	if bytes.HasPrefix(data, []byte("RIFF")) {
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	} else {
		streamer, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode: %w", err)
	}
	defer streamer.Close()

	out := make([]float64, 0, max(streamer.Len(), 0))
	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		for _, s := range buf[:n] {
			out = append(out, s[0])
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode: %w", err)
	}
	return out, format, nil
}

// Peaks reduces samples to n bars: mean absolute amplitude per block,
// scaled so the loudest bar is 1. Silence stays at 0.
func Peaks(samples []float64, n int) ([]float64, error) {
	if n <= 0 {
		return nil, ErrTooFewSamples
	}
	block := len(samples) / n
	if block == 0 {
		return nil, ErrTooFewSamples
	}

	peaks := make([]float64, n)
	abs := make([]float64, block)
	for i := range peaks {
		for j, s := range samples[i*block : (i+1)*block] {
			abs[j] = math.Abs(s)
		}
		peaks[i] = stat.Mean(abs, nil)
	}

	if top := floats.Max(peaks); top > 0 {
		floats.Scale(1/top, peaks)
	}
	return peaks, nil
}

// Synthetic is the placeholder shape shown when real peaks are unavailable.
func (e *Engine) Synthetic(n int) []float64 {
	peaks := make([]float64, max(n, 0))
	for i := range peaks {
		p := float64(i) / float64(n)
		v := 0.3 + math.Sin(p*4*math.Pi)*0.2 + (e.rand()*0.4 - 0.2)
		peaks[i] = min(max(v, 0.1), 1.0)
	}
	return peaks
}
