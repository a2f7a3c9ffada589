package waveform

import "sync"

// Token identifies one load request.
type Token struct {
	seq   uint64
	URL   string
	Width int
}

// Tracker sequences loads so only the most recently requested one is applied.
// Results of earlier requests are discarded even if they finish last.
type Tracker struct {
	mu      sync.Mutex
	seq     uint64
	current Token
}

func (t *Tracker) Begin(url string, width int) Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.current = Token{seq: t.seq, URL: url, Width: width}
	return t.current
}

// Accept reports whether tok is still the latest request.
func (t *Tracker) Accept(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tok.seq != 0 && tok.seq == t.current.seq
}

// NeedsLoad reports whether (url, width) differs from the latest request.
func (t *Tracker) NeedsLoad(url string, width int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.seq == 0 || t.current.URL != url || t.current.Width != width
}

// Reset invalidates every outstanding token.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.current = Token{}
}
