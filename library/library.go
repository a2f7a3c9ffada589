// Package library: the client's local view of generations
package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cryogon/music-genie/api"
	"cryogon/music-genie/generation"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("generation not found")

// Backend is the subset of api.Client the library talks to.
type Backend interface {
	ToggleFavorite(ctx context.Context, generationID string) (api.FavoriteResult, error)
	Download(ctx context.Context, generationID string) (api.Download, error)
}

// Library caches normalized generations keyed by generation id.
// Local counters and the favorite flag are only ever mutated here.
type Library struct {
	backend Backend
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	items map[string]*generation.Generation
}

func New(backend Backend, logger zerolog.Logger) *Library {
	return &Library{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		items:   make(map[string]*generation.Generation),
	}
}

// Upsert stores fresh server copies. Records without a generation id are ignored.
func (l *Library) Upsert(gens ...generation.Generation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range gens {
		if gens[i].GenerationID == "" {
			continue
		}
		g := gens[i]
		l.items[g.GenerationID] = &g
	}
}

func (l *Library) Get(id string) (generation.Generation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, ok := l.items[id]
	if !ok {
		return generation.Generation{}, false
	}
	return *g, true
}

// List returns the cached copies of ids in order, skipping unknown ones.
func (l *Library) List(ids []string) []generation.Generation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]generation.Generation, 0, len(ids))
	for _, id := range ids {
		if g, ok := l.items[id]; ok {
			out = append(out, *g)
		}
	}
	return out
}

// Refresh upserts gens and returns them as currently cached, so local edits made
// since the fetch started are not lost.
func (l *Library) Refresh(gens []generation.Generation) []generation.Generation {
	l.Upsert(gens...)
	ids := make([]string, 0, len(gens))
	for _, g := range gens {
		if g.GenerationID != "" {
			ids = append(ids, g.GenerationID)
		}
	}
	return l.List(ids)
}

// ToggleFavorite flips the flag immediately and confirms with the backend in the background.
// The returned value is the optimistic state; the channel yields once the state is final.
func (l *Library) ToggleFavorite(ctx context.Context, id string) (bool, <-chan error) {
	done := make(chan error, 1)

	l.mu.Lock()
	g, ok := l.items[id]
	if !ok {
		l.mu.Unlock()
		done <- fmt.Errorf("favorite %s: %w", id, ErrNotFound)
		close(done)
		return false, done
	}
	prior := g.IsFavorited
	g.IsFavorited = !prior
	optimistic := g.IsFavorited
	l.mu.Unlock()

	go func() {
		defer close(done)

		res, err := l.backend.ToggleFavorite(ctx, id)

		l.mu.Lock()
		if g, ok := l.items[id]; ok {
			switch {
			case err != nil:
				g.IsFavorited = prior
			case res.Known:
				g.IsFavorited = res.IsFavorited
			}
		}
		l.mu.Unlock()

		if err != nil {
			l.logger.Warn().Err(err).Str("generation_id", id).Msg("favorite toggle reverted")
		}
		done <- err
	}()

	return optimistic, done
}

// RecordPlay bumps the local play count and last played time.
func (l *Library) RecordPlay(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.items[id]; ok {
		g.PlayCount++
		now := l.now().UTC()
		g.LastPlayed = &now
	}
}

func (l *Library) recordDownload(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.items[id]; ok {
		g.DownloadCount++
	}
}
