package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryogon/music-genie/api"
	"cryogon/music-genie/generation"

	"github.com/bogem/id3v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	release  chan struct{}
	favorite api.FavoriteResult
	favErr   error
	download api.Download
	dlErr    error
}

func (f *fakeBackend) ToggleFavorite(ctx context.Context, id string) (api.FavoriteResult, error) {
	if f.release != nil {
		<-f.release
	}
	return f.favorite, f.favErr
}

func (f *fakeBackend) Download(ctx context.Context, id string) (api.Download, error) {
	return f.download, f.dlErr
}

func seeded(backend Backend) *Library {
	lib := New(backend, zerolog.Nop())
	lib.Upsert(
		generation.Generation{GenerationID: "gen_1", Prompt: "calm piano", PlayCount: 2},
		generation.Generation{GenerationID: "gen_2", Prompt: "heavy drums"},
		generation.Generation{Prompt: "no id"},
	)
	return lib
}

func TestUpsertGetList(t *testing.T) {
	lib := seeded(&fakeBackend{})

	g, ok := lib.Get("gen_1")
	require.True(t, ok)
	assert.Equal(t, "calm piano", g.Prompt)

	_, ok = lib.Get("")
	assert.False(t, ok)

	list := lib.List([]string{"gen_2", "missing", "gen_1"})
	require.Len(t, list, 2)
	assert.Equal(t, "gen_2", list[0].GenerationID)
	assert.Equal(t, "gen_1", list[1].GenerationID)
}

func TestToggleFavorite_OptimisticThenConfirmed(t *testing.T) {
	backend := &fakeBackend{release: make(chan struct{}), favorite: api.FavoriteResult{IsFavorited: true, Known: true}}
	lib := seeded(backend)

	optimistic, done := lib.ToggleFavorite(context.Background(), "gen_1")
	assert.True(t, optimistic)

	g, _ := lib.Get("gen_1")
	assert.True(t, g.IsFavorited, "flag flips before the backend answers")

	close(backend.release)
	require.NoError(t, <-done)

	g, _ = lib.Get("gen_1")
	assert.True(t, g.IsFavorited)
}

func TestToggleFavorite_RevertsOnFailure(t *testing.T) {
	backend := &fakeBackend{favErr: &api.APIError{Status: 500}}
	lib := seeded(backend)

	optimistic, done := lib.ToggleFavorite(context.Background(), "gen_2")
	assert.True(t, optimistic)

	err := <-done
	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)

	g, _ := lib.Get("gen_2")
	assert.False(t, g.IsFavorited)
}

func TestToggleFavorite_ServerValueWins(t *testing.T) {
	backend := &fakeBackend{favorite: api.FavoriteResult{IsFavorited: false, Known: true}}
	lib := seeded(backend)

	optimistic, done := lib.ToggleFavorite(context.Background(), "gen_1")
	assert.True(t, optimistic)
	require.NoError(t, <-done)

	g, _ := lib.Get("gen_1")
	assert.False(t, g.IsFavorited)
}

func TestToggleFavorite_UnknownStateKeepsOptimistic(t *testing.T) {
	lib := seeded(&fakeBackend{})

	_, done := lib.ToggleFavorite(context.Background(), "gen_1")
	require.NoError(t, <-done)

	g, _ := lib.Get("gen_1")
	assert.True(t, g.IsFavorited)
}

func TestToggleFavorite_Unknown(t *testing.T) {
	lib := seeded(&fakeBackend{})

	_, done := lib.ToggleFavorite(context.Background(), "gen_404")
	assert.True(t, errors.Is(<-done, ErrNotFound))
}

func TestRecordPlay(t *testing.T) {
	lib := seeded(&fakeBackend{})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lib.now = func() time.Time { return fixed }

	lib.RecordPlay("gen_1")
	lib.RecordPlay("missing")

	g, _ := lib.Get("gen_1")
	assert.Equal(t, 3, g.PlayCount)
	require.NotNil(t, g.LastPlayed)
	assert.Equal(t, fixed, *g.LastPlayed)
}

func TestRefreshKeepsLocalState(t *testing.T) {
	lib := seeded(&fakeBackend{})
	lib.RecordPlay("gen_1")

	fresh := lib.Refresh([]generation.Generation{{GenerationID: "gen_1", Prompt: "calm piano", PlayCount: 5}})
	require.Len(t, fresh, 1)
	assert.Equal(t, 5, fresh[0].PlayCount)
}

func TestDownload_WAV(t *testing.T) {
	data := append([]byte("RIFF"), make([]byte, 40)...)
	backend := &fakeBackend{download: api.Download{Data: data, ContentType: "audio/wav", Filename: "generation_gen_1.wav"}}
	lib := seeded(backend)
	dir := filepath.Join(t.TempDir(), "downloads")

	path, err := lib.Download(context.Background(), "gen_1", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "generation_gen_1.wav"), path)

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, saved)

	g, _ := lib.Get("gen_1")
	assert.Equal(t, 1, g.DownloadCount)
}

func TestDownload_MP3IsTagged(t *testing.T) {
	frame := []byte{0xFF, 0xFB, 0x90, 0x64}
	data := append(frame, make([]byte, 256)...)
	backend := &fakeBackend{download: api.Download{Data: data, ContentType: "audio/mpeg"}}
	lib := seeded(backend)

	path, err := lib.Download(context.Background(), "gen_2", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "generation_gen_2.mp3", filepath.Base(path))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer tag.Close()

	assert.Equal(t, "heavy drums", tag.Title())
	comments := tag.GetFrames(tag.CommonID("Comments"))
	require.Len(t, comments, 1)
	cf, ok := comments[0].(id3v2.CommentFrame)
	require.True(t, ok)
	assert.Equal(t, "heavy drums", cf.Text)
}

func TestDownload_Errors(t *testing.T) {
	lib := seeded(&fakeBackend{dlErr: &api.APIError{Status: 404}})
	_, err := lib.Download(context.Background(), "gen_1", t.TempDir())
	require.Error(t, err)

	lib = seeded(&fakeBackend{})
	_, err = lib.Download(context.Background(), "gen_1", t.TempDir())
	require.Error(t, err)

	g, _ := lib.Get("gen_1")
	assert.Equal(t, 0, g.DownloadCount)
}
