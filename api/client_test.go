package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryogon/music-genie/apitest"
	"cryogon/music-genie/generation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, retries int) (*Client, *apitest.Backend) {
	t.Helper()
	backend := apitest.New()
	t.Cleanup(backend.Close)
	return New(backend.URL(), WithRetry(retries, time.Millisecond), WithTimeout(2*time.Second)), backend
}

func TestGenerate_Success(t *testing.T) {
	client, backend := newTestClient(t, 0)

	gen, err := client.Generate(context.Background(), GenerateRequest{Prompt: "  upbeat jazz  ", Duration: 8})
	require.NoError(t, err)

	assert.Equal(t, "upbeat jazz", gen.Prompt)
	assert.Equal(t, generation.StatusCompleted, gen.Status)
	assert.Equal(t, generation.DeviceCPU, gen.Device)
	assert.Equal(t, generation.PrecisionFloat32, gen.Precision)
	assert.InDelta(t, 2.0, gen.RealtimeFactor, 0.001)
	assert.NotEmpty(t, gen.GenerationID)
	assert.Equal(t, 1, backend.Hits("POST /generate"))
}

func TestGenerate_ValidationSendsNothing(t *testing.T) {
	client, backend := newTestClient(t, 3)

	cases := []GenerateRequest{
		{Prompt: "", Duration: 10},
		{Prompt: "   ", Duration: 10},
		{Prompt: "ab", Duration: 10},
		{Prompt: "long enough", Duration: 0},
		{Prompt: "long enough", Duration: 121},
	}
	for _, req := range cases {
		_, err := client.Generate(context.Background(), req)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, "prompt %q duration %v", req.Prompt, req.Duration)
		assert.False(t, IsRetryable(err))
	}
	assert.Equal(t, 0, backend.Hits("POST /generate"))
}

func TestDo_RetriesServerErrors(t *testing.T) {
	client, backend := newTestClient(t, 2)
	backend.FailNext("GET /recent", 500, 503, 502)

	_, err := client.Recent(context.Background(), 10)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 502, apiErr.Status)
	assert.Equal(t, 3, backend.Hits("GET /recent"))
}

func TestWithoutRetry_SingleAttempt(t *testing.T) {
	client, backend := newTestClient(t, 3)
	backend.FailNext("GET /recent", 500, 500, 500, 500, 500)

	_, err := client.WithoutRetry().Recent(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, 1, backend.Hits("GET /recent"))

	// the original keeps its own policy
	_, err = client.Recent(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, 5, backend.Hits("GET /recent"))
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	client, backend := newTestClient(t, 2)
	backend.Seed(map[string]any{"prompt": "lofi beats", "status": "completed"})
	backend.FailNext("GET /recent", 503)

	gens, err := client.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, gens, 1)
	assert.Equal(t, 2, backend.Hits("GET /recent"))
}

func TestDo_ClientErrorsAreNotRetried(t *testing.T) {
	client, backend := newTestClient(t, 3)
	backend.FailNext("GET /favorites", 404)

	_, err := client.Favorites(context.Background(), 5)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, 1, backend.Hits("GET /favorites"))
}

func TestDo_TimeoutIsNetworkError(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	client := New(slow.URL, WithTimeout(20*time.Millisecond), WithRetry(1, time.Millisecond))
	_, err := client.Health(context.Background())

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.True(t, IsRetryable(err))
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	client, backend := newTestClient(t, 5)
	backend.FailNext("GET /recent", 500, 500, 500, 500, 500, 500)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Recent(ctx, 1)
	require.Error(t, err)
	assert.LessOrEqual(t, backend.Hits("GET /recent"), 1)
}

func TestResolveURL(t *testing.T) {
	client := New("http://localhost:8000/")

	assert.Equal(t, "http://localhost:8000/audio/x.wav", client.ResolveURL("/audio/x.wav"))
	assert.Equal(t, "http://localhost:8000/audio/x.wav", client.ResolveURL("audio/x.wav"))
	assert.Equal(t, "https://cdn.example.com/a.mp3", client.ResolveURL("https://cdn.example.com/a.mp3"))
	assert.Equal(t, "", client.ResolveURL(""))
}

func TestLists_NormalizeLegacyRecords(t *testing.T) {
	client, backend := newTestClient(t, 0)
	backend.Seed(map[string]any{
		"prompt":      "rainy piano",
		"status":      "done",
		"device_used": "cuda",
		"gen_time":    5.0,
		"duration":    10.0,
		"plays":       4,
		"audio_path":  "/audio/generated_a.wav",
	})
	backend.Seed(map[string]any{"prompt": "drum loop", "status": "completed", "play_count": 9})

	recent, err := client.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "drum loop", recent[0].Prompt)
	assert.Equal(t, "rainy piano", recent[1].Prompt)
	assert.Equal(t, generation.DeviceCUDA, recent[1].Device)
	assert.InDelta(t, 2.0, recent[1].RealtimeFactor, 0.001)

	popular, err := client.MostPlayed(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, popular, 1)
	assert.Equal(t, "drum loop", popular[0].Prompt)
}

func TestSearch(t *testing.T) {
	client, backend := newTestClient(t, 0)
	backend.Seed(map[string]any{"prompt": "Jazz trio", "status": "completed"})
	backend.Seed(map[string]any{"prompt": "metal riff", "status": "completed"})

	found, err := client.Search(context.Background(), "jazz", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Jazz trio", found[0].Prompt)

	_, err = client.Search(context.Background(), "  ", 10)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, 1, backend.Hits("GET /search"))
}

func TestToggleFavorite(t *testing.T) {
	client, backend := newTestClient(t, 0)
	id := backend.Seed(map[string]any{"prompt": "ambient pad", "status": "completed"})

	res, err := client.ToggleFavorite(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, res.Known)
	assert.True(t, res.IsFavorited)
	assert.True(t, backend.Favorited(id))

	res, err = client.ToggleFavorite(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.IsFavorited)

	_, err = client.ToggleFavorite(context.Background(), "gen_missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Generation not found", apiErr.Message)
}

func TestTrackPlay(t *testing.T) {
	client, backend := newTestClient(t, 0)
	id := backend.Seed(map[string]any{"prompt": "synthwave", "status": "completed"})

	require.NoError(t, client.TrackPlay(context.Background(), id, nil))
	d := 12.5
	require.NoError(t, client.TrackPlay(context.Background(), id, &d))

	plays := backend.Plays()
	require.Len(t, plays, 2)
	assert.Nil(t, plays[0].PlayDuration)
	require.NotNil(t, plays[1].PlayDuration)
	assert.InDelta(t, 12.5, *plays[1].PlayDuration, 0.001)

	var vErr *ValidationError
	assert.ErrorAs(t, client.TrackPlay(context.Background(), "", nil), &vErr)
}

func TestDownloadAndFetchAudio(t *testing.T) {
	client, backend := newTestClient(t, 0)
	wav, err := apitest.EncodeWAV(apitest.Tone(440, 0.1, 0.5, 8000), 8000)
	require.NoError(t, err)

	audioURL := backend.SetAudio("generated_x.wav", wav)
	id := backend.Seed(map[string]any{"prompt": "tone", "status": "completed", "audio_url": audioURL})

	dl, err := client.Download(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, wav, dl.Data)
	assert.Equal(t, "audio/wav", dl.ContentType)
	assert.Equal(t, "generation_"+id+".wav", dl.Filename)

	data, err := client.FetchAudio(context.Background(), audioURL)
	require.NoError(t, err)
	assert.Equal(t, wav, data)
}

func TestFetchAudio_SizeLimit(t *testing.T) {
	backend := apitest.New()
	defer backend.Close()
	client := New(backend.URL(), WithRetry(0, 0), WithMaxAudioSize(0.001))

	audioURL := backend.SetAudio("big.wav", make([]byte, 4096))
	_, err := client.FetchAudio(context.Background(), audioURL)
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestStatsHealthAndModel(t *testing.T) {
	client, backend := newTestClient(t, 0)
	backend.Seed(map[string]any{"prompt": "one", "status": "completed"})

	stats, err := client.Stats(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalGenerations)

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy())
	assert.Equal(t, "2.1.0", health.Version)
	assert.Contains(t, health.Components, "model")

	status, err := client.ModelStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Loaded)
	assert.Equal(t, "cuda:0", status.Device)

	reloaded, err := client.ReloadModel(context.Background())
	require.NoError(t, err)
	assert.True(t, reloaded.Loaded)
	assert.Equal(t, "Model reloaded successfully", reloaded.Message)
}

func TestParseAPIError(t *testing.T) {
	e := parseAPIError(422, []byte(`{"detail":[{"loc":["body","prompt"],"msg":"too short"}]}`))
	assert.Equal(t, 422, e.Status)
	assert.Contains(t, e.Message, "too short")

	e = parseAPIError(500, []byte("Internal Server Error"))
	assert.Equal(t, "internal_server_error", e.Code)
	assert.Equal(t, "Internal Server Error", e.Message)
	assert.True(t, e.ServerSide())
}
