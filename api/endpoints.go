package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cryogon/music-genie/generation"
)

const (
	MinPromptLength = 3
	MaxPromptLength = 500
	MaxDuration     = 120.0
)

type GenerateRequest struct {
	Prompt    string  `json:"prompt"`
	Duration  float64 `json:"duration"`
	Device    string  `json:"device,omitempty"`
	Precision string  `json:"precision,omitempty"`
}

// Validate mirrors the backend's request validation so bad input never leaves the client.
func (r *GenerateRequest) Validate() error {
	prompt := strings.TrimSpace(r.Prompt)
	switch {
	case prompt == "":
		return &ValidationError{Field: "prompt", Message: "cannot be empty"}
	case len([]rune(prompt)) < MinPromptLength:
		return &ValidationError{Field: "prompt", Message: fmt.Sprintf("must be at least %d characters long", MinPromptLength)}
	case len([]rune(prompt)) > MaxPromptLength:
		return &ValidationError{Field: "prompt", Message: fmt.Sprintf("cannot exceed %d characters", MaxPromptLength)}
	}
	if r.Duration <= 0 || r.Duration > MaxDuration {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("must be between 0 and %.0f seconds", MaxDuration)}
	}
	return nil
}

type FavoriteResult struct {
	IsFavorited bool
	Known       bool // false when the backend could not report the new state
}

type Download struct {
	Data        []byte
	ContentType string
	Filename    string
}

type ModelStatus struct {
	Loaded       bool   `json:"loaded"`
	Loading      bool   `json:"loading"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	MPSAvailable bool   `json:"mps_available"`
	ModelType    string `json:"model_type"`
	SampleRate   int    `json:"sample_rate"`
	Message      string `json:"message,omitempty"`
}

type Health struct {
	Status     string         `json:"status"`
	Timestamp  string         `json:"timestamp"`
	Version    string         `json:"version"`
	Components map[string]any `json:"components"`
}

func (h Health) Healthy() bool {
	return h.Status == "healthy"
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (generation.Generation, error) {
	if err := req.Validate(); err != nil {
		return generation.Generation{}, err
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Precision == "" {
		req.Precision = string(generation.PrecisionFloat32)
	}

	resp, err := c.do(ctx, request{
		op:      "generate",
		method:  http.MethodPost,
		url:     c.endpoint("/generate", nil),
		payload: req,
	})
	if err != nil {
		return generation.Generation{}, err
	}

	gen, err := generation.NormalizeJSON(resp.body)
	if err != nil {
		return generation.Generation{}, fmt.Errorf("generate: %w", err)
	}
	if gen.Prompt == "" {
		gen.Prompt = req.Prompt
	}
	return gen, nil
}

func (c *Client) Recent(ctx context.Context, limit int) ([]generation.Generation, error) {
	return c.list(ctx, "recent", "/recent", limitQuery(limit))
}

func (c *Client) MostPlayed(ctx context.Context, limit int) ([]generation.Generation, error) {
	return c.list(ctx, "most-played", "/most-played", limitQuery(limit))
}

func (c *Client) Favorites(ctx context.Context, limit int) ([]generation.Generation, error) {
	return c.list(ctx, "favorites", "/favorites", limitQuery(limit))
}

func (c *Client) Search(ctx context.Context, q string, limit int) ([]generation.Generation, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, &ValidationError{Field: "query", Message: "cannot be empty"}
	}
	query := limitQuery(limit)
	query.Set("q", q)
	return c.list(ctx, "search", "/search", query)
}

func (c *Client) Stats(ctx context.Context, days int) (generation.Stats, error) {
	days = min(max(days, 1), 365)
	resp, err := c.do(ctx, request{
		op:     "stats",
		method: http.MethodGet,
		url:    c.endpoint("/stats", url.Values{"days": {strconv.Itoa(days)}}),
	})
	if err != nil {
		return generation.Stats{}, err
	}
	return generation.NormalizeStats(resp.body)
}

func (c *Client) TrackPlay(ctx context.Context, generationID string, playDuration *float64) error {
	if generationID == "" {
		return &ValidationError{Field: "generation_id", Message: "cannot be empty"}
	}
	payload := struct {
		GenerationID string   `json:"generation_id"`
		PlayDuration *float64 `json:"play_duration,omitempty"`
	}{generationID, playDuration}

	_, err := c.do(ctx, request{
		op:      "track-play",
		method:  http.MethodPost,
		url:     c.endpoint("/track-play", nil),
		payload: payload,
	})
	return err
}

func (c *Client) ToggleFavorite(ctx context.Context, generationID string) (FavoriteResult, error) {
	if generationID == "" {
		return FavoriteResult{}, &ValidationError{Field: "generation_id", Message: "cannot be empty"}
	}
	resp, err := c.do(ctx, request{
		op:      "favorite",
		method:  http.MethodPost,
		url:     c.endpoint("/favorite", nil),
		payload: map[string]string{"generation_id": generationID},
	})
	if err != nil {
		return FavoriteResult{}, err
	}

	var out struct {
		Success     *bool  `json:"success"`
		IsFavorited *bool  `json:"is_favorited"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return FavoriteResult{}, fmt.Errorf("favorite: decode response: %w", err)
	}
	if out.Success != nil && !*out.Success {
		return FavoriteResult{}, &APIError{Status: resp.status, Code: "favorite_failed", Message: out.Error}
	}
	if out.IsFavorited == nil {
		return FavoriteResult{}, nil
	}
	return FavoriteResult{IsFavorited: *out.IsFavorited, Known: true}, nil
}

func (c *Client) Download(ctx context.Context, generationID string) (Download, error) {
	if generationID == "" {
		return Download{}, &ValidationError{Field: "generation_id", Message: "cannot be empty"}
	}
	resp, err := c.do(ctx, request{
		op:     "download",
		method: http.MethodPost,
		url:    c.endpoint("/download/"+url.PathEscape(generationID), nil),
		limit:  c.maxAudioBytes,
	})
	if err != nil {
		return Download{}, err
	}

	dl := Download{
		Data:        resp.body,
		ContentType: resp.header.Get("Content-Type"),
	}
	if _, params, err := mime.ParseMediaType(resp.header.Get("Content-Disposition")); err == nil {
		dl.Filename = params["filename"]
	}
	return dl, nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.getJSON(ctx, "health", "/health", &h)
	return h, err
}

func (c *Client) ModelStatus(ctx context.Context) (ModelStatus, error) {
	var s ModelStatus
	err := c.getJSON(ctx, "model-status", "/model/status", &s)
	return s, err
}

// ReloadModel asks the backend to reload its model; the returned status reflects the reload response.
func (c *Client) ReloadModel(ctx context.Context) (ModelStatus, error) {
	resp, err := c.do(ctx, request{
		op:     "model-reload",
		method: http.MethodPost,
		url:    c.endpoint("/model/reload", nil),
	})
	if err != nil {
		return ModelStatus{}, err
	}

	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Device  string `json:"device"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return ModelStatus{}, fmt.Errorf("model-reload: decode response: %w", err)
	}
	return ModelStatus{Loaded: out.Success, Device: out.Device, Message: out.Message}, nil
}

// FetchAudio downloads the audio behind a (possibly relative) audio URL.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	if audioURL == "" {
		return nil, &ValidationError{Field: "audio_url", Message: "cannot be empty"}
	}
	resp, err := c.do(ctx, request{
		op:     "fetch-audio",
		method: http.MethodGet,
		url:    c.ResolveURL(audioURL),
		limit:  c.maxAudioBytes,
	})
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (c *Client) list(ctx context.Context, op, path string, query url.Values) ([]generation.Generation, error) {
	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		url:    c.endpoint(path, query),
	})
	if err != nil {
		return nil, err
	}
	gens, err := generation.NormalizeList(resp.body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return gens, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		url:    c.endpoint(path, nil),
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func limitQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}
