// Package apitest: an in-process fake of the Music Genie backend for tests
package apitest

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type PlayRecord struct {
	GenerationID string   `json:"generation_id"`
	PlayDuration *float64 `json:"play_duration"`
}

// Backend serves the REST surface of the real backend from memory.
// Records are kept as raw maps so tests can seed legacy field names.
type Backend struct {
	Server *httptest.Server

	mu          sync.Mutex
	generations []map[string]any
	audio       map[string][]byte
	failures    map[string][]int
	hits        map[string]int
	plays       []PlayRecord
	nextID      int
}

func New() *Backend {
	b := &Backend{
		audio:    make(map[string][]byte),
		failures: make(map[string][]int),
		hits:     make(map[string]int),
		nextID:   1,
	}
	b.Server = httptest.NewServer(b.router())
	return b
}

func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) Close() {
	b.Server.Close()
}

// FailNext makes the next len(statuses) requests to "METHOD /path" answer with those statuses.
func (b *Backend) FailNext(route string, statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = append(b.failures[route], statuses...)
}

// Hits counts requests to "METHOD /path", including injected failures.
func (b *Backend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

func (b *Backend) Plays() []PlayRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]PlayRecord(nil), b.plays...)
}

// Seed stores a raw generation record and returns its generation id.
func (b *Backend) Seed(raw map[string]any) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if _, ok := raw["generation_id"]; !ok {
		raw["generation_id"] = fmt.Sprintf("gen_%d", id)
	}
	if _, ok := raw["id"]; !ok {
		raw["id"] = id
	}
	b.generations = append(b.generations, raw)
	return raw["generation_id"].(string)
}

// SetAudio serves data at /audio/<name>.
func (b *Backend) SetAudio(name string, data []byte) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio[name] = data
	return "/audio/" + name
}

func (b *Backend) Favorited(generationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g := b.find(generationID); g != nil {
		v, _ := g["is_favorited"].(bool)
		return v
	}
	return false
}

func (b *Backend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.inject)

	r.Post("/generate", b.handleGenerate())
	r.Get("/recent", b.handleList(func([]map[string]any) {}))
	r.Get("/most-played", b.handleList(sortByPlays))
	r.Get("/favorites", b.handleFavorites())
	r.Get("/search", b.handleSearch())
	r.Get("/stats", b.handleStats())
	r.Post("/track-play", b.handleTrackPlay())
	r.Post("/favorite", b.handleFavorite())
	r.Post("/download/{generationID}", b.handleDownload())
	r.Get("/audio/{filename}", b.handleAudio())
	r.Get("/health", b.handleHealth())
	r.Get("/model/status", b.handleModelStatus())
	r.Post("/model/reload", b.handleModelReload())

	return r
}

// inject counts hits and serves queued failures before routing.
func (b *Backend) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		b.mu.Lock()
		b.hits[route]++
		var status int
		if queue := b.failures[route]; len(queue) > 0 {
			status = queue[0]
			b.failures[route] = queue[1:]
		}
		b.mu.Unlock()

		if status != 0 {
			respondWithJSON(w, status, map[string]any{"success": false, "error": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleGenerate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt    string  `json:"prompt"`
			Duration  float64 `json:"duration"`
			Device    string  `json:"device"`
			Precision string  `json:"precision"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "invalid body"})
			return
		}

		device := req.Device
		if device == "" {
			device = "CPU"
		}
		raw := map[string]any{
			"prompt":          req.Prompt,
			"status":          "completed",
			"device":          device,
			"precision":       req.Precision,
			"generation_time": 4.0,
			"duration":        req.Duration,
			"sample_rate":     32000,
			"play_count":      0,
			"download_count":  0,
			"is_favorited":    false,
			"created_at":      "2024-05-01T10:00:00",
		}
		id := b.Seed(raw)

		b.mu.Lock()
		raw["audio_url"] = "/audio/generated_" + id + ".wav"
		raw["realtime_factor"] = math.Round(req.Duration/4.0*100) / 100
		resp := copyMap(raw)
		b.mu.Unlock()

		resp["success"] = true
		respondWithJSON(w, http.StatusOK, resp)
	}
}

func (b *Backend) handleList(order func([]map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		items := b.snapshot()
		b.mu.Unlock()

		order(items)
		respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "data": limit(items, r)})
	}
}

func (b *Backend) handleFavorites() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		var items []map[string]any
		for _, g := range b.snapshot() {
			if fav, _ := g["is_favorited"].(bool); fav {
				items = append(items, g)
			}
		}
		b.mu.Unlock()
		respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "data": limit(items, r)})
	}
}

func (b *Backend) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.ToLower(r.URL.Query().Get("q"))

		b.mu.Lock()
		items := []map[string]any{}
		for _, g := range b.snapshot() {
			prompt, _ := g["prompt"].(string)
			if strings.Contains(strings.ToLower(prompt), q) {
				items = append(items, g)
			}
		}
		b.mu.Unlock()
		respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "data": limit(items, r), "query": q})
	}
}

func (b *Backend) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		total := len(b.generations)
		plays := len(b.plays)
		b.mu.Unlock()

		respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"total_generations":      total,
			"successful_generations": total,
			"failed_generations":     0,
			"avg_generation_time":    4.0,
			"total_plays":            plays,
		}})
	}
}

func (b *Backend) handleTrackPlay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rec PlayRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec.GenerationID == "" {
			respondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "generation_id required"})
			return
		}

		b.mu.Lock()
		b.plays = append(b.plays, rec)
		found := false
		if g := b.find(rec.GenerationID); g != nil && rec.PlayDuration == nil {
			count, _ := g["play_count"].(int)
			g["play_count"] = count + 1
			found = true
		}
		b.mu.Unlock()

		respondWithJSON(w, http.StatusOK, map[string]any{"success": found || rec.PlayDuration != nil})
	}
}

func (b *Backend) handleFavorite() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			GenerationID string `json:"generation_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "invalid body"})
			return
		}

		b.mu.Lock()
		g := b.find(req.GenerationID)
		var state bool
		if g != nil {
			state, _ = g["is_favorited"].(bool)
			state = !state
			g["is_favorited"] = state
		}
		b.mu.Unlock()

		if g == nil {
			respondWithJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Generation not found"})
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "is_favorited": state})
	}
}

func (b *Backend) handleDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "generationID")

		b.mu.Lock()
		g := b.find(id)
		var data []byte
		if g != nil {
			if u, ok := g["audio_url"].(string); ok {
				data = b.audio[strings.TrimPrefix(u, "/audio/")]
			}
			count, _ := g["download_count"].(int)
			g["download_count"] = count + 1
		}
		b.mu.Unlock()

		if data == nil {
			respondWithJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Audio file not found"})
			return
		}
		w.Header().Set("Content-Type", contentType(data))
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="generation_%s.wav"`, id))
		w.Write(data)
	}
}

func (b *Backend) handleAudio() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		data, ok := b.audio[chi.URLParam(r, "filename")]
		b.mu.Unlock()

		if !ok {
			http.Error(w, "Audio file not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType(data))
		w.Write(data)
	}
}

func (b *Backend) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"timestamp": "2024-05-01T10:00:00",
			"version":   "2.1.0",
			"components": map[string]any{
				"model":    map[string]any{"status": "loaded", "device": "cuda:0"},
				"database": map[string]any{"status": "connected"},
			},
		})
	}
}

func (b *Backend) handleModelStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]any{
			"loaded":        true,
			"loading":       false,
			"device":        "cuda:0",
			"gpu_available": true,
			"mps_available": false,
			"model_type":    "MusicGen-Small",
			"sample_rate":   32000,
		})
	}
}

func (b *Backend) handleModelReload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Model reloaded successfully",
			"device":  "cuda:0",
		})
	}
}

// find must be called with mu held.
func (b *Backend) find(generationID string) map[string]any {
	for _, g := range b.generations {
		if g["generation_id"] == generationID {
			return g
		}
	}
	return nil
}

// snapshot must be called with mu held; newest first like the real /recent.
func (b *Backend) snapshot() []map[string]any {
	out := make([]map[string]any, 0, len(b.generations))
	for i := len(b.generations) - 1; i >= 0; i-- {
		out = append(out, copyMap(b.generations[i]))
	}
	return out
}

func sortByPlays(items []map[string]any) {
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := items[i]["play_count"].(int)
		c, _ := items[j]["play_count"].(int)
		return a > c
	})
}

func limit(items []map[string]any, r *http.Request) []map[string]any {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n >= len(items) {
		return items
	}
	return items[:n]
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func contentType(data []byte) string {
	if len(data) >= 4 && string(data[:4]) == "RIFF" {
		return "audio/wav"
	}
	return http.DetectContentType(data)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("ERROR: Failed to encode JSON response: %v", err)
	}
}
