package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type alias struct {
	name      string
	canonical string
}

// Aliases maps historical backend field names onto the canonical ones, in precedence order:
// when several aliases of one field are present, the earliest listed wins.
// A canonical key present in the payload always wins over its aliases.
var Aliases = []alias{
	{"device_used", "device"},
	{"gen_time", "generation_time"},
	{"total_time", "generation_time"},
	{"rtf", "realtime_factor"},
	{"file_size", "file_size_mb"},
	{"size_mb", "file_size_mb"},
	{"audio_path", "audio_url"},
	{"file_url", "audio_url"},
	{"url", "audio_url"},
	{"is_favorite", "is_favorited"},
	{"favorited", "is_favorited"},
	{"plays", "play_count"},
	{"downloads", "download_count"},
	{"timestamp", "created_at"},
	{"last_played_at", "last_played"},
}

func isAlias(key string) bool {
	for _, a := range Aliases {
		if a.name == key {
			return true
		}
	}
	return false
}

// listKeys are the envelope keys a list response may wrap its items in.
var listKeys = []string{"data", "generations", "results", "items"}

var ErrUnexpectedShape = errors.New("unexpected response shape")

// Normalize coerces an arbitrary decoded JSON object into a Generation.
// It never fails: absent, null and invalid values fall back to defaults.
func Normalize(raw map[string]any) Generation {
	fields := canonicalize(raw)

	g := Generation{
		ID:           int64(integer(fields["id"])),
		GenerationID: text(fields["generation_id"]),
		Prompt:       strings.TrimSpace(text(fields["prompt"])),
		Device:       ParseDevice(text(fields["device"])),
		Precision:    ParsePrecision(text(fields["precision"])),
		ModelVersion: text(fields["model_version"]),
		ErrorMessage: text(fields["error_message"]),
		AudioURL:     strings.TrimSpace(text(fields["audio_url"])),

		GenerationTime: number(fields["generation_time"]),
		RealtimeFactor: number(fields["realtime_factor"]),
		FileSizeMB:     number(fields["file_size_mb"]),
		Duration:       number(fields["duration"]),
		SampleRate:     integer(fields["sample_rate"]),

		PlayCount:     integer(fields["play_count"]),
		DownloadCount: integer(fields["download_count"]),
		IsFavorited:   boolean(fields["is_favorited"]),
		CreatedAt:     timestamp(fields["created_at"]),
		LastPlayed:    timestamp(fields["last_played"]),
	}

	g.Status = ParseStatus(text(fields["status"]), g.AudioURL != "")

	if g.Duration <= 0 {
		g.Duration = DefaultDuration
	}
	if g.SampleRate <= 0 {
		g.SampleRate = DefaultSampleRate
	}
	if g.RealtimeFactor <= 0 && g.GenerationTime > 0 {
		g.RealtimeFactor = round2(g.Duration / g.GenerationTime)
	}
	if g.FileSizeMB <= 0 {
		g.FileSizeMB = EstimateFileSizeMB(g.Duration, g.SampleRate)
	}

	return g
}

// EstimateFileSizeMB sizes 16-bit stereo PCM of the given length.
func EstimateFileSizeMB(duration float64, sampleRate int) float64 {
	if duration <= 0 || sampleRate <= 0 {
		return 0
	}
	return round2(duration * float64(sampleRate) * 2 * 2 / (1024 * 1024))
}

// NormalizeJSON decodes a single generation, unwrapping a {"data": {...}} envelope.
func NormalizeJSON(data []byte) (Generation, error) {
	v, err := decode(data)
	if err != nil {
		return Generation{}, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Generation{}, fmt.Errorf("generation: %w", ErrUnexpectedShape)
	}
	if inner, ok := obj["data"].(map[string]any); ok {
		obj = inner
	}
	return Normalize(obj), nil
}

// NormalizeList decodes a list response. Bare arrays and the envelopes in listKeys are accepted;
// items that are not objects are skipped.
func NormalizeList(data []byte) ([]Generation, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}

	items, ok := v.([]any)
	if !ok {
		obj, isObj := v.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("generation list: %w", ErrUnexpectedShape)
		}
		for _, key := range listKeys {
			if arr, found := obj[key].([]any); found {
				items = arr
				ok = true
				break
			}
		}
		if !ok {
			// {"success": true, "data": null} and friends
			return []Generation{}, nil
		}
	}

	gens := make([]Generation, 0, len(items))
	for _, item := range items {
		obj, isObj := item.(map[string]any)
		if !isObj {
			continue
		}
		gens = append(gens, Normalize(obj))
	}
	return gens, nil
}

// NormalizeStats decodes GET /stats, unwrapping the data envelope.
func NormalizeStats(data []byte) (Stats, error) {
	v, err := decode(data)
	if err != nil {
		return Stats{}, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Stats{}, fmt.Errorf("stats: %w", ErrUnexpectedShape)
	}
	if inner, ok := obj["data"].(map[string]any); ok {
		obj = inner
	}

	s := Stats{
		TotalGenerations:      integer(obj["total_generations"]),
		SuccessfulGenerations: integer(obj["successful_generations"]),
		FailedGenerations:     integer(obj["failed_generations"]),
		SuccessRate:           number(obj["success_rate"]),
		AvgGenerationTime:     number(obj["avg_generation_time"]),
		AvgRealtimeFactor:     number(obj["avg_realtime_factor"]),
		TotalPlays:            integer(obj["total_plays"]),
		TotalDownloads:        integer(obj["total_downloads"]),
		TotalFavorites:        integer(obj["total_favorites"]),
		UniqueUsers:           integer(obj["unique_users"]),
		Message:               text(obj["message"]),
	}
	if s.SuccessRate == 0 && s.TotalGenerations > 0 {
		s.SuccessRate = round2(float64(s.SuccessfulGenerations) / float64(s.TotalGenerations) * 100)
	}
	if s.SuccessRate > 100 {
		s.SuccessRate = 100
	}
	return s, nil
}

func ParseDevice(s string) Device {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return DeviceUnknown
	case strings.HasPrefix(s, "cuda"), s == "gpu":
		return DeviceCUDA
	case strings.HasPrefix(s, "mps"), s == "metal":
		return DeviceMPS
	case s == "cpu":
		return DeviceCPU
	default:
		return DeviceUnknown
	}
}

// ParsePrecision falls back to float32, the backend's default.
func ParsePrecision(s string) Precision {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fp16", "float16", "half", "16":
		return PrecisionFloat16
	case "bf16", "bfloat16":
		return PrecisionBFloat16
	default:
		return PrecisionFloat32
	}
}

func ParseStatus(s string, hasAudio bool) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "success", "done":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	case "processing", "pending", "queued", "running":
		return StatusProcessing
	}
	if hasAudio {
		return StatusCompleted
	}
	return StatusProcessing
}

func canonicalize(raw map[string]any) map[string]any {
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if !isAlias(k) {
			fields[k] = v
		}
	}
	for _, a := range Aliases {
		v, ok := raw[a.name]
		if !ok || v == nil {
			continue
		}
		if existing, has := fields[a.canonical]; !has || existing == nil {
			fields[a.canonical] = v
		}
	}
	return fields
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// number returns a finite non-negative float or 0.
func number(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

// integer is number truncated to an int, saturating at math.MaxInt.
func integer(v any) int {
	f := number(v)
	if f >= float64(math.MaxInt) {
		return math.MaxInt
	}
	return int(f)
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func boolean(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "y":
			return true
		}
		return false
	default:
		return number(v) > 0
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func timestamp(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		// layouts without a zone are UTC, like Python's isoformat()
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
