// Package generation: the Generation record and the mapping from backend JSON onto it
package generation

import (
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Device string

const (
	DeviceCPU     Device = "CPU"
	DeviceCUDA    Device = "CUDA"
	DeviceMPS     Device = "MPS"
	DeviceUnknown Device = "Unknown"
)

type Precision string

const (
	PrecisionFloat32  Precision = "float32"
	PrecisionFloat16  Precision = "float16"
	PrecisionBFloat16 Precision = "bfloat16"
)

const (
	DefaultDuration   = 30.0  // seconds, matches the backend's request default
	DefaultSampleRate = 32000 // MusicGen output rate
)

// Generation is one music-generation job/result
type Generation struct {
	ID           int64  `json:"id"`
	GenerationID string `json:"generation_id"` // external correlation key
	Prompt       string `json:"prompt"`
	Status       Status `json:"status"`

	// Generation metadata
	Device         Device    `json:"device"`
	Precision      Precision `json:"precision"`
	GenerationTime float64   `json:"generation_time"` // seconds
	RealtimeFactor float64   `json:"realtime_factor"` // duration / generation_time
	ModelVersion   string    `json:"model_version,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`

	// Audio
	AudioURL   string  `json:"audio_url"` // may be relative to the API base
	FileSizeMB float64 `json:"file_size_mb"`
	Duration   float64 `json:"duration"` // seconds
	SampleRate int     `json:"sample_rate"`

	// Usage Stats
	PlayCount     int        `json:"play_count"`
	DownloadCount int        `json:"download_count"`
	IsFavorited   bool       `json:"is_favorited"`
	CreatedAt     *time.Time `json:"created_at"`
	LastPlayed    *time.Time `json:"last_played"` // nil = never played
}

func (g Generation) Playable() bool {
	return g.Status == StatusCompleted && g.AudioURL != ""
}

// Title is what lists and the player header show for a generation.
func (g Generation) Title() string {
	if g.Prompt != "" {
		return g.Prompt
	}
	if g.GenerationID != "" {
		return g.GenerationID
	}
	return "Untitled"
}

// Stats mirrors GET /stats
type Stats struct {
	TotalGenerations      int     `json:"total_generations"`
	SuccessfulGenerations int     `json:"successful_generations"`
	FailedGenerations     int     `json:"failed_generations"`
	SuccessRate           float64 `json:"success_rate"` // percent
	AvgGenerationTime     float64 `json:"avg_generation_time"`
	AvgRealtimeFactor     float64 `json:"avg_realtime_factor"`
	TotalPlays            int     `json:"total_plays"`
	TotalDownloads        int     `json:"total_downloads"`
	TotalFavorites        int     `json:"total_favorites"`
	UniqueUsers           int     `json:"unique_users"`
	Message               string  `json:"message,omitempty"`
}
