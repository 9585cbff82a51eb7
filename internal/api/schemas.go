package api

import (
	"github.com/satindergrewal/reelpreview/internal/player"
	"github.com/satindergrewal/reelpreview/internal/segment"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	player.Status
	Listeners int `json:"listeners"`
}

type SegmentsResponse struct {
	Segments segment.Table `json:"segments"`
	Duration float64       `json:"duration"`
}

type PlayRequest struct {
	From float64 `json:"from"`
}

type SeekRequest struct {
	Time float64 `json:"time"`
}

type PreviewRequest struct {
	Scenes []int   `json:"scenes"`
	At     float64 `json:"at"`
}

type SettingsRequest struct {
	VoiceID *string  `json:"voice_id"`
	Speed   *float64 `json:"speed"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
