package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusHandler(cfg))
		r.Get("/segments", segmentsHandler(cfg))
		r.Get("/events", eventsHandler(cfg))
		r.Post("/play", playHandler(cfg))
		r.Post("/pause", pauseHandler(cfg))
		r.Post("/resume", resumeHandler(cfg))
		r.Post("/stop", stopHandler(cfg))
		r.Post("/seek", seekHandler(cfg))
		r.Post("/preview", previewHandler(cfg))
		r.Post("/settings", settingsHandler(cfg))
		r.Post("/soundcheck", soundCheckHandler(cfg))
		r.Post("/scenes/{index}/regenerate", regenerateHandler(cfg))
	})

	if cfg.Audio != nil {
		r.Handle("/stream", cfg.Audio)
	}
	if cfg.WebRTC != nil {
		r.Handle("/offer", cfg.WebRTC)
	}

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{Status: cfg.Player.Status()}
		if cfg.Listeners != nil {
			resp.Listeners = cfg.Listeners.ListenerCount()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func segmentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		table := cfg.Player.Segments()
		WriteJSON(w, http.StatusOK, SegmentsResponse{Segments: table, Duration: table.End()})
	}
}

func playHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlayRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		if req.From < 0 {
			WriteError(w, http.StatusBadRequest, "from must not be negative", "INVALID_REQUEST")
			return
		}
		if err := cfg.Player.Play(req.From); err != nil {
			writePlayerError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, cfg.Player.Status())
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Player.Pause()
		WriteJSON(w, http.StatusOK, cfg.Player.Status())
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Player.Resume(); err != nil {
			writePlayerError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, cfg.Player.Status())
	}
}

func stopHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Player.Stop()
		WriteJSON(w, http.StatusOK, cfg.Player.Status())
	}
}

func soundCheckHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Player.SoundCheck(); err != nil {
			writePlayerError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, cfg.Player.Status())
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
			return
		}
		if err := cfg.Player.Seek(req.Time); err != nil {
			writePlayerError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Player.Status())
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PreviewRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		if err := cfg.Player.PreviewScenes(req.Scenes, req.At); err != nil {
			writePlayerError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, cfg.Player.Status())
	}
}

func settingsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
			return
		}
		if req.Speed != nil && (*req.Speed < 0.25 || *req.Speed > 4) {
			WriteError(w, http.StatusBadRequest, "speed must be 0.25-4", "INVALID_REQUEST")
			return
		}
		if req.VoiceID != nil {
			cfg.Player.SetVoice(*req.VoiceID)
		}
		if req.Speed != nil {
			cfg.Player.SetSpeed(*req.Speed)
		}
		WriteJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

func regenerateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "scene index must be an integer", "INVALID_REQUEST")
			return
		}
		if err := cfg.Player.RegenerateScene(r.Context(), idx); err != nil {
			writePlayerError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

// eventsHandler streams player events as server-sent events until the
// client goes away.
func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, "streaming not supported", "INTERNAL_ERROR")
			return
		}

		l := cfg.Player.Subscribe()
		defer cfg.Player.Unsubscribe(l)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-l.Done():
				return
			case e := <-l.C:
				data, err := json.Marshal(e)
				if err != nil {
					cfg.Logger.Warn("event encode failed", "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// decodeOptional decodes a JSON body when one is present. It writes the
// error response itself and reports whether the handler should continue.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return false
	}
	return true
}
