package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/satindergrewal/reelpreview/internal/player"
	"github.com/satindergrewal/reelpreview/internal/segment"
	"github.com/satindergrewal/reelpreview/internal/stream"
)

// Controller is the player surface the API drives.
type Controller interface {
	Status() player.Status
	Segments() segment.Table
	Play(from float64) error
	Pause()
	Resume() error
	Stop()
	Seek(at float64) error
	PreviewScenes(scenes []int, at float64) error
	RegenerateScene(ctx context.Context, sceneIndex int) error
	SetVoice(voiceID string)
	SetSpeed(speed float64)
	SoundCheck() error
	Subscribe() *stream.Listener[player.Event]
	Unsubscribe(l *stream.Listener[player.Event])
}

// Listeners counts connected audio clients.
type Listeners interface {
	ListenerCount() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Player    Controller
	Audio     http.Handler // MP3 over HTTP, optional
	WebRTC    http.Handler // SDP offer/answer, optional
	Listeners Listeners
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     NewRouter(cfg),
			ReadTimeout: 15 * time.Second,
			// audio streams and the event stream are long-lived
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
