package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/reelpreview/internal/api"
	"github.com/satindergrewal/reelpreview/internal/audio"
	"github.com/satindergrewal/reelpreview/internal/loader"
	"github.com/satindergrewal/reelpreview/internal/logging"
	"github.com/satindergrewal/reelpreview/internal/player"
	"github.com/satindergrewal/reelpreview/internal/render"
	"github.com/satindergrewal/reelpreview/internal/stream"
	"github.com/satindergrewal/reelpreview/internal/synth"
	"github.com/satindergrewal/reelpreview/internal/timeline"
	"github.com/satindergrewal/reelpreview/internal/track"
)

const (
	mp3BitrateKbps  = 192
	opusBitrateBps  = 128000
	fetchTimeout    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the preview engine and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cc)
		},
	}
}

func runServe(ctx context.Context, cc *commandContext) error {
	cfg, logger := cc.cfg, cc.logger

	lock, err := cc.lockDataDir()
	if err != nil {
		return err
	}
	defer lock.Unlock()

	store, err := cc.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	// Project settings fill in what the config leaves unset.
	voiceID := cfg.Playback.VoiceID
	if voiceID == "" {
		voiceID, _ = store.Setting(ctx, timeline.SettingVoiceID)
	}
	musicRef := cfg.Playback.MusicRef
	if musicRef == "" {
		musicRef, _ = store.Setting(ctx, timeline.SettingMusicRef)
	}

	// Audio engine: mixes every scheduled voice onto one 20ms frame clock.
	engine := audio.NewEngine()
	go engine.Run(ctx)

	// Broadcaster: fan-out PCM frames to all listeners
	frames := stream.NewBroadcaster[[]int16](stream.FrameBuffer)
	go frames.Run(ctx, engine.Frames())

	objects := loader.NewObjectStore()
	ld := loader.New(
		loader.NewSourceFetcher(objects, fetchTimeout),
		audio.Decode,
		cfg.Playback.PreloadWorkers,
		logging.WithComponent(logger, "loader"),
	)

	trackCfg := track.DefaultConfig()
	trackCfg.LookaheadWindow = cfg.Playback.Lookahead
	tr := track.New(engine, ld, trackCfg, logging.WithComponent(logger, "track"))
	defer tr.Close()

	narrator := synth.NewClient(cfg.Synthesis.APIURL, cfg.Synthesis.APIKey, cfg.SynthesisTimeout(), objects,
		logging.WithComponent(logger, "synth"))
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := narrator.Ping(pingCtx); err != nil {
		logger.Warn("synthesis service not reachable, narration will fail until it is", "url", cfg.Synthesis.APIURL, "error", err)
	}
	pingCancel()

	var p *player.Player
	feed := render.NewFeed(func(cmd render.Command) { p.PublishRender(cmd) }, logging.WithComponent(logger, "render"))
	p = player.New(player.Deps{
		Track:    tr,
		Narrator: narrator,
		Renderer: feed,
		Store:    store,
		Objects:  objects,
	}, player.Config{
		VoiceID:           voiceID,
		Speed:             cfg.Playback.Speed,
		PartDelimiter:     cfg.Playback.PartDelimiter,
		MusicRef:          musicRef,
		MusicVolume:       cfg.Playback.MusicVolume,
		MusicFadeOut:      cfg.Playback.MusicFadeOut,
		BatchSize:         cfg.Synthesis.BatchSize,
		BatchDelay:        cfg.BatchDelay(),
		ProgressInterval:  cfg.ProgressInterval(),
		DurationTolerance: cfg.Playback.DurationTolerance,
	}, logging.WithComponent(logger, "player"))

	webrtcHandler := stream.NewWebRTCHandler(frames, opusBitrateBps, logging.WithComponent(logger, "webrtc"))
	defer webrtcHandler.Close()

	srv := api.NewServer(api.ServerConfig{
		Port:      cfg.Server.Port,
		Player:    p,
		Audio:     stream.NewHTTPHandler(frames, mp3BitrateKbps, logging.WithComponent(logger, "stream")),
		WebRTC:    webrtcHandler,
		Listeners: frames,
		Logger:    logging.WithComponent(logger, "api"),
		StartTime: time.Now(),
	})

	go func() {
		<-ctx.Done()
		p.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}()

	logger.Info("reelpreview live", "addr", srv.Addr(), "data_dir", cfg.Server.DataDir, "voice", voiceID)
	return srv.Start()
}
