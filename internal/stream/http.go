package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/reelpreview/internal/audio"
)

// Frames is the broadcaster type carrying the engine's mixed PCM.
type Frames = Broadcaster[[]int16]

// HTTPHandler serves the preview mix as a chunked MP3 stream. Each
// connection spawns an FFmpeg process to encode PCM to MP3 in real time.
type HTTPHandler struct {
	frames  *Frames
	bitrate int
	logger  *slog.Logger
}

// NewHTTPHandler creates an HTTP stream handler. bitrate is in kbps.
func NewHTTPHandler(frames *Frames, bitrate int, logger *slog.Logger) *HTTPHandler {
	if bitrate <= 0 {
		bitrate = 192
	}
	return &HTTPHandler{frames: frames, bitrate: bitrate, logger: logger}
}

// encoderArgs returns the FFmpeg arguments reading engine PCM on stdin and
// writing MP3 on stdout.
func (h *HTTPHandler) encoderArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(h.bitrate) + "k",
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", h.encoderArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.logger.Error("stdin pipe", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.logger.Error("stdout pipe", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.logger.Error("ffmpeg start", "error", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	listener := h.frames.Subscribe()
	defer h.frames.Unsubscribe(listener)

	h.logger.Info("mp3 listener connected", "listeners", h.frames.ListenerCount())
	defer h.logger.Info("mp3 listener disconnected")

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Warn("ffmpeg read", "error", err)
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
