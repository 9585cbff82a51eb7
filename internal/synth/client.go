// Package synth talks to the narration synthesis service and caches what it
// returns.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/satindergrewal/reelpreview/internal/audio"
	"github.com/satindergrewal/reelpreview/internal/loader"
)

// Request asks for narration of one scene, one clip per caption part.
type Request struct {
	SceneIndex int      `json:"scene_index"`
	Parts      []string `json:"parts"`
	VoiceID    string   `json:"voice_id"`
	Force      bool     `json:"force,omitempty"`
}

// Part is one synthesized narration clip.
type Part struct {
	ContentRef string  `json:"content_ref"`
	Duration   float64 `json:"duration"`
}

// Client communicates with the synthesis REST API. Audio it returns is held
// in the object store as mem: refs.
type Client struct {
	apiURL       string
	apiKey       string
	http         *http.Client
	objects      *loader.ObjectStore
	decode       loader.DecodeFunc
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewClient creates a synthesis API client.
func NewClient(apiURL, apiKey string, timeout time.Duration, objects *loader.ObjectStore, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:       strings.TrimRight(apiURL, "/"),
		apiKey:       apiKey,
		http:         &http.Client{Timeout: timeout},
		objects:      objects,
		decode:       audio.Decode,
		pollInterval: 500 * time.Millisecond,
		logger:       logger,
	}
}

type submitRequest struct {
	Parts   []string `json:"parts"`
	VoiceID string   `json:"voice_id"`
	Format  string   `json:"audio_format"`
}

type releaseResp struct {
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
	Code  int    `json:"code"`
	Error string `json:"error"`
}

type queryResp struct {
	Data []taskResult `json:"data"`
	Code int          `json:"code"`
}

type taskResult struct {
	TaskID string       `json:"task_id"`
	Status int          `json:"status"` // 0=running, 1=success, 2=failed
	Result []resultItem `json:"result"`
	Error  string       `json:"error"`
}

type resultItem struct {
	File     string  `json:"file"`
	Duration float64 `json:"duration"`
}

// Ping checks that the API answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// EnsureSceneNarration synthesizes every part of the scene and returns one
// clip per part, in order.
func (c *Client) EnsureSceneNarration(ctx context.Context, req Request) ([]Part, error) {
	if len(req.Parts) == 0 {
		return nil, nil
	}
	taskID, err := c.submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scene %d: %w", req.SceneIndex, err)
	}
	items, err := c.pollUntilDone(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("scene %d: %w", req.SceneIndex, err)
	}
	if len(items) != len(req.Parts) {
		return nil, fmt.Errorf("scene %d: got %d clips for %d parts", req.SceneIndex, len(items), len(req.Parts))
	}

	parts := make([]Part, len(items))
	for i, item := range items {
		p, err := c.store(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("scene %d part %d: %w", req.SceneIndex, i, err)
		}
		parts[i] = p
	}
	c.logger.Debug("narration ready", "scene", req.SceneIndex, "parts", len(parts), "task", taskID)
	return parts, nil
}

func (c *Client) submit(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(submitRequest{Parts: req.Parts, VoiceID: req.VoiceID, Format: "wav"})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var result releaseResp
	if err := c.post(ctx, "/release_task", body, &result); err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("API error (code %d): %s", result.Code, result.Error)
	}
	return result.Data.TaskID, nil
}

func (c *Client) pollUntilDone(ctx context.Context, taskID string) ([]resultItem, error) {
	body, _ := json.Marshal(map[string][]string{"task_id_list": {taskID}})

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var result queryResp
		if err := c.post(ctx, "/query_result", body, &result); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("poll failed, retrying", "task", taskID, "error", err)
		} else if len(result.Data) > 0 {
			task := result.Data[0]
			switch task.Status {
			case 1:
				return task.Result, nil
			case 2:
				return nil, fmt.Errorf("synthesis failed for task %s: %s", taskID, task.Error)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// store downloads one clip into the object store and measures it when the
// service did not report a duration.
func (c *Client) store(ctx context.Context, item resultItem) (Part, error) {
	if item.File == "" {
		return Part{}, fmt.Errorf("no audio file in result")
	}
	data, err := c.download(ctx, item.File)
	if err != nil {
		return Part{}, err
	}

	dur := item.Duration
	if dur <= 0 {
		clip, err := c.decode(ctx, data)
		if err != nil {
			return Part{}, fmt.Errorf("measure clip: %w", err)
		}
		dur = clip.Seconds()
	}
	return Part{ContentRef: c.objects.Put(data), Duration: dur}, nil
}

// download fetches a result file. Relative references resolve against the
// API base URL.
func (c *Client) download(ctx context.Context, fileRef string) ([]byte, error) {
	dlURL := fileRef
	if u, err := url.Parse(fileRef); err != nil || !u.IsAbs() {
		dlURL = c.apiURL + "/" + strings.TrimLeft(fileRef, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dlURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}
