package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Project setting keys.
const (
	SettingName     = "name"
	SettingVoiceID  = "voice_id"
	SettingMusicRef = "music_ref"
)

// Project is the import format: a named scene list with its narration voice
// and music bed.
type Project struct {
	Name     string  `json:"name"`
	VoiceID  string  `json:"voice_id,omitempty"`
	MusicRef string  `json:"music_ref,omitempty"`
	Scenes   []Scene `json:"scenes"`
}

// DecodeProject reads a project from JSON and validates its scenes.
func DecodeProject(r io.Reader) (*Project, error) {
	var p Project
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	for i, sc := range p.Scenes {
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("scene %d: %w", i, err)
		}
	}
	return &p, nil
}

// Import writes p into the store, replacing any existing timeline.
func (s *SQLiteStore) Import(ctx context.Context, p *Project) error {
	if err := s.ReplaceScenes(ctx, p.Scenes); err != nil {
		return err
	}
	settings := map[string]string{
		SettingName:     p.Name,
		SettingVoiceID:  p.VoiceID,
		SettingMusicRef: p.MusicRef,
	}
	for k, v := range settings {
		if err := s.SetSetting(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
