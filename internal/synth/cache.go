package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Key identifies narration by voice and caption text. Captions are NFC
// normalized so visually identical text maps to the same clips.
func Key(voiceID string, parts []string) string {
	h := sha256.New()
	h.Write([]byte(voiceID))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(norm.NFC.String(strings.TrimSpace(p))))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Cache holds synthesized narration per scene, keyed by the scene's caption
// and voice so an edited caption is resynthesized.
type Cache struct {
	mu      sync.RWMutex
	entries map[int]cacheEntry
}

type cacheEntry struct {
	key   string
	parts []Part
}

func NewCache() *Cache {
	return &Cache{entries: make(map[int]cacheEntry)}
}

// Get returns the cached parts for a scene if they were produced for key.
func (c *Cache) Get(scene int, key string) ([]Part, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[scene]
	if !ok || e.key != key {
		return nil, false
	}
	return append([]Part(nil), e.parts...), true
}

// Complete reports whether every cached part has content and a positive
// duration.
func (c *Cache) Complete(scene int, key string, partCount int) bool {
	parts, ok := c.Get(scene, key)
	if !ok || len(parts) != partCount {
		return false
	}
	for _, p := range parts {
		if p.ContentRef == "" || p.Duration <= 0 {
			return false
		}
	}
	return true
}

func (c *Cache) Put(scene int, key string, parts []Part) {
	c.mu.Lock()
	c.entries[scene] = cacheEntry{key: key, parts: append([]Part(nil), parts...)}
	c.mu.Unlock()
}

// Invalidate drops a scene's narration.
func (c *Cache) Invalidate(scene int) {
	c.mu.Lock()
	delete(c.entries, scene)
	c.mu.Unlock()
}

// Refs returns every content ref held by the cache.
func (c *Cache) Refs() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs := make(map[string]struct{})
	for _, e := range c.entries {
		for _, p := range e.parts {
			if p.ContentRef != "" {
				refs[p.ContentRef] = struct{}{}
			}
		}
	}
	return refs
}
