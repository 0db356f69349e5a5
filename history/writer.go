package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultPrefix names files whose requested prefix sanitized away entirely.
const DefaultPrefix = "prompt"

// ClipSuffix marks files saved in clip-only mode.
const ClipSuffix = "_CLIP"

const timestampLayout = "20060102-150405"

var disallowedChars = regexp.MustCompile(`[^0-9A-Za-z._-]`)

// SanitizePrefix maps a requested filename prefix onto the permitted
// alphabet: every disallowed character becomes an underscore, and a prefix
// with no permitted characters at all falls back to DefaultPrefix.
func SanitizePrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	safe := disallowedChars.ReplaceAllString(trimmed, "_")
	if !strings.ContainsFunc(trimmed, isPermitted) {
		return DefaultPrefix
	}
	return safe
}

func isPermitted(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}

// Store writes and reads SavedPrompt files under a single prompts directory.
// Now is the clock used for timestamps and defaults to time.Now; tests
// substitute a fixed clock.
type Store struct {
	Dir string
	Now func() time.Time
}

// NewStore returns a Store over the given prompts directory.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, Now: time.Now}
}

func (s *Store) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// nextPath probes for a collision-free filename, appending an incrementing
// counter when the timestamped name is taken. Not atomic across concurrent
// writers; each write is attributed to a single local actor per call.
func (s *Store) nextPath(prefix, timestamp, suffix string) string {
	path := filepath.Join(s.Dir, fmt.Sprintf("%s-%s%s.json", prefix, timestamp, suffix))
	counter := 1
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		counter++
		path = filepath.Join(s.Dir, fmt.Sprintf("%s-%s-%d%s.json", prefix, timestamp, counter, suffix))
	}
}

// Write persists a payload under a sanitized, collision-free name and
// returns the path it was written to.
func (s *Store) Write(payload *SavedPrompt, prefix string, clipSuffix bool) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating prompts dir: %w", err)
	}

	suffix := ""
	if clipSuffix {
		suffix = ClipSuffix
	}
	path := s.nextPath(SanitizePrefix(prefix), s.clock().Format(timestampLayout), suffix)

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Save builds a payload and writes it. A clip-only save with no extractable
// text returns ErrNoClipTexts and writes nothing.
func (s *Store) Save(prompt, workflow map[string]any, mode string, clipOnly bool, prefix string, clipSuffix bool) (string, error) {
	payload := BuildPayload(prompt, workflow, mode, clipOnly, s.clock())
	if payload == nil {
		return "", ErrNoClipTexts
	}
	return s.Write(payload, prefix, clipSuffix)
}
