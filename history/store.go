package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// ErrInvalidName reports a prompt filename outside the permitted shape.
var ErrInvalidName = errors.New("invalid prompt filename")

var safeNamePattern = regexp.MustCompile(`^[0-9A-Za-z._-]+\.json$`)

// SafeName reports whether name is an acceptable prompt filename. Anything
// else, including traversal attempts, is rejected before touching the
// filesystem.
func SafeName(name string) bool {
	return safeNamePattern.MatchString(name)
}

// Entry is one row in the prompt-file listing. Modified is the file mtime in
// epoch seconds, the same form the output-image listing uses.
type Entry struct {
	Name      string  `json:"name"`
	Modified  float64 `json:"modified"`
	SavedAt   string  `json:"saved_at,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	ClipOnly  bool    `json:"clip_only"`
	ClipCount int     `json:"clip_count"`
	Error     string  `json:"error,omitempty"`
}

// List returns an entry per saved prompt file, newest first. Files that
// cannot be parsed are reported as unreadable instead of being dropped from
// the listing.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, err
	}

	type fileInfo struct {
		name  string
		mtime time.Time
	}
	files := make([]fileInfo, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			slog.Warn("failed to stat prompt file", "name", de.Name(), "error", err)
			continue
		}
		files = append(files, fileInfo{name: de.Name(), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		entry := Entry{
			Name:     f.name,
			Modified: float64(f.mtime.UnixNano()) / float64(time.Second),
		}
		var payload SavedPrompt
		data, err := os.ReadFile(filepath.Join(s.Dir, f.name))
		if err == nil {
			err = json.Unmarshal(data, &payload)
		}
		if err != nil {
			slog.Warn("failed reading prompt file", "name", f.name, "error", err)
			entry.Error = "unreadable"
		} else {
			entry.SavedAt = payload.SavedAt
			entry.Mode = payload.Mode
			entry.ClipOnly = payload.ClipOnly
			entry.ClipCount = len(payload.ClipTexts)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Read loads one saved prompt by filename. The name must pass SafeName; a
// missing file surfaces as os.ErrNotExist.
func (s *Store) Read(name string) (map[string]any, error) {
	if !SafeName(name) {
		return nil, ErrInvalidName
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parsing prompt file %s: %w", name, err)
	}
	return payload, nil
}
