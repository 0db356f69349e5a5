package plugin

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/promptvault/comfyhistory/history"
)

func (p *Plugin) registerRoutes(router Router) {
	router.Handle(http.MethodGet, "/history/output_images", p.handleListOutputImages)
	router.Handle(http.MethodGet, "/history/output_images/{path...}", p.handleGetOutputImage)
	router.Handle(http.MethodGet, "/history/prompts", p.handleListPrompts)
	router.Handle(http.MethodGet, "/history/prompts/{name}", p.handleGetPrompt)
	router.Handle(http.MethodPost, "/history/save_now", p.handleSaveNow)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// outputImage is one row in the output-image listing.
type outputImage struct {
	Name  string  `json:"name"`
	Path  string  `json:"path"`
	Size  int64   `json:"size"`
	MTime float64 `json:"mtime"`
}

func (p *Plugin) handleListOutputImages(w http.ResponseWriter, r *http.Request) {
	images := make([]outputImage, 0)
	err := filepath.WalkDir(p.outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			p.logger.Warn("failed walking output dir", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".png") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			p.logger.Warn("failed to stat output image", "path", path, "error", err)
			return nil
		}
		rel, err := filepath.Rel(p.outputDir, path)
		if err != nil {
			return nil
		}
		images = append(images, outputImage{
			Name:  d.Name(),
			Path:  filepath.ToSlash(rel),
			Size:  info.Size(),
			MTime: float64(info.ModTime().UnixNano()) / float64(time.Second),
		})
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusInternalServerError, "failed to list output images")
		return
	}
	sort.Slice(images, func(i, j int) bool { return images[i].MTime > images[j].MTime })
	writeJSON(w, http.StatusOK, images)
}

// containedIn reports whether path stays within base.
func containedIn(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (p *Plugin) handleGetOutputImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("path")
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	base, err := filepath.Abs(p.outputDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "output directory unavailable")
		return
	}
	base, err = filepath.EvalSymlinks(base)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	resolved := filepath.Clean(filepath.Join(base, filepath.FromSlash(name)))
	if !containedIn(base, resolved) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	// Resolve symlinks so a link planted inside the output dir cannot serve
	// files outside it.
	resolved, err = filepath.EvalSymlinks(resolved)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !containedIn(base, resolved) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	data, err := os.ReadFile(resolved)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		p.logger.Error("failed to read output image", "path", resolved, "error", err)
		writeError(w, http.StatusBadRequest, "failed to read output image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (p *Plugin) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	entries, err := p.store.List()
	if err != nil {
		p.logger.Error("failed to list prompt files", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list prompts")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (p *Plugin) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	payload, err := p.store.Read(name)
	switch {
	case errors.Is(err, history.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid filename")
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "not found")
	case err != nil:
		p.logger.Error("failed to read prompt file", "name", name, "error", err)
		writeError(w, http.StatusBadRequest, "failed to read prompt file")
	default:
		writeJSON(w, http.StatusOK, payload)
	}
}

// saveNowRequest is the POST /history/save_now body.
type saveNowRequest struct {
	Workflow   map[string]any `json:"workflow"`
	Prompt     map[string]any `json:"prompt"`
	ClipOnly   bool           `json:"clip_only"`
	FilePrefix string         `json:"file_prefix"`
	ClipSuffix bool           `json:"clip_suffix"`
}

func (p *Plugin) handleSaveNow(w http.ResponseWriter, r *http.Request) {
	var req saveNowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		p.logger.Warn("invalid save_now body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.FilePrefix == "" {
		req.FilePrefix = history.DefaultPrefix
	}

	path, err := p.store.Save(req.Prompt, req.Workflow, history.ModeManual, req.ClipOnly, req.FilePrefix, req.ClipSuffix)
	if errors.Is(err, history.ErrNoClipTexts) {
		writeError(w, http.StatusBadRequest, "no CLIP text inputs found to save")
		return
	}
	if err != nil {
		p.logger.Error("failed to save prompt", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save prompt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"saved": filepath.Base(path),
		"path":  path,
	})
}
