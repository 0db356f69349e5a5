// Package history persists SavedPrompt records into a prompts directory and
// reads them back for the HTTP listing endpoints. Records are written once
// and never mutated; a record's identity is its filename.
package history

import (
	"errors"
	"time"

	"github.com/promptvault/comfyhistory/graphapi"
)

// Save modes recorded on a payload.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

// ErrNoClipTexts signals a clip-only save with nothing to store; no file is
// written.
var ErrNoClipTexts = errors.New("no CLIP text inputs found to save")

// SavedPrompt is the record written for each saved generation.
type SavedPrompt struct {
	SavedAt   string                   `json:"saved_at"`
	Mode      string                   `json:"mode"`
	Prompt    map[string]any           `json:"prompt,omitempty"`
	Workflow  map[string]any           `json:"workflow,omitempty"`
	ClipTexts []graphapi.ExtractedText `json:"clip_texts"`
	ClipOnly  bool                     `json:"clip_only,omitempty"`
}

// BuildPayload assembles a SavedPrompt from the host-supplied prompt mapping
// and workflow graph, both treated as opaque. Text extraction prefers the
// workflow. In clip-only mode the graph and mapping are dropped, and a nil
// payload is returned when no text was extractable: the caller must treat
// that as a no-op rather than write an empty record.
func BuildPayload(prompt, workflow map[string]any, mode string, clipOnly bool, now time.Time) *SavedPrompt {
	payload := &SavedPrompt{
		SavedAt: now.Format(time.RFC3339),
		Mode:    mode,
	}
	if !clipOnly {
		payload.Prompt = prompt
		payload.Workflow = workflow
	}

	source := workflow
	if source == nil {
		source = prompt
	}
	payload.ClipTexts = graphapi.ExtractTexts(source)

	if clipOnly {
		payload.ClipOnly = true
		if len(payload.ClipTexts) == 0 {
			return nil
		}
	}
	return payload
}
