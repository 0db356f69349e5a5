package plugin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/promptvault/comfyhistory/history"
	"github.com/promptvault/comfyhistory/pnginfo"
)

// PromptHistorySaver saves the current prompt/workflow into the prompts
// directory whenever a generation reaches it.
type PromptHistorySaver struct {
	store  *history.Store
	logger *slog.Logger
}

// SaveInput mirrors the node's widget and hidden inputs as supplied by the
// host's graph executor.
type SaveInput struct {
	AutoSave         bool
	FilePrefix       string
	SaveClipTextOnly bool
	SaveNow          bool
	Prompt           map[string]any
	ExtraPNGInfo     map[string]any
}

// Save persists the prompt when auto-save is on or the save button was
// pressed, and returns the UI message to display on the node.
func (n *PromptHistorySaver) Save(in SaveInput) (string, error) {
	if !in.AutoSave && !in.SaveNow {
		return "History not saved (auto-save disabled, manual save not triggered).", nil
	}

	var workflow map[string]any
	if wf, ok := in.ExtraPNGInfo["workflow"].(map[string]any); ok {
		workflow = wf
	}
	if workflow == nil {
		if wf, ok := in.Prompt["workflow"].(map[string]any); ok {
			workflow = wf
		}
	}
	if in.Prompt == nil && workflow == nil {
		return "No prompt data available to save.", nil
	}

	mode := history.ModeAuto
	if in.SaveNow {
		mode = history.ModeManual
	}
	path, err := n.store.Save(in.Prompt, workflow, mode, in.SaveClipTextOnly, in.FilePrefix, false)
	if err == history.ErrNoClipTexts {
		return "No CLIP text inputs found to save.", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved prompt to %s", path), nil
}

// PromptWorkflowEmbedder saves images with the current workflow embedded in
// PNG metadata.
type PromptWorkflowEmbedder struct {
	outputDir string
	logger    *slog.Logger
}

// ImageBatch is one batch of encoded PNG images plus the metadata the host
// hands along with them.
type ImageBatch struct {
	Images         [][]byte
	FilenamePrefix string
	Prompt         map[string]any
	ExtraPNGInfo   map[string]any
}

// SavedImage describes one written file, in the shape the host UI consumes.
type SavedImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

const batchNumPlaceholder = "%batch_num%"

var counterPattern = regexp.MustCompile(`_(\d{5})_\.png$`)

// SaveImages writes each image of the batch with the prompt, workflow, and
// any other host-supplied metadata embedded as tEXt tags.
func (n *PromptWorkflowEmbedder) SaveImages(batch ImageBatch) ([]SavedImage, error) {
	if err := os.MkdirAll(n.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	tags, err := n.metadata(batch.Prompt, batch.ExtraPNGInfo)
	if err != nil {
		return nil, err
	}

	counter := n.nextCounter(batch.FilenamePrefix)
	results := make([]SavedImage, 0, len(batch.Images))
	for batchNum, img := range batch.Images {
		tagged, err := pnginfo.EmbedTags(img, tags)
		if err != nil {
			return results, fmt.Errorf("embedding metadata in batch image %d: %w", batchNum, err)
		}

		// Substitute the batch number before sanitizing so the placeholder's
		// percent signs never reach the sanitizer.
		withBatchNum := strings.ReplaceAll(batch.FilenamePrefix, batchNumPlaceholder, fmt.Sprintf("%d", batchNum))
		file := fmt.Sprintf("%s_%05d_.png", history.SanitizePrefix(withBatchNum), counter)
		if err := os.WriteFile(filepath.Join(n.outputDir, file), tagged, 0o644); err != nil {
			return results, err
		}
		results = append(results, SavedImage{Filename: file, Type: "output"})
		counter++
	}
	return results, nil
}

// metadata builds the tag set: the prompt mapping, the workflow (unless the
// host already supplies one under extra_pnginfo), and every other
// host-supplied key, each JSON-encoded.
func (n *PromptWorkflowEmbedder) metadata(prompt, extra map[string]any) (map[string]string, error) {
	tags := make(map[string]string)

	var workflow any
	if wf, ok := extra["workflow"]; ok {
		workflow = wf
	} else if wf, ok := prompt["workflow"]; ok {
		workflow = wf
	}

	if prompt != nil {
		data, err := json.Marshal(prompt)
		if err != nil {
			return nil, fmt.Errorf("serializing prompt: %w", err)
		}
		tags["prompt"] = string(data)
	}
	if workflow != nil {
		if _, fromExtra := extra["workflow"]; !fromExtra {
			data, err := json.Marshal(workflow)
			if err != nil {
				return nil, fmt.Errorf("serializing workflow: %w", err)
			}
			tags["workflow"] = string(data)
		}
	}
	for k, v := range extra {
		data, err := json.Marshal(v)
		if err != nil {
			n.logger.Warn("failed to serialize extra metadata key", "key", k, "error", err)
			continue
		}
		tags[k] = string(data)
	}
	return tags, nil
}

// nextCounter scans existing output files for the prefix and continues the
// numbering after the highest counter found.
func (n *PromptWorkflowEmbedder) nextCounter(prefix string) int {
	highest := 0
	dirents, err := os.ReadDir(n.outputDir)
	if err != nil {
		return 1
	}
	// Match on the part of the prefix before any batch-number placeholder.
	if i := strings.Index(prefix, batchNumPlaceholder); i >= 0 {
		prefix = prefix[:i]
	}
	base := history.SanitizePrefix(prefix)
	for _, de := range dirents {
		name := de.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}
		m := counterPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		var c int
		fmt.Sscanf(m[1], "%d", &c)
		if c > highest {
			highest = c
		}
	}
	return highest + 1
}

// PromptWorkflowLoader reads workflow metadata back out of a PNG saved by
// the embedder.
type PromptWorkflowLoader struct{}

// Load returns the requested metadata payload ("workflow" or "prompt") of a
// PNG, pretty-printed when it holds valid JSON.
func (n *PromptWorkflowLoader) Load(path, which string) (string, error) {
	tags, err := pnginfo.ReadTagsFromFile(path)
	if err != nil {
		return "", err
	}
	return pnginfo.SelectPayload(tags, which)
}
