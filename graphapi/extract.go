package graphapi

import (
	"log/slog"
	"sort"
	"strconv"
)

// ExtractedText is one literal text pulled out of a text-encoder node.
type ExtractedText struct {
	ID    any    `json:"id"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Type  string `json:"type"`
}

// ExtractTexts walks a workflow document and returns the literal text of
// every recognized text-encoder node, in node order. The document may be an
// editor graph (a "nodes" list) or a flat prompt mapping. Malformed node
// entries are logged and skipped; extraction never aborts on a single bad
// node.
func ExtractTexts(doc map[string]any) []ExtractedText {
	texts := make([]ExtractedText, 0)
	if doc == nil {
		return texts
	}

	if rawNodes, ok := doc["nodes"]; ok {
		nodes, ok := rawNodes.([]any)
		if !ok {
			slog.Warn("workflow nodes field is not a list")
			return texts
		}
		for _, raw := range nodes {
			node, ok := raw.(map[string]any)
			if !ok {
				slog.Warn("skipping unexpected node entry", "node", raw)
				continue
			}
			if entry, ok := extractNodeText(node, node["id"]); ok {
				texts = append(texts, entry)
			}
		}
		return texts
	}

	// Prompt mappings key nodes by id; walk them in id order so output is
	// deterministic.
	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		node, ok := doc[id].(map[string]any)
		if !ok {
			slog.Warn("skipping unexpected node entry", "id", id)
			continue
		}
		if entry, ok := extractNodeText(node, id); ok {
			texts = append(texts, entry)
		}
	}
	return texts
}

func extractNodeText(node map[string]any, id any) (ExtractedText, bool) {
	classType := nodeClassType(node)
	if !ClassTextEncoders[classType] {
		return ExtractedText{}, false
	}

	text, ok := nodeInputText(node)
	if !ok {
		// Fall back to the first widget value.
		if wvals, wok := node["widgets_values"].([]any); wok && len(wvals) > 0 {
			text, ok = wvals[0].(string)
		}
	}
	if !ok {
		slog.Warn("text encoder node has no literal text", "id", id)
		return ExtractedText{}, false
	}

	return ExtractedText{
		ID:    id,
		Title: nodeTitle(node),
		Text:  text,
		Type:  classType,
	}, true
}

func nodeClassType(node map[string]any) string {
	if ct, ok := node["class_type"].(string); ok && ct != "" {
		return ct
	}
	ct, _ := node["type"].(string)
	return ct
}

func nodeInputText(node map[string]any) (string, bool) {
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return "", false
	}
	text, ok := inputs["text"].(string)
	return text, ok
}

func nodeTitle(node map[string]any) string {
	if meta, ok := node["_meta"].(map[string]any); ok {
		if t, ok := meta["title"].(string); ok && t != "" {
			return t
		}
	}
	t, _ := node["title"].(string)
	return t
}
