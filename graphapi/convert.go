package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrUnsupportedFormat reports workflow metadata that is neither a graph nor
// a prompt mapping.
var ErrUnsupportedFormat = errors.New("unsupported workflow format")

type slotRef struct {
	nodeID int
	slot   int
}

// ConvertGraph flattens an editor workflow graph into the prompt mapping the
// execution API consumes. Linked inputs become [originID, originSlot] slot
// references; unlinked inputs consume widget values in declaration order.
func ConvertGraph(g *Graph) (Prompt, error) {
	linkLookup := make(map[slotRef]slotRef)
	for _, l := range g.Links {
		if l == nil {
			continue
		}
		linkLookup[slotRef{l.TargetID, l.TargetSlot}] = slotRef{l.OriginID, l.OriginSlot}
	}

	prompt := make(Prompt, len(g.Nodes))
	for _, node := range g.Nodes {
		classType := node.ClassType()
		if classType == "" {
			return nil, fmt.Errorf("node %d missing class/type", node.ID)
		}

		inputs := make(map[string]any)
		widgetIdx := 0
		for idx, in := range node.Inputs {
			name := in.Name
			if name == "" {
				name = fmt.Sprintf("input_%d", idx)
			}
			if origin, ok := linkLookup[slotRef{node.ID, idx}]; ok {
				inputs[name] = []any{strconv.Itoa(origin.nodeID), origin.slot}
			} else {
				if widgetIdx < len(node.WidgetValues) {
					inputs[name] = node.WidgetValues[widgetIdx]
				}
				widgetIdx++
			}
		}

		pn := &PromptNode{
			ClassType: classType,
			Inputs:    inputs,
		}
		if node.Title != "" {
			pn.Meta = &PromptNodeMeta{Title: node.Title}
		}
		prompt[strconv.Itoa(node.ID)] = pn
	}
	return prompt, nil
}

// PromptFromDocument interprets raw workflow metadata (as embedded in a PNG
// tag) and produces a prompt mapping. The payload may be a saved-prompt
// wrapper holding a "prompt" mapping, a wrapper holding a "workflow" graph,
// a bare graph, or a bare prompt mapping.
func PromptFromDocument(data []byte) (Prompt, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow metadata is not valid JSON: %w", err)
	}

	// Prefer a direct prompt mapping when the wrapper carries one.
	if raw, ok := doc["prompt"]; ok {
		var p Prompt
		if err := json.Unmarshal(raw, &p); err == nil && len(p) > 0 {
			return p, nil
		}
	}

	// Some embeds store the graph inside a wrapper.
	if _, hasNodes := doc["nodes"]; !hasNodes {
		if raw, ok := doc["workflow"]; ok {
			data = raw
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("workflow metadata is not valid JSON: %w", err)
			}
		}
	}

	if _, hasNodes := doc["nodes"]; hasNodes {
		var g Graph
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("decoding workflow graph: %w", err)
		}
		return ConvertGraph(&g)
	}

	// Fall back to reading the document itself as a prompt mapping.
	var p Prompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrUnsupportedFormat
	}
	if len(p) == 0 {
		return nil, ErrUnsupportedFormat
	}
	return p, nil
}
