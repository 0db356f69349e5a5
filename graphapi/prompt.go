package graphapi

import (
	"math/rand"
	"sort"
	"strconv"
)

// PromptNode is a single node in the flattened mapping the ComfyUI execution
// API consumes. Input values are either literals or 2-element slot references
// of the form [originNodeID, originSlot].
type PromptNode struct {
	ClassType string          `json:"class_type"`
	Inputs    map[string]any  `json:"inputs"`
	Meta      *PromptNodeMeta `json:"_meta,omitempty"`
}

// PromptNodeMeta carries editor-side annotations the API ignores.
type PromptNodeMeta struct {
	Title string `json:"title,omitempty"`
}

// Prompt is the node-id-to-definition mapping submitted to the execution
// API.
type Prompt map[string]*PromptNode

// Kind classifies the prompt node's class type.
func (n *PromptNode) Kind() NodeKind {
	return KindOf(n.ClassType)
}

// Title returns the node's editor title, if any.
func (n *PromptNode) Title() string {
	if n.Meta != nil {
		return n.Meta.Title
	}
	return ""
}

// SortedIDs returns the node ids in deterministic order, numerically where
// possible.
func (p Prompt) SortedIDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
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
	return ids
}

// SetText overwrites the literal text input on every text-encoder node.
func (p Prompt) SetText(text string) int {
	count := 0
	for _, n := range p {
		if n == nil || n.Kind() != KindTextEncoder {
			continue
		}
		if n.Inputs == nil {
			n.Inputs = make(map[string]any)
		}
		n.Inputs["text"] = text
		count++
	}
	return count
}

// SeedSpec controls how sampler seeds are rewritten before submission.
type SeedSpec struct {
	Keep   bool
	Random bool
	Value  int64
}

// ParseSeed interprets the CLI seed argument: "fixed" keeps the stored
// seeds, "0" draws a random one, anything else must be a number.
func ParseSeed(s string) (SeedSpec, error) {
	if s == "fixed" {
		return SeedSpec{Keep: true}, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return SeedSpec{}, err
	}
	if v == 0 {
		return SeedSpec{Random: true}, nil
	}
	return SeedSpec{Value: v}, nil
}

// SetSeed applies the seed spec to every sampler node. All samplers receive
// the same value so a randomized run stays reproducible from its output.
// It returns the seed that was applied, or -1 when seeds were kept.
func (p Prompt) SetSeed(spec SeedSpec) int64 {
	if spec.Keep {
		return -1
	}
	seed := spec.Value
	if spec.Random {
		seed = rand.Int63()
	}
	for _, n := range p {
		if n == nil || n.Kind() != KindSampler {
			continue
		}
		if n.Inputs == nil {
			n.Inputs = make(map[string]any)
		}
		n.Inputs["seed"] = seed
	}
	return seed
}

// UsePreview swaps embedder nodes for preview nodes so a regeneration run
// does not persist into the server's output directory. A no-op when
// saveOutput is set.
func (p Prompt) UsePreview(saveOutput bool) {
	if saveOutput {
		return
	}
	for _, n := range p {
		if n != nil && n.ClassType == classEmbedder {
			n.ClassType = classPreview
		}
	}
}

// QueueRequest is the envelope POSTed to the prompt endpoint.
type QueueRequest struct {
	ClientID string `json:"client_id,omitempty"`
	Prompt   Prompt `json:"prompt"`
}
