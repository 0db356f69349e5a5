package graphapi

import "strings"

// Summary is the at-a-glance information shown for a stored workflow.
type Summary struct {
	Positive   string
	Negative   string
	Steps      any
	Checkpoint string
}

// Summarize pulls the positive/negative prompts, sampler step count, and
// checkpoint name out of a prompt mapping.
//
// The positive/negative split is heuristic: a text encoder whose title
// contains "Negative" is taken as the negative prompt, otherwise the first
// encoder encountered is positive and the second negative. Graphs with more
// than two encoders or non-English titles can misclassify.
func Summarize(p Prompt) Summary {
	var s Summary
	havePositive := false
	haveNegative := false

	for _, id := range p.SortedIDs() {
		node := p[id]
		if node == nil {
			continue
		}
		switch node.Kind() {
		case KindTextEncoder:
			text, _ := node.Inputs["text"].(string)
			title := node.Title()
			switch {
			case title != "" && strings.Contains(title, "Negative") && !haveNegative:
				s.Negative = text
				haveNegative = true
			case !havePositive:
				s.Positive = text
				havePositive = true
			case !haveNegative:
				s.Negative = text
				haveNegative = true
			}
		case KindSampler:
			if s.Steps == nil {
				s.Steps = node.Inputs["steps"]
			}
		case KindCheckpointLoader:
			if s.Checkpoint == "" {
				if name, ok := node.Inputs["ckpt_name"].(string); ok {
					s.Checkpoint = name
				} else if name, ok := node.Inputs["unet_name"].(string); ok {
					s.Checkpoint = name
				}
			}
		}
	}
	return s
}
