package graphapi

import (
	"testing"
)

func testPrompt() Prompt {
	return Prompt{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{"ckpt_name": "sd15.ckpt"}},
		"2": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "old positive"}},
		"3": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "old negative"},
			Meta: &PromptNodeMeta{Title: "Negative Prompt"}},
		"4": {ClassType: "KSampler", Inputs: map[string]any{"seed": float64(1), "steps": float64(20)}},
		"5": {ClassType: "PromptWorkflowEmbedder", Inputs: map[string]any{}},
	}
}

func TestSetText(t *testing.T) {
	p := testPrompt()
	count := p.SetText("a red fox")
	if count != 2 {
		t.Fatalf("Expected 2 encoders updated, got %d", count)
	}
	if p["2"].Inputs["text"] != "a red fox" || p["3"].Inputs["text"] != "a red fox" {
		t.Error("Expected all text encoders overwritten")
	}
	if p["4"].Inputs["seed"] != float64(1) {
		t.Error("Sampler inputs must not change")
	}
}

func TestParseSeed(t *testing.T) {
	spec, err := ParseSeed("fixed")
	if err != nil || !spec.Keep {
		t.Errorf("Expected keep spec for fixed, got %+v err %v", spec, err)
	}
	spec, err = ParseSeed("0")
	if err != nil || !spec.Random {
		t.Errorf("Expected random spec for 0, got %+v err %v", spec, err)
	}
	spec, err = ParseSeed("12345")
	if err != nil || spec.Value != 12345 {
		t.Errorf("Expected explicit seed 12345, got %+v err %v", spec, err)
	}
	if _, err = ParseSeed("banana"); err == nil {
		t.Error("Expected error for non-numeric seed")
	}
}

func TestSetSeed(t *testing.T) {
	p := testPrompt()
	if got := p.SetSeed(SeedSpec{Keep: true}); got != -1 {
		t.Errorf("Expected -1 for kept seeds, got %d", got)
	}
	if p["4"].Inputs["seed"] != float64(1) {
		t.Error("Kept seeds must not change the sampler")
	}

	if got := p.SetSeed(SeedSpec{Value: 777}); got != 777 {
		t.Errorf("Expected applied seed 777, got %d", got)
	}
	if p["4"].Inputs["seed"] != int64(777) {
		t.Errorf("Expected sampler seed 777, got %v", p["4"].Inputs["seed"])
	}

	got := p.SetSeed(SeedSpec{Random: true})
	if got < 0 {
		t.Errorf("Expected non-negative random seed, got %d", got)
	}
	if p["4"].Inputs["seed"] != got {
		t.Errorf("Expected sampler to carry the drawn seed %d, got %v", got, p["4"].Inputs["seed"])
	}
}

func TestUsePreview(t *testing.T) {
	p := testPrompt()
	p.UsePreview(true)
	if p["5"].ClassType != "PromptWorkflowEmbedder" {
		t.Error("save-output run must keep the embedder")
	}
	p.UsePreview(false)
	if p["5"].ClassType != "PreviewImage" {
		t.Errorf("Expected embedder swapped for preview, got %q", p["5"].ClassType)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(testPrompt())
	if s.Positive != "old positive" {
		t.Errorf("Expected positive prompt, got %q", s.Positive)
	}
	if s.Negative != "old negative" {
		t.Errorf("Expected negative prompt via title heuristic, got %q", s.Negative)
	}
	if s.Steps != float64(20) {
		t.Errorf("Expected 20 steps, got %v", s.Steps)
	}
	if s.Checkpoint != "sd15.ckpt" {
		t.Errorf("Expected checkpoint name, got %q", s.Checkpoint)
	}
}

func TestSummarizeUntitledEncoders(t *testing.T) {
	p := Prompt{
		"1": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "first"}},
		"2": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "second"}},
	}
	s := Summarize(p)
	if s.Positive != "first" || s.Negative != "second" {
		t.Errorf("Expected first/second split, got %q / %q", s.Positive, s.Negative)
	}
}
