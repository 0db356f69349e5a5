package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/promptvault/comfyhistory/client"
	"github.com/promptvault/comfyhistory/pnginfo"
)

// writeWorkflowPNG builds a PNG carrying a prompt mapping in its metadata.
func writeWorkflowPNG(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))

	prompt := map[string]any{
		"3": map[string]any{
			"class_type": "KSampler",
			"inputs":     map[string]any{"seed": 7, "steps": 20},
		},
		"6": map[string]any{
			"class_type": "CLIPTextEncode",
			"inputs":     map[string]any{"text": "original"},
		},
	}
	payload, err := json.Marshal(prompt)
	require.NoError(t, err)

	tagged, err := pnginfo.EmbedTags(buf.Bytes(), map[string]string{"prompt": string(payload)})
	require.NoError(t, err)

	path := filepath.Join(dir, "source.png")
	require.NoError(t, os.WriteFile(path, tagged, 0o644))
	return path
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	body := "[paths]\nprompts_dir = \"" + filepath.Join(dir, "prompts") + "\"\noutput_dir = \"" + filepath.Join(dir, "output") + "\"\n"
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInfoCommand(t *testing.T) {
	dir := t.TempDir()
	pngPath := writeWorkflowPNG(t, dir)

	cmd := newRootCommand()
	cmd.SetArgs([]string{"info", "--png", pngPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
}

func TestInfoCommandMissingMetadata(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	bare := filepath.Join(dir, "bare.png")
	require.NoError(t, os.WriteFile(bare, buf.Bytes(), 0o644))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"info", "--png", bare})
	require.ErrorIs(t, cmd.ExecuteContext(context.Background()), pnginfo.ErrNoMetadata)
}

func TestRegenCommand(t *testing.T) {
	dir := t.TempDir()
	pngPath := writeWorkflowPNG(t, dir)
	cfgPath := writeTestConfig(t, dir)
	outPath := filepath.Join(dir, "result.png")

	var submitted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt map[string]any `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		submitted = req.Prompt
		w.Write([]byte(`{"prompt_id": "regen-1"}`))
	})
	mux.HandleFunc("GET /history/regen-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"regen-1": {"outputs": {"9": {"images": [
			{"filename": "done.png", "subfolder": "", "type": "temp"}
		]}}}}`))
	})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "done.png", r.URL.Query().Get("filename"))
		w.Write([]byte("rendered"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cmd := newRootCommand()
	cmd.SetArgs([]string{
		"regen",
		"--config", cfgPath,
		"--png", pngPath,
		"--prompt", "a new prompt",
		"--host", srv.URL,
		"--seed", "99",
		"--out", outPath,
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, []byte("rendered"), data)

	// The submitted prompt carries the rewritten text and seed.
	encoder := submitted["6"].(map[string]any)["inputs"].(map[string]any)
	require.Equal(t, "a new prompt", encoder["text"])
	sampler := submitted["3"].(map[string]any)["inputs"].(map[string]any)
	require.Equal(t, float64(99), sampler["seed"])
}

func TestRegenDefaultSeedRandomizes(t *testing.T) {
	dir := t.TempDir()
	pngPath := writeWorkflowPNG(t, dir)
	cfgPath := writeTestConfig(t, dir)
	outPath := filepath.Join(dir, "result.png")

	var submitted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt map[string]any `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		submitted = req.Prompt
		w.Write([]byte(`{"prompt_id": "rand-1"}`))
	})
	mux.HandleFunc("GET /history/rand-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rand-1": {"outputs": {"9": {"images": [
			{"filename": "done.png", "subfolder": "", "type": "temp"}
		]}}}}`))
	})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("rendered"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	// No --seed: the stored seed must be replaced with a drawn one.
	cmd := newRootCommand()
	cmd.SetArgs([]string{
		"regen",
		"--config", cfgPath,
		"--png", pngPath,
		"--prompt", "x",
		"--host", srv.URL,
		"--out", outPath,
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	sampler := submitted["3"].(map[string]any)["inputs"].(map[string]any)
	require.NotEqual(t, float64(7), sampler["seed"])
}

func TestRegenTimeoutCancelsAndExits(t *testing.T) {
	dir := t.TempDir()
	pngPath := writeWorkflowPNG(t, dir)

	// A server whose job never finishes: history stays empty and the
	// websocket stays connected without reporting completion.
	cancelled := make(chan struct{}, 1)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prompt_id": "slow-1"}`))
	})
	mux.HandleFunc("GET /history/slow-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("POST /queue/cancel", func(w http.ResponseWriter, r *http.Request) {
		select {
		case cancelled <- struct{}{}:
		default:
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	opts := regenOptions{pngPath: pngPath, promptText: "x", host: srv.URL, seed: "fixed"}
	done := make(chan error, 1)
	go func() {
		done <- runRegen(context.Background(), opts, 0, newLogger("error", false))
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, client.ErrWaitTimeout)
	case <-time.After(10 * time.Second):
		t.Fatal("regen did not return after the wait timeout")
	}

	// The in-flight job was cancelled before exiting.
	select {
	case <-cancelled:
	default:
		t.Fatal("expected a best-effort cancel request")
	}
}

func TestRegenRejectsBadSeed(t *testing.T) {
	dir := t.TempDir()
	pngPath := writeWorkflowPNG(t, dir)
	cfgPath := writeTestConfig(t, dir)

	cmd := newRootCommand()
	cmd.SetArgs([]string{
		"regen",
		"--config", cfgPath,
		"--png", pngPath,
		"--prompt", "x",
		"--host", "http://127.0.0.1:1",
		"--seed", "lots",
	})
	require.ErrorContains(t, cmd.ExecuteContext(context.Background()), "invalid --seed")
}

func TestListCommandEmpty(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	cmd := newRootCommand()
	cmd.SetArgs([]string{"list", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"config", "init", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.FileExists(t, cfgPath)

	// Running init again refuses to clobber.
	cmd = newRootCommand()
	cmd.SetArgs([]string{"config", "init", "--config", cfgPath})
	require.Error(t, cmd.ExecuteContext(context.Background()))

	cmd = newRootCommand()
	cmd.SetArgs([]string{"config", "show", "--config", cfgPath})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
}
