package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptvault/comfyhistory/graphapi"
)

func testPrompt() graphapi.Prompt {
	return graphapi.Prompt{
		"3": {ClassType: "KSampler", Inputs: map[string]any{"seed": float64(42)}},
	}
}

// newModernServer answers under the /api prefix only, like current builds.
func newModernServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	outer := http.NewServeMux()
	outer.Handle("/api/", http.StripPrefix("/api", mux))
	srv := httptest.NewServer(outer)
	t.Cleanup(srv.Close)
	return srv
}

// newLegacyServer answers at the root only.
func newLegacyServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func queueMux(t *testing.T, promptID string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"exec_info": {"queue_remaining": 0}}`))
	})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var req graphapi.QueueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.ClientID)
		require.Contains(t, req.Prompt, "3")
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": promptID})
	})
	return mux
}

func TestSubmitNegotiatesModernPrefix(t *testing.T) {
	srv := newModernServer(t, queueMux(t, "job-1"))
	c := New(srv.URL)

	job, err := c.Submit(context.Background(), testPrompt())
	require.NoError(t, err)
	require.Equal(t, "job-1", job.PromptID)
	require.Equal(t, StateSubmitted, job.State())
	require.Equal(t, apiPrefix, c.resolvePrefix(context.Background()))
}

func TestSubmitNegotiatesLegacyPrefix(t *testing.T) {
	srv := newLegacyServer(t, queueMux(t, "job-2"))
	c := New(srv.URL)

	job, err := c.Submit(context.Background(), testPrompt())
	require.NoError(t, err)
	require.Equal(t, "job-2", job.PromptID)
	require.Equal(t, "", c.resolvePrefix(context.Background()))
}

func TestInvalidateForcesRenegotiation(t *testing.T) {
	srv := newModernServer(t, queueMux(t, "job-x"))
	c := New(srv.URL)

	require.Equal(t, apiPrefix, c.resolvePrefix(context.Background()))
	c.Invalidate()
	// The next call probes again and lands on the same answer.
	require.Equal(t, apiPrefix, c.resolvePrefix(context.Background()))
}

func TestSubmitServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "invalid_prompt", "message": "missing node 4"}}`))
	})
	srv := newLegacyServer(t, mux)

	_, err := New(srv.URL).Submit(context.Background(), testPrompt())
	require.ErrorContains(t, err, "missing node 4")
}

func TestWaitCompletes(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /history/job-3", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			w.Write([]byte(`{}`))
			return
		}
		w.Write([]byte(`{"job-3": {"outputs": {"9": {"images": [
			{"filename": "out_00001_.png", "subfolder": "", "type": "output"}
		]}}}}`))
	})
	srv := newLegacyServer(t, mux)

	job := &Job{PromptID: "job-3", client: New(srv.URL), state: StateSubmitted}
	result, err := job.Wait(context.Background(), 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, job.State())
	require.GreaterOrEqual(t, polls, 2)

	img := result.FirstImage()
	require.NotNil(t, img)
	require.Equal(t, "out_00001_.png", img.Filename)
	require.Equal(t, "output", img.Type)
}

func TestWaitTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /history/job-4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	srv := newLegacyServer(t, mux)

	job := &Job{PromptID: "job-4", client: New(srv.URL), state: StateSubmitted}
	_, err := job.Wait(context.Background(), 0)
	require.ErrorIs(t, err, ErrWaitTimeout)
	require.Equal(t, StateTimedOut, job.State())
}

func TestWaitCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /history/job-5", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	srv := newLegacyServer(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := &Job{PromptID: "job-5", client: New(srv.URL), state: StateSubmitted}
	_, err := job.Wait(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateCancelled, job.State())
}

func TestView(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /prompt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "img.png", r.URL.Query().Get("filename"))
		require.Equal(t, "sub", r.URL.Query().Get("subfolder"))
		require.Equal(t, "output", r.URL.Query().Get("type"))
		w.Write([]byte("png-bytes"))
	})
	srv := newLegacyServer(t, mux)

	data, err := New(srv.URL).View(context.Background(), DataOutput{Filename: "img.png", Subfolder: "sub"})
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)
}

func TestCancelTriesFallbackEndpoints(t *testing.T) {
	var hit []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /queue/cancel", func(w http.ResponseWriter, r *http.Request) {
		hit = append(hit, r.URL.Path)
	})
	srv := newLegacyServer(t, mux)

	job := &Job{PromptID: "job-6", client: New(srv.URL), state: StatePolling}
	require.NoError(t, job.Cancel(context.Background()))
	require.Equal(t, []string{"/queue/cancel"}, hit)
	require.Equal(t, StateCancelled, job.State())
}

func TestCancelAllEndpointsFail(t *testing.T) {
	srv := newLegacyServer(t, http.NewServeMux())

	err := New(srv.URL).CancelPrompt(context.Background(), "job-7")
	require.ErrorContains(t, err, "failed to cancel prompt job-7")
}

func TestDecodeProgressMessage(t *testing.T) {
	ev, ok := decodeProgressMessage([]byte(`{"type": "progress", "data": {"value": 3, "max": 20, "prompt_id": "p1", "node": "3"}}`))
	require.True(t, ok)
	require.Equal(t, 3, ev.Value)
	require.Equal(t, 20, ev.Max)
	require.Equal(t, "p1", ev.PromptID)

	ev, ok = decodeProgressMessage([]byte(`{"type": "executing", "data": {"node": null, "prompt_id": "p1"}}`))
	require.True(t, ok)
	require.True(t, ev.Done)

	ev, ok = decodeProgressMessage([]byte(`{"type": "execution_error", "data": {"prompt_id": "p1", "node_id": 3, "node_type": "KSampler", "exception_message": "boom"}}`))
	require.True(t, ok)
	require.ErrorContains(t, ev.Err, "boom")

	_, ok = decodeProgressMessage([]byte(`{"type": "status", "data": {}}`))
	require.False(t, ok)

	_, ok = decodeProgressMessage([]byte(`not json`))
	require.False(t, ok)
}
