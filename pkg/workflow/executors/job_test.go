package executors_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow/executors"
)

func jobExecutor(kind, endpoint string) *executors.JobExecutor {
	return &executors.JobExecutor{
		Kind:         kind,
		Endpoint:     endpoint,
		APIKey:       "secret",
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
		Backoff:      llm.Backoff{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func videoInput() workflow.ExecutionInput {
	return workflow.ExecutionInput{
		NodeID:     "clip",
		Type:       workflow.NodeTypeVideo,
		Inputs:     map[string]workflow.Output{"script": {"text": "waves at night"}},
		ActionData: workflow.ActionData{"duration": "5s"},
	}
}

func TestJobExecutor_SubmitAndPoll(t *testing.T) {
	t.Parallel()
	var polls atomic.Int32
	var submitted struct {
		Prompt string            `json:"prompt"`
		Params map[string]string `json:"params"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			_ = json.NewDecoder(r.Body).Decode(&submitted)
			_, _ = w.Write([]byte(`{"id":"j1","status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/j1":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"id":"j1","status":"running"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"j1","status":"succeeded","urls":["https://cdn.example/j1.mp4"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := jobExecutor("video", srv.URL+"/jobs/").Execute(t.Context(), videoInput())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if submitted.Prompt != "waves at night" || submitted.Params["duration"] != "5s" {
		t.Errorf("submitted = %+v", submitted)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
	if diff := cmp.Diff([]string{"https://cdn.example/j1.mp4"}, res.Data["videos"]); diff != "" {
		t.Errorf("videos mismatch (-want +got):\n%s", diff)
	}
	if res.Data["job_id"] != "j1" {
		t.Errorf("job_id = %v", res.Data["job_id"])
	}
}

func TestJobExecutor_ImmediateResult(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"succeeded","urls":["https://cdn.example/song.mp3"]}`))
	}))
	defer srv.Close()

	res, err := jobExecutor("music", srv.URL).Execute(t.Context(), workflow.ExecutionInput{
		NodeID:     "theme",
		ActionData: workflow.ActionData{"prompt": "calm piano"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if diff := cmp.Diff([]string{"https://cdn.example/song.mp3"}, res.Data["musics"]); diff != "" {
		t.Errorf("musics mismatch (-want +got):\n%s", diff)
	}
}

func TestJobExecutor_RetriesTransientSubmit(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"j2","status":"succeeded","urls":["u"]}`))
	}))
	defer srv.Close()

	if _, err := jobExecutor("video", srv.URL).Execute(t.Context(), videoInput()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestJobExecutor_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := jobExecutor("video", srv.URL).Execute(t.Context(), videoInput())
	var auth *llm.AuthError
	if !errors.As(err, &auth) {
		t.Fatalf("err = %v, want *llm.AuthError", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestJobExecutor_JobFailed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"j3"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"failed","error":"nsfw prompt"}`))
	}))
	defer srv.Close()

	_, err := jobExecutor("video", srv.URL).Execute(t.Context(), videoInput())
	var jobErr *executors.JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("err = %v, want *executors.JobError", err)
	}
	want := &executors.JobError{Kind: "video", ID: "j3", Message: "nsfw prompt"}
	if diff := cmp.Diff(want, jobErr); diff != "" {
		t.Errorf("JobError mismatch (-want +got):\n%s", diff)
	}
}

func TestJobExecutor_Timeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"slow","status":"running"}`))
	}))
	defer srv.Close()

	e := jobExecutor("video", srv.URL)
	in := videoInput()
	in.ActionData = workflow.ActionData{"timeout": "50ms"}
	_, err := e.Execute(t.Context(), in)
	if err == nil || !strings.Contains(err.Error(), "timed out after 50ms") {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestJobExecutor_EndpointRequired(t *testing.T) {
	t.Parallel()
	_, err := (&executors.JobExecutor{Kind: "music"}).Execute(t.Context(), workflow.ExecutionInput{
		NodeID:     "theme",
		ActionData: workflow.ActionData{"prompt": "x"},
	})
	if err == nil || !strings.Contains(err.Error(), "no endpoint configured") {
		t.Errorf("err = %v, want no endpoint", err)
	}
}
