package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ravi-parthasarathy/canvasflow/pkg/llm"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultJobTimeout   = 10 * time.Minute
	submitAttempts      = 4
)

// JobError reports a remote generation job that finished unsuccessfully.
type JobError struct {
	Kind    string
	ID      string
	Message string
}

func (e *JobError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s job failed: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s job %s failed: %s", e.Kind, e.ID, e.Message)
}

// JobExecutor drives long-running generation backends (video, music) that
// accept a job and are polled until it settles.
//
// The backend receives POST {"prompt", "params"} on Endpoint and answers
// with {"id"} or with an already settled job. Jobs are then polled at
// GET Endpoint/<id> until their status is "succeeded" or "failed".
// Result URLs are accumulated in the "<kind>s" gallery.
type JobExecutor struct {
	Kind     string
	Endpoint string
	APIKey   string

	Client       *http.Client
	PollInterval time.Duration
	Timeout      time.Duration
	// Backoff applies to submission retries on 429 and 5xx responses.
	Backoff llm.Backoff
}

type jobRequest struct {
	Prompt string            `json:"prompt"`
	Params map[string]string `json:"params,omitempty"`
}

type jobStatus struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	URLs   []string `json:"urls"`
	Error  string   `json:"error"`
}

func (e *JobExecutor) Execute(ctx context.Context, in workflow.ExecutionInput) (workflow.ExecutionResult, error) {
	endpoint := strings.TrimRight(firstNonEmpty(in.ActionData["endpoint"], e.Endpoint), "/")
	if endpoint == "" {
		return workflow.ExecutionResult{}, fmt.Errorf("%s node %q: no endpoint configured", e.Kind, in.NodeID)
	}
	prompt, err := resolvePrompt(in)
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("%s node %q: %w", e.Kind, in.NodeID, err)
	}
	timeout, err := durationAttr(in.ActionData, "timeout", e.timeout())
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("%s node %q: %w", e.Kind, in.NodeID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := make(map[string]string)
	for k, v := range in.ActionData {
		switch k {
		case "prompt", "endpoint", "timeout":
		default:
			params[k] = v
		}
	}

	job, err := e.submit(ctx, endpoint, jobRequest{Prompt: prompt, Params: params})
	if err != nil {
		return workflow.ExecutionResult{}, fmt.Errorf("%s node %q: submit: %w", e.Kind, in.NodeID, e.timeoutErr(ctx, timeout, err))
	}
	slog.Info("job submitted", "node", in.NodeID, "kind", e.Kind, "job_id", job.ID)

	for !settled(job.Status) {
		if job.ID == "" {
			return workflow.ExecutionResult{}, fmt.Errorf("%s node %q: backend returned neither a job id nor a result", e.Kind, in.NodeID)
		}
		select {
		case <-ctx.Done():
			return workflow.ExecutionResult{}, fmt.Errorf("%s node %q: %w", e.Kind, in.NodeID, e.timeoutErr(ctx, timeout, ctx.Err()))
		case <-time.After(e.pollInterval()):
		}
		next, err := e.poll(ctx, endpoint, job.ID)
		switch {
		case err == nil:
			job = next
		case llm.Retryable(err):
			slog.Warn("job poll failed, retrying", "node", in.NodeID, "job_id", job.ID, "error", err)
		default:
			return workflow.ExecutionResult{}, fmt.Errorf("%s node %q: poll: %w", e.Kind, in.NodeID, e.timeoutErr(ctx, timeout, err))
		}
	}

	if job.Status == "failed" {
		msg := job.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return workflow.ExecutionResult{}, &JobError{Kind: e.Kind, ID: job.ID, Message: msg}
	}
	if len(job.URLs) == 0 {
		return workflow.ExecutionResult{}, &JobError{Kind: e.Kind, ID: job.ID, Message: "job succeeded without results"}
	}
	return succeeded(workflow.Output{
		e.Kind + "s": job.URLs,
		"job_id":     job.ID,
	}), nil
}

func settled(status string) bool {
	return status == "succeeded" || status == "failed"
}

func (e *JobExecutor) submit(ctx context.Context, endpoint string, body jobRequest) (jobStatus, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return jobStatus{}, err
	}
	var job jobStatus
	err = llm.WithRetryBackoff(ctx, submitAttempts, e.Backoff, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		job, err = e.do(req)
		return err
	})
	return job, err
}

func (e *JobExecutor) poll(ctx context.Context, endpoint, id string) (jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/"+id, nil)
	if err != nil {
		return jobStatus{}, err
	}
	job, err := e.do(req)
	if job.ID == "" {
		job.ID = id
	}
	return job, err
}

func (e *JobExecutor) do(req *http.Request) (jobStatus, error) {
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return jobStatus{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return jobStatus{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return jobStatus{}, llm.FromStatus(resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}
	var job jobStatus
	if err := json.Unmarshal(body, &job); err != nil {
		return jobStatus{}, fmt.Errorf("decode response: %w", err)
	}
	return job, nil
}

func (e *JobExecutor) timeoutErr(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return err
}

func (e *JobExecutor) pollInterval() time.Duration {
	if e.PollInterval > 0 {
		return e.PollInterval
	}
	return defaultPollInterval
}

func (e *JobExecutor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return defaultJobTimeout
}
