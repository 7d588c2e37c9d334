package executors

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
)

var errNoPrompt = errors.New("no prompt: set the prompt attribute or connect an upstream text node")

// renderTemplate executes a Go template string against data.
func renderTemplate(tplStr string, data map[string]any) (string, error) {
	tpl, err := template.New("").Parse(tplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// upstreamText joins the "text" output of every input, ordered by node id.
func upstreamText(inputs map[string]workflow.Output) string {
	ids := make([]string, 0, len(inputs))
	for id := range inputs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var parts []string
	for _, id := range ids {
		if s, ok := inputs[id]["text"].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// resolvePrompt renders the node's prompt attribute against its inputs.
//
// The template sees .text (joined upstream text) and .inputs (upstream
// outputs keyed by node id). Without a prompt attribute the upstream text is
// used as is.
func resolvePrompt(in workflow.ExecutionInput) (string, error) {
	text := upstreamText(in.Inputs)
	prompt := text
	if tpl := in.ActionData["prompt"]; tpl != "" {
		inputs := make(map[string]any, len(in.Inputs))
		for id, out := range in.Inputs {
			inputs[id] = map[string]any(out)
		}
		rendered, err := renderTemplate(tpl, map[string]any{"text": text, "inputs": inputs})
		if err != nil {
			return "", fmt.Errorf("prompt template: %w", err)
		}
		prompt = rendered
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errNoPrompt
	}
	return prompt, nil
}

// intAttr returns the positive integer value of key, or def when the
// attribute is absent.
func intAttr(data workflow.ActionData, key string, def int) (int, error) {
	raw := data[key]
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("attribute %q: want a positive integer, got %q", key, raw)
	}
	return n, nil
}

// floatAttr returns the value of key as a float, or nil when absent.
func floatAttr(data workflow.ActionData, key string) (*float64, error) {
	raw := data[key]
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: want a number, got %q", key, raw)
	}
	return &f, nil
}

// durationAttr returns the value of key as a duration, or def when absent.
func durationAttr(data workflow.ActionData, key string, def time.Duration) (time.Duration, error) {
	raw := data[key]
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("attribute %q: want a positive duration, got %q", key, raw)
	}
	return d, nil
}

// succeeded wraps data in a successful result stamped with the current time.
func succeeded(data workflow.Output) workflow.ExecutionResult {
	return workflow.ExecutionResult{Success: true, Timestamp: time.Now(), Data: data}
}
