package executors_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow"
	"github.com/ravi-parthasarathy/canvasflow/pkg/workflow/executors"
)

type fakeSpeech struct {
	got openai.CreateSpeechRequest
}

func (f *fakeSpeech) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	f.got = req
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader("ID3-audio-bytes"))}, nil
}

func TestSpeechExecutor_WritesClip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := &fakeSpeech{}
	e := &executors.SpeechExecutor{Client: f, OutDir: filepath.Join(dir, "audio")}

	res, err := e.Execute(t.Context(), workflow.ExecutionInput{
		NodeID: "narration",
		Type:   workflow.NodeTypeAudio,
		Inputs: map[string]workflow.Output{"script": {"text": "Once upon a time."}},
		ActionData: workflow.ActionData{
			"voice": "nova",
			"speed": "1.25",
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if f.got.Input != "Once upon a time." {
		t.Errorf("input = %q", f.got.Input)
	}
	if f.got.Voice != openai.VoiceNova || f.got.Speed != 1.25 {
		t.Errorf("request = %+v", f.got)
	}
	if f.got.Model != openai.TTSModel1 || f.got.ResponseFormat != openai.SpeechResponseFormatMp3 {
		t.Errorf("defaults not applied: %+v", f.got)
	}

	audios, ok := res.Data["audios"].([]string)
	if !ok || len(audios) != 1 {
		t.Fatalf("audios = %#v", res.Data["audios"])
	}
	if !strings.HasPrefix(filepath.Base(audios[0]), "narration-") || filepath.Ext(audios[0]) != ".mp3" {
		t.Errorf("clip path = %q", audios[0])
	}
	data, err := os.ReadFile(audios[0])
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if string(data) != "ID3-audio-bytes" {
		t.Errorf("clip content = %q", data)
	}
}

func TestSpeechExecutor_NeedsPrompt(t *testing.T) {
	t.Parallel()
	e := &executors.SpeechExecutor{Client: &fakeSpeech{}, OutDir: t.TempDir()}
	_, err := e.Execute(t.Context(), workflow.ExecutionInput{NodeID: "narration"})
	if err == nil || !strings.Contains(err.Error(), "no prompt") {
		t.Errorf("err = %v, want no prompt", err)
	}
}
