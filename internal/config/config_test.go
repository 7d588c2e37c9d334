package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ravi-parthasarathy/canvasflow/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "canvasflow.yaml", `
max_parallel: 4
text:
  model: openai:gpt-4o
image:
  quality: hd
video:
  endpoint: https://video.example/v1/jobs
  poll_interval: 500ms
mqtt:
  broker: tcp://localhost:1883
  qos: 1
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := config.Default()
	want.MaxParallel = 4
	want.Text.Model = "openai:gpt-4o"
	want.Image.Quality = "hd"
	want.Video.Endpoint = "https://video.example/v1/jobs"
	want.Video.PollInterval = 500 * time.Millisecond
	want.MQTT.Broker = "tcp://localhost:1883"
	want.MQTT.QoS = 1
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(writeFile(t, "empty.yaml", ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "unknown field",
			yaml:    "text:\n  modle: openai:gpt-4o\n",
			wantErr: []string{"field modle not found"},
		},
		{
			name:    "bad version",
			yaml:    "version: 2\n",
			wantErr: []string{"version: must be 1"},
		},
		{
			name: "several violations",
			yaml: "max_parallel: -1\nspeech:\n  format: ogg\nmusic:\n  endpoint: not a url\nmqtt:\n  qos: 3\n",
			wantErr: []string{
				"max_parallel: must be at least 0",
				"speech.format: must be one of [mp3 opus aac flac wav pcm]",
				"music.endpoint: must be a valid URL",
				"mqtt.qos: must be at most 2",
			},
		},
		{
			name:    "model without provider",
			yaml:    "text:\n  model: gpt-4o\n",
			wantErr: []string{`text.model: must contain ":"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.Load(writeFile(t, "c.yaml", tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not contain %q", err, want)
				}
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	const key = "CANVASFLOW_CONFIG_TEST_KEY"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=from-file\n")
	if err := config.LoadEnv(path, true); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want from-file", key, got)
	}

	// Already-set variables win over the file.
	t.Setenv(key, "from-env")
	if err := config.LoadEnv(path, true); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-env" {
		t.Errorf("%s = %q, want from-env", key, got)
	}

	missing := filepath.Join(t.TempDir(), ".env")
	if err := config.LoadEnv(missing, false); err != nil {
		t.Errorf("optional missing file: %v", err)
	}
	if err := config.LoadEnv(missing, true); err == nil {
		t.Error("required missing file: expected error")
	}
}

func TestJobConfig_APIKey(t *testing.T) {
	t.Setenv("CANVASFLOW_VIDEO_KEY", "tok")
	if got := (config.JobConfig{APIKeyEnv: "CANVASFLOW_VIDEO_KEY"}).APIKey(); got != "tok" {
		t.Errorf("APIKey = %q", got)
	}
	if got := (config.JobConfig{}).APIKey(); got != "" {
		t.Errorf("APIKey without env = %q", got)
	}
}
