// Package config loads the optional YAML run configuration for the
// canvasflow CLI and the .env file holding provider credentials.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the run configuration. Zero values mean "use the default".
type Config struct {
	Version     int          `yaml:"version" validate:"eq=1"`
	MaxParallel int          `yaml:"max_parallel" validate:"gte=0"`
	Text        TextConfig   `yaml:"text"`
	Image       ImageConfig  `yaml:"image"`
	Speech      SpeechConfig `yaml:"speech"`
	Video       JobConfig    `yaml:"video"`
	Music       JobConfig    `yaml:"music"`
	MQTT        MQTTConfig   `yaml:"mqtt"`
}

type TextConfig struct {
	// Model is a "provider:model" id used when a node sets none.
	Model     string `yaml:"model" validate:"omitempty,contains=:"`
	MaxTokens int    `yaml:"max_tokens" validate:"gte=0"`
}

type ImageConfig struct {
	Model   string `yaml:"model"`
	Size    string `yaml:"size" validate:"omitempty,oneof=256x256 512x512 1024x1024 1792x1024 1024x1792 1536x1024 1024x1536 auto"`
	Quality string `yaml:"quality" validate:"omitempty,oneof=standard hd low medium high auto"`
}

type SpeechConfig struct {
	Model  string `yaml:"model"`
	Voice  string `yaml:"voice"`
	Format string `yaml:"format" validate:"omitempty,oneof=mp3 opus aac flac wav pcm"`
	OutDir string `yaml:"out_dir"`
}

// JobConfig configures a remote generation backend for video or music nodes.
type JobConfig struct {
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	// APIKeyEnv names the environment variable holding the bearer token.
	APIKeyEnv    string        `yaml:"api_key_env"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
}

// APIKey returns the token named by APIKeyEnv, or "" when unset.
func (j JobConfig) APIKey() string {
	if j.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(j.APIKeyEnv)
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" validate:"omitempty,url"`
	Prefix   string `yaml:"prefix" validate:"omitempty,excludesall=#+"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos" validate:"lte=2"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Text: TextConfig{
			Model:     "anthropic:claude-sonnet-4-5",
			MaxTokens: 1024,
		},
		Image: ImageConfig{
			Model: "dall-e-3",
			Size:  "1024x1024",
		},
		Speech: SpeechConfig{
			Model:  "tts-1",
			Voice:  "alloy",
			Format: "mp3",
			OutDir: "out",
		},
		Video: JobConfig{
			APIKeyEnv:    "VIDEO_API_KEY",
			PollInterval: 2 * time.Second,
			Timeout:      10 * time.Minute,
		},
		Music: JobConfig{
			APIKeyEnv:    "MUSIC_API_KEY",
			PollInterval: 2 * time.Second,
			Timeout:      10 * time.Minute,
		},
		MQTT: MQTTConfig{
			Prefix:   "canvasflow",
			ClientID: "canvasflow",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: %s", yamlPath(fe.Namespace()), message(fe))
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
}

// yamlPath drops the root struct name from a validator namespace.
func yamlPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "eq":
		return fmt.Sprintf("must be %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a valid URL"
	case "contains":
		return fmt.Sprintf("must contain %q", fe.Param())
	case "excludesall":
		return fmt.Sprintf("must not contain any of %q", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// LoadEnv loads environment variables from path without overriding ones
// that are already set. A missing file is ignored unless required is true.
func LoadEnv(path string, required bool) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && !required && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
