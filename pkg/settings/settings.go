// Package settings holds the runtime configuration of grillo. Defaults come
// from the embedded defaults.yaml and are overlaid from viper (config file,
// environment, flags).
package settings

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/grillo/pkg/capture"
	"github.com/go-go-golems/grillo/pkg/history"
	"github.com/go-go-golems/grillo/pkg/playback"
	"github.com/go-go-golems/grillo/pkg/query"
	"github.com/go-go-golems/grillo/pkg/speech"
	"github.com/go-go-golems/grillo/pkg/transcribe"
	"github.com/go-go-golems/grillo/pkg/turn"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed "defaults.yaml"
var defaultsYAML []byte

type APISettings struct {
	GoogleKey string `yaml:"google-key" mapstructure:"google-key"`
	OpenAIKey string `yaml:"openai-key" mapstructure:"openai-key"`
}

type CaptureSettings struct {
	// Device overrides the platform ffmpeg input.
	Device           string        `yaml:"device" mapstructure:"device"`
	MaxDuration      time.Duration `yaml:"max-duration" mapstructure:"max-duration"`
	SilenceThreshold float64       `yaml:"silence-threshold" mapstructure:"silence-threshold"`
	SilenceWindow    time.Duration `yaml:"silence-window" mapstructure:"silence-window"`
	PollInterval     time.Duration `yaml:"poll-interval" mapstructure:"poll-interval"`
	SampleRate       int           `yaml:"sample-rate" mapstructure:"sample-rate"`
	WindowSamples    int           `yaml:"window-samples" mapstructure:"window-samples"`
	MinDuration      time.Duration `yaml:"min-duration" mapstructure:"min-duration"`
	MinEncodedBytes  int           `yaml:"min-encoded-bytes" mapstructure:"min-encoded-bytes"`
	StartCue         string        `yaml:"start-cue" mapstructure:"start-cue"`
	StopCue          string        `yaml:"stop-cue" mapstructure:"stop-cue"`
}

type TranscriptionSettings struct {
	Backend       transcribe.Backend `yaml:"backend" mapstructure:"backend"`
	URL           string             `yaml:"url" mapstructure:"url"`
	OpenAIBaseURL string             `yaml:"openai-base-url" mapstructure:"openai-base-url"`
	Language      string             `yaml:"language" mapstructure:"language"`
	Model         string             `yaml:"model" mapstructure:"model"`
}

type QuerySettings struct {
	BaseURL     string `yaml:"base-url" mapstructure:"base-url"`
	Model       string `yaml:"model" mapstructure:"model"`
	Persona     string `yaml:"persona" mapstructure:"persona"`
	PersonaFile string `yaml:"persona-file" mapstructure:"persona-file"`
	ImageMIME   string `yaml:"image-mime" mapstructure:"image-mime"`
}

type CameraSettings struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Input overrides the platform webcam device.
	Input string `yaml:"input" mapstructure:"input"`
	// StaticFile sends the same image with every question instead of a webcam frame.
	StaticFile string `yaml:"static-file" mapstructure:"static-file"`
}

type SpeechSettings struct {
	URL        string  `yaml:"url" mapstructure:"url"`
	Language   string  `yaml:"language" mapstructure:"language"`
	Voice      string  `yaml:"voice" mapstructure:"voice"`
	Pitch      float64 `yaml:"pitch" mapstructure:"pitch"`
	Rate       float64 `yaml:"rate" mapstructure:"rate"`
	MinBytes   int     `yaml:"min-bytes" mapstructure:"min-bytes"`
	Terminator string  `yaml:"terminator" mapstructure:"terminator"`
}

type PlaybackSettings struct {
	IdleAnimation  int `yaml:"idle-animation" mapstructure:"idle-animation"`
	FirstAnimation int `yaml:"first-animation" mapstructure:"first-animation"`
	AnimationCount int `yaml:"animation-count" mapstructure:"animation-count"`
}

type HistorySettings struct {
	MaxEntries     int  `yaml:"max-entries" mapstructure:"max-entries"`
	MaxTokens      int  `yaml:"max-tokens" mapstructure:"max-tokens"`
	KeepUnanswered bool `yaml:"keep-unanswered" mapstructure:"keep-unanswered"`
}

type StorageSettings struct {
	// Dir is the parent of the recordings folder. Empty means the OS temp dir.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

type TranscriptSettings struct {
	// SQLite is the database path. Empty disables the persistent transcript.
	SQLite     string `yaml:"sqlite" mapstructure:"sqlite"`
	UserLabel  string `yaml:"user-label" mapstructure:"user-label"`
	ModelLabel string `yaml:"model-label" mapstructure:"model-label"`
	Hint       string `yaml:"hint" mapstructure:"hint"`
}

type ServerSettings struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type TurnSettings struct {
	Apology      string        `yaml:"apology" mapstructure:"apology"`
	StageTimeout time.Duration `yaml:"stage-timeout" mapstructure:"stage-timeout"`
}

type Settings struct {
	API           APISettings           `yaml:"api" mapstructure:"api"`
	Capture       CaptureSettings       `yaml:"capture" mapstructure:"capture"`
	Transcription TranscriptionSettings `yaml:"transcription" mapstructure:"transcription"`
	Query         QuerySettings         `yaml:"query" mapstructure:"query"`
	Camera        CameraSettings        `yaml:"camera" mapstructure:"camera"`
	Speech        SpeechSettings        `yaml:"speech" mapstructure:"speech"`
	Playback      PlaybackSettings      `yaml:"playback" mapstructure:"playback"`
	History       HistorySettings       `yaml:"history" mapstructure:"history"`
	Storage       StorageSettings       `yaml:"storage" mapstructure:"storage"`
	Transcript    TranscriptSettings    `yaml:"transcript" mapstructure:"transcript"`
	Server        ServerSettings        `yaml:"server" mapstructure:"server"`
	Turn          TurnSettings          `yaml:"turn" mapstructure:"turn"`
}

// Defaults decodes the embedded defaults.yaml.
func Defaults() (*Settings, error) {
	s := &Settings{}
	if err := yaml.Unmarshal(defaultsYAML, s); err != nil {
		return nil, errors.Wrap(err, "failed to decode default settings")
	}
	return s, nil
}

// RegisterDefaults declares every default key on v so that environment
// variables and config files can override nested keys individually.
func RegisterDefaults(v *viper.Viper) error {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(defaultsYAML, &tree); err != nil {
		return errors.Wrap(err, "failed to decode default settings")
	}
	registerTree(v, "", tree)
	return nil
}

func registerTree(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, value := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := value.(map[string]interface{}); ok {
			registerTree(v, key, sub)
			continue
		}
		v.SetDefault(key, value)
	}
}

// Load starts from the defaults, overlays whatever v carries, resolves the
// persona file and validates the result. A nil v yields the defaults.
func Load(v *viper.Viper) (*Settings, error) {
	s, err := Defaults()
	if err != nil {
		return nil, err
	}
	if v != nil {
		if err := v.Unmarshal(s); err != nil {
			return nil, errors.Wrap(err, "failed to decode settings")
		}
	}
	if s.Query.PersonaFile != "" {
		persona, err := LoadPersona(s.Query.PersonaFile)
		if err != nil {
			return nil, err
		}
		s.Query.Persona = persona
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type personaFile struct {
	Persona string `yaml:"persona"`
}

// LoadPersona reads a persona prompt. YAML files must carry a top-level
// `persona` key; any other file is used verbatim.
func LoadPersona(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read persona file %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var p personaFile
		if err := yaml.Unmarshal(b, &p); err != nil {
			return "", errors.Wrapf(err, "failed to parse persona file %s", path)
		}
		if strings.TrimSpace(p.Persona) == "" {
			return "", errors.Errorf("persona file %s has no persona key", path)
		}
		return strings.TrimSpace(p.Persona), nil
	default:
		return strings.TrimSpace(string(b)), nil
	}
}

func (s *Settings) Validate() error {
	switch s.Transcription.Backend {
	case transcribe.BackendGoogle, transcribe.BackendOpenAI:
	default:
		return errors.Errorf("unknown transcription backend %q", s.Transcription.Backend)
	}
	if s.Capture.SilenceThreshold <= 0 {
		return errors.New("capture.silence-threshold must be positive")
	}
	if s.Capture.SilenceWindow <= 0 || s.Capture.MaxDuration <= 0 {
		return errors.New("capture.silence-window and capture.max-duration must be positive")
	}
	if s.Capture.SampleRate <= 0 {
		return errors.New("capture.sample-rate must be positive")
	}
	if s.History.MaxEntries < 0 || s.History.MaxTokens < 0 {
		return errors.New("history bounds must not be negative")
	}
	if s.Playback.AnimationCount < 1 {
		return errors.New("playback.animation-count must be at least 1")
	}
	return nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) CaptureOptions() capture.Options {
	return capture.Options{
		MaxDuration:      s.Capture.MaxDuration,
		SilenceThreshold: s.Capture.SilenceThreshold,
		SilenceWindow:    s.Capture.SilenceWindow,
		PollInterval:     s.Capture.PollInterval,
		SampleRate:       s.Capture.SampleRate,
		WindowSamples:    s.Capture.WindowSamples,
		MinDuration:      s.Capture.MinDuration,
		MinEncodedBytes:  s.Capture.MinEncodedBytes,
	}
}

func (s *Settings) HistoryBound() history.Bound {
	return history.Bound{
		MaxEntries: s.History.MaxEntries,
		MaxTokens:  s.History.MaxTokens,
	}
}

func (s *Settings) QuerySettings() query.Settings {
	return query.Settings{
		APIKey:    s.API.GoogleKey,
		BaseURL:   s.Query.BaseURL,
		Model:     s.Query.Model,
		Persona:   s.Query.Persona,
		ImageMIME: s.Query.ImageMIME,
	}
}

func (s *Settings) Voice() speech.Voice {
	return speech.Voice{
		LanguageCode: s.Speech.Language,
		Name:         s.Speech.Voice,
		Pitch:        s.Speech.Pitch,
		SpeakingRate: s.Speech.Rate,
	}
}

func (s *Settings) Animations() playback.Animations {
	return playback.Animations{
		Idle:  s.Playback.IdleAnimation,
		First: s.Playback.FirstAnimation,
		Count: s.Playback.AnimationCount,
	}
}

func (s *Settings) TurnConfig() turn.Config {
	return turn.Config{
		Capture:        s.CaptureOptions(),
		Apology:        s.Turn.Apology,
		StageTimeout:   s.Turn.StageTimeout,
		KeepUnanswered: s.History.KeepUnanswered,
		Labels: turn.Labels{
			User:  s.Transcript.UserLabel,
			Model: s.Transcript.ModelLabel,
		},
	}
}
