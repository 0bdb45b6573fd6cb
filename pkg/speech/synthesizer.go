// Package speech turns reply text into audio bytes with the Google
// Text-to-Speech REST API.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrNetwork           = stage.New(stage.Synthesis, stage.KindNetwork)
	ErrMalformedResponse = stage.New(stage.Synthesis, stage.KindMalformedResponse)
	// ErrDegenerate is returned when the decoded audio is too small to be real
	// speech, or when there is nothing left to say after cleaning.
	ErrDegenerate = stage.New(stage.Synthesis, stage.KindDegenerate)
)

const (
	DefaultURL      = "https://texttospeech.googleapis.com/v1/text:synthesize"
	DefaultMinBytes = 100
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Voice struct {
	LanguageCode string  `yaml:"language" json:"languageCode"`
	Name         string  `yaml:"voice" json:"name"`
	Pitch        float64 `yaml:"pitch" json:"-"`
	SpeakingRate float64 `yaml:"rate" json:"-"`
}

func DefaultVoice() Voice {
	return Voice{
		LanguageCode: "ja-JP",
		Name:         "ja-JP-Wavenet-A",
		Pitch:        12.0,
		SpeakingRate: 1.1,
	}
}

type GoogleSynthesizer struct {
	apiKey     string
	url        string
	voice      Voice
	minBytes   int
	cleaner    Cleaner
	httpClient *http.Client
}

var _ Synthesizer = (*GoogleSynthesizer)(nil)

type Option func(*GoogleSynthesizer)

func WithURL(url string) Option {
	return func(s *GoogleSynthesizer) {
		if url != "" {
			s.url = url
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *GoogleSynthesizer) {
		s.httpClient = client
	}
}

func WithMinBytes(n int) Option {
	return func(s *GoogleSynthesizer) {
		if n > 0 {
			s.minBytes = n
		}
	}
}

func WithCleaner(c Cleaner) Option {
	return func(s *GoogleSynthesizer) {
		s.cleaner = c
	}
}

func NewGoogleSynthesizer(apiKey string, voice Voice, options ...Option) *GoogleSynthesizer {
	s := &GoogleSynthesizer{
		apiKey:     apiKey,
		url:        DefaultURL,
		voice:      voice,
		minBytes:   DefaultMinBytes,
		httpClient: &http.Client{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

type synthesisInput struct {
	Text string `json:"text"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	Pitch         float64 `json:"pitch"`
	SpeakingRate  float64 `json:"speakingRate"`
}

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       Voice          `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent *string `json:"audioContent"`
}

func (s *GoogleSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	cleaned := s.cleaner.Clean(text)
	if cleaned == "" {
		return nil, stage.Wrapf(ErrDegenerate, "nothing to synthesize")
	}

	body, err := json.Marshal(synthesizeRequest{
		Input: synthesisInput{Text: cleaned},
		Voice: s.voice,
		AudioConfig: audioConfig{
			AudioEncoding: "MP3",
			Pitch:         s.voice.Pitch,
			SpeakingRate:  s.voice.SpeakingRate,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode synthesize request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, stage.Wrap(ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", s.apiKey)

	log.Debug().Str("voice", s.voice.Name).Int("chars", len([]rune(cleaned))).Msg("Sending synthesize request")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, stage.Wrap(ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stage.Wrap(ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, stage.Wrapf(ErrNetwork, "text-to-speech returned %d: %s", resp.StatusCode, truncate(raw))
	}

	var parsed synthesizeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, stage.Wrap(ErrMalformedResponse, err)
	}
	if parsed.AudioContent == nil {
		return nil, stage.Wrapf(ErrMalformedResponse, "response has no audioContent")
	}
	audio, err := base64.StdEncoding.DecodeString(*parsed.AudioContent)
	if err != nil {
		return nil, stage.Wrap(ErrMalformedResponse, err)
	}
	if len(audio) < s.minBytes {
		return nil, stage.Wrapf(ErrDegenerate, "decoded audio is %d bytes, need at least %d", len(audio), s.minBytes)
	}
	return audio, nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
