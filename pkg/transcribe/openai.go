package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/grillo/pkg/audio"
	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes with the Whisper audio endpoint.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	language string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a Whisper backend. baseURL may be empty.
// language accepts BCP-47 tags; only the primary subtag is sent.
func NewOpenAIClient(apiKey, baseURL, model, language string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	if i := strings.IndexAny(language, "-_"); i > 0 {
		language = language[:i]
	}
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: strings.ToLower(language),
	}
}

func (c *OpenAIClient) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	if clip == nil {
		return "", errors.New("clip is nil")
	}
	wav, err := clip.WAV()
	if err != nil {
		return "", err
	}

	req := openai.AudioRequest{
		Model:    c.model,
		FilePath: "recording.wav",
		Reader:   bytes.NewReader(wav),
		Language: c.language,
		Format:   openai.AudioResponseFormatJSON,
	}
	log.Debug().Str("model", c.model).Float64("duration", clip.DurationSeconds()).Msg("Sending transcription request")

	resp, err := c.client.CreateTranscription(ctx, req)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return "", stage.Wrap(ErrMalformedResponse, err)
		}
		return "", stage.Wrap(ErrNetwork, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}
