package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/grillo/pkg/audio"
	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultGoogleURL = "https://speech.googleapis.com/v1/speech:recognize"

// GoogleClient calls the Cloud Speech-to-Text recognize endpoint with
// LINEAR16 audio.
type GoogleClient struct {
	apiKey     string
	url        string
	language   string
	httpClient *http.Client
}

var _ Client = (*GoogleClient)(nil)

type GoogleOption func(*GoogleClient)

func WithGoogleURL(url string) GoogleOption {
	return func(c *GoogleClient) {
		if url != "" {
			c.url = url
		}
	}
}

func WithGoogleHTTPClient(client *http.Client) GoogleOption {
	return func(c *GoogleClient) {
		c.httpClient = client
	}
}

func NewGoogleClient(apiKey, language string, options ...GoogleOption) *GoogleClient {
	c := &GoogleClient{
		apiKey:     apiKey,
		url:        DefaultGoogleURL,
		language:   language,
		httpClient: &http.Client{},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

type recognizeConfig struct {
	Encoding        string `json:"encoding"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	LanguageCode    string `json:"languageCode"`
}

type recognizeAudio struct {
	Content string `json:"content"`
}

type recognizeRequest struct {
	Config recognizeConfig `json:"config"`
	Audio  recognizeAudio  `json:"audio"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (c *GoogleClient) Transcribe(ctx context.Context, clip *audio.Clip) (string, error) {
	if clip == nil {
		return "", errors.New("clip is nil")
	}
	wav, err := clip.WAV()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(recognizeRequest{
		Config: recognizeConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: clip.SampleRate,
			LanguageCode:    c.language,
		},
		Audio: recognizeAudio{Content: base64.StdEncoding.EncodeToString(wav)},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode recognize request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", stage.Wrap(ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	log.Debug().Str("url", c.url).Float64("duration", clip.DurationSeconds()).Msg("Sending recognize request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", stage.Wrap(ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", stage.Wrap(ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", stage.Wrapf(ErrNetwork, "speech-to-text returned %d: %s", resp.StatusCode, truncate(raw))
	}

	var parsed recognizeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", stage.Wrap(ErrMalformedResponse, err)
	}

	// long clips come back as consecutive results
	var parts []string
	for _, r := range parsed.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
