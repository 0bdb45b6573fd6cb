// Package query sends the conversation plus the new question (and an
// optional image) to Gemini and returns the reply text.
package query

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/go-go-golems/grillo/pkg/history"
	"github.com/go-go-golems/grillo/pkg/stage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	genai "google.golang.org/genai"
)

var (
	ErrNetwork           = stage.New(stage.Query, stage.KindNetwork)
	ErrMalformedResponse = stage.New(stage.Query, stage.KindMalformedResponse)
)

const (
	DefaultModel     = "gemini-2.0-flash"
	DefaultImageMIME = "image/png"
)

type Client interface {
	Query(ctx context.Context, entries []history.Entry, userText string, image []byte) (string, error)
}

type Settings struct {
	APIKey  string
	BaseURL string
	Model   string
	// Persona is sent as the first user turn of every request.
	Persona     string
	ImageMIME   string
	Temperature *float32
}

// GeminiClient issues one generateContent call per query.
type GeminiClient struct {
	settings Settings
	client   *genai.Client
}

var _ Client = (*GeminiClient)(nil)

func NewGeminiClient(ctx context.Context, s Settings) (*GeminiClient, error) {
	if s.APIKey == "" {
		return nil, errors.New("missing gemini API key")
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.ImageMIME == "" {
		s.ImageMIME = DefaultImageMIME
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      s.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: s.BaseURL},
		HTTPClient:  &http.Client{Transport: statusRecorder{next: http.DefaultTransport}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gemini client")
	}
	return &GeminiClient{settings: s, client: client}, nil
}

// BuildContents lays out the request: persona, replayed history, then the
// new question with the image ahead of the text.
func BuildContents(persona string, entries []history.Entry, userText string, image []byte, imageMIME string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(entries)+2)
	if persona != "" {
		contents = append(contents, genai.NewContentFromText(persona, genai.RoleUser))
	}
	for _, e := range entries {
		contents = append(contents, genai.NewContentFromText(e.Text, roleToGeminiRole(e.Role)))
	}

	var parts []*genai.Part
	if len(image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(image, imageMIME))
	}
	parts = append(parts, genai.NewPartFromText(userText))
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	return contents
}

func roleToGeminiRole(r history.Role) genai.Role {
	if r == history.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func (c *GeminiClient) Query(ctx context.Context, entries []history.Entry, userText string, image []byte) (string, error) {
	contents := BuildContents(c.settings.Persona, entries, userText, image, c.settings.ImageMIME)

	var cfg *genai.GenerateContentConfig
	if c.settings.Temperature != nil {
		cfg = &genai.GenerateContentConfig{Temperature: c.settings.Temperature}
	}

	rec := &callRecord{}
	log.Debug().
		Str("model", c.settings.Model).
		Int("history", len(entries)).
		Bool("image", len(image) > 0).
		Msg("Sending generateContent request")

	resp, err := c.client.Models.GenerateContent(withCallRecord(ctx, rec), c.settings.Model, contents, cfg)
	if err != nil {
		// a 2xx that failed to decode is a shape problem, anything else never
		// produced a usable response
		if rec.succeeded() {
			return "", stage.Wrap(ErrMalformedResponse, err)
		}
		return "", stage.Wrap(ErrNetwork, err)
	}
	return ExtractReply(resp)
}

// ExtractReply returns the first text part of the first candidate.
func ExtractReply(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", stage.Wrapf(ErrMalformedResponse, "no candidates")
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0] == nil {
		return "", stage.Wrapf(ErrMalformedResponse, "first candidate has no parts")
	}
	text := strings.TrimSpace(content.Parts[0].Text)
	if text == "" {
		return "", stage.Wrapf(ErrMalformedResponse, "first part has no text")
	}
	return text, nil
}

type callRecordKey struct{}

type callRecord struct {
	mu     sync.Mutex
	status int
}

func (r *callRecord) succeeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status >= 200 && r.status < 300
}

func withCallRecord(ctx context.Context, r *callRecord) context.Context {
	return context.WithValue(ctx, callRecordKey{}, r)
}

// statusRecorder notes the HTTP status of each call on the record carried by
// the request context.
type statusRecorder struct {
	next http.RoundTripper
}

func (s statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if rec, ok := req.Context().Value(callRecordKey{}).(*callRecord); ok && resp != nil {
		rec.mu.Lock()
		rec.status = resp.StatusCode
		rec.mu.Unlock()
	}
	return resp, err
}
