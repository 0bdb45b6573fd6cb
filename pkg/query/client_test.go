package query

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-go-golems/grillo/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	genai "google.golang.org/genai"
)

type wirePart struct {
	Text       string `json:"text"`
	InlineData *struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireRequest struct {
	Contents []wireContent `json:"contents"`
}

func newTestClient(t *testing.T, url string) *GeminiClient {
	c, err := NewGeminiClient(context.Background(), Settings{
		APIKey:  "k",
		BaseURL: url,
		Persona: "You are a cheerful companion.",
	})
	require.NoError(t, err)
	return c
}

func TestGeminiClient_Query(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/"+DefaultModel+":generateContent"), r.URL.Path)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi! Nice to meet you."}]}}]}`))
	}))
	defer srv.Close()

	entries := []history.Entry{
		{Role: history.RoleUser, Text: "hello"},
		{Role: history.RoleModel, Text: "hey"},
	}
	reply, err := newTestClient(t, srv.URL).Query(context.Background(), entries, "what is this?", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.Equal(t, "Hi! Nice to meet you.", reply)

	require.Len(t, got.Contents, 4)
	require.Equal(t, "user", got.Contents[0].Role)
	require.Equal(t, "You are a cheerful companion.", got.Contents[0].Parts[0].Text)
	require.Equal(t, "user", got.Contents[1].Role)
	require.Equal(t, "hello", got.Contents[1].Parts[0].Text)
	require.Equal(t, "model", got.Contents[2].Role)
	require.Equal(t, "hey", got.Contents[2].Parts[0].Text)

	last := got.Contents[3]
	require.Equal(t, "user", last.Role)
	require.Len(t, last.Parts, 2)
	require.NotNil(t, last.Parts[0].InlineData)
	require.Equal(t, "image/png", last.Parts[0].InlineData.MIMEType)
	require.NotEmpty(t, last.Parts[0].InlineData.Data)
	require.Equal(t, "what is this?", last.Parts[1].Text)
}

func TestGeminiClient_QueryWithoutImage(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	reply, err := newTestClient(t, srv.URL).Query(context.Background(), nil, "just text", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
	require.Len(t, got.Contents, 2)
	require.Len(t, got.Contents[1].Parts, 1)
	require.Nil(t, got.Contents[1].Parts[0].InlineData)
}

func TestGeminiClient_DistinctFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"no candidates", http.StatusOK, `{"candidates":[]}`, ErrMalformedResponse},
		{"no parts", http.StatusOK, `{"candidates":[{"content":{"parts":[]}}]}`, ErrMalformedResponse},
		{"blank text", http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":" "}]}}]}`, ErrMalformedResponse},
		{"undecodable", http.StatusOK, `{"candidates": [`, ErrMalformedResponse},
		{"server error", http.StatusInternalServerError, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`, ErrNetwork},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"message":"slow down","status":"RESOURCE_EXHAUSTED"}}`, ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Query(context.Background(), nil, "q", nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGeminiClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Query(context.Background(), nil, "q", nil)
	require.ErrorIs(t, err, ErrNetwork)
}

func TestBuildContents_SkipsEmptyPersona(t *testing.T) {
	contents := BuildContents("", []history.Entry{{Role: history.RoleModel, Text: "a"}}, "b", nil, DefaultImageMIME)
	require.Len(t, contents, 2)
	require.Equal(t, string(genai.RoleModel), contents[0].Role)
	require.Equal(t, "b", contents[1].Parts[0].Text)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), Settings{})
	require.Error(t, err)
}
