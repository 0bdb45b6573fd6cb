package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/grillo/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClip() *audio.Clip {
	return audio.NewClip(make([]float32, 16000), 16000, 1)
}

func TestGoogleClient_Transcribe(t *testing.T) {
	var got recognizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Goog-Api-Key"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"hello","confidence":0.93}]}]}`))
	}))
	defer srv.Close()

	c := NewGoogleClient("secret", "ja-JP", WithGoogleURL(srv.URL))
	text, err := c.Transcribe(context.Background(), testClip())
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	require.Equal(t, "LINEAR16", got.Config.Encoding)
	require.Equal(t, 16000, got.Config.SampleRateHertz)
	require.Equal(t, "ja-JP", got.Config.LanguageCode)
	require.NotEmpty(t, got.Audio.Content)
}

func TestGoogleClient_JoinsConsecutiveResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"hello"}]},{"alternatives":[{"transcript":" world "}]}]}`))
	}))
	defer srv.Close()

	text, err := NewGoogleClient("k", "en-US", WithGoogleURL(srv.URL)).Transcribe(context.Background(), testClip())
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestGoogleClient_DistinctFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"empty payload", http.StatusOK, `{}`, ErrEmptyResult},
		{"blank transcript", http.StatusOK, `{"results":[{"alternatives":[{"transcript":"  "}]}]}`, ErrEmptyResult},
		{"no alternatives", http.StatusOK, `{"results":[{"alternatives":[]}]}`, ErrEmptyResult},
		{"malformed", http.StatusOK, `{"results": [`, ErrMalformedResponse},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrNetwork},
		{"unauthorized", http.StatusForbidden, ``, ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewGoogleClient("k", "ja-JP", WithGoogleURL(srv.URL)).Transcribe(context.Background(), testClip())
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGoogleClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewGoogleClient("k", "ja-JP", WithGoogleURL(url)).Transcribe(context.Background(), testClip())
	require.ErrorIs(t, err, ErrNetwork)
}

func TestOpenAIClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "ja", r.FormValue("language"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello"}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL+"/v1", "", "ja-JP")
	text, err := c.Transcribe(context.Background(), testClip())
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestOpenAIClient_EmptyAndNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("k", srv.URL+"/v1", "", "en").Transcribe(context.Background(), testClip())
	require.ErrorIs(t, err, ErrEmptyResult)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer failing.Close()

	_, err = NewOpenAIClient("k", failing.URL+"/v1", "", "en").Transcribe(context.Background(), testClip())
	require.ErrorIs(t, err, ErrNetwork)
}
