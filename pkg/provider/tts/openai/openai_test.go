package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/dialcoach/pkg/audio"
	"github.com/MrWong99/dialcoach/pkg/provider/tts/openai"
	"github.com/MrWong99/dialcoach/pkg/types"
)

type speechRequest struct {
	Input          string  `json:"input"`
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func startSpeechServer(t *testing.T, status int, body []byte, got chan<- speechRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		var req speechRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if got != nil {
			got <- req
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestSynthesize_WrapsPCMInWAV(t *testing.T) {
	t.Parallel()

	reqs := make(chan speechRequest, 1)
	srv := startSpeechServer(t, http.StatusOK, make([]byte, 480), reqs)

	p, err := openai.New("key", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithModel("tts-1"), openai.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := p.Synthesize(context.Background(), "Hello there", types.VoiceProfile{ID: "coral", SpeedFactor: 1.25})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	req := <-reqs
	if req.Input != "Hello there" || req.Model != "tts-1" || req.Voice != "coral" {
		t.Errorf("request = %+v", req)
	}
	if req.ResponseFormat != "pcm" {
		t.Errorf("response_format = %q, want pcm", req.ResponseFormat)
	}
	if req.Speed != 1.25 {
		t.Errorf("speed = %v, want 1.25", req.Speed)
	}

	clip, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.Format != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("Format = %v", clip.Format)
	}
	if clip.Frames() != 240 {
		t.Errorf("Frames() = %d, want 240", clip.Frames())
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()

	reqs := make(chan speechRequest, 1)
	srv := startSpeechServer(t, http.StatusOK, make([]byte, 4), reqs)
	p, _ := openai.New("key", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))

	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if req := <-reqs; req.Voice != "alloy" {
		t.Errorf("voice = %q, want alloy", req.Voice)
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	t.Parallel()

	srv := startSpeechServer(t, http.StatusBadRequest, nil, nil)
	p, _ := openai.New("key", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))

	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for HTTP 400")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p, _ := openai.New("key")
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}
