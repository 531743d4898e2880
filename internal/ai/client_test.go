package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithSleeper(func(time.Duration) {})}, opts...)
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: url}, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{APIKey: " sk "})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q", c.cfg.BaseURL)
	}
	if c.cfg.TranscribeModel != "whisper-1" || c.cfg.ChatModel != "gpt-4" {
		t.Errorf("models = %q/%q", c.cfg.TranscribeModel, c.cfg.ChatModel)
	}
	if c.cfg.APIKey != "sk" {
		t.Errorf("APIKey = %q, want trimmed", c.cfg.APIKey)
	}
}

func TestTranscribe_SendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "call.wav" || len(data) != 4 {
			t.Errorf("file = %s (%d bytes)", hdr.Filename, len(data))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  hello there  "}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	text, err := c.Transcribe(context.Background(), []byte{1, 2, 3, 4}, "call.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	c := newTestClient(t, "http://unused")
	if _, err := c.Transcribe(context.Background(), nil, "x.wav"); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestSummarize_Payload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
			return
		}
		if req.Model != "gpt-4" || req.MaxTokens != 1000 || req.Temperature != 0.3 {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Content != NotesSystemPrompt {
			t.Errorf("messages = %+v", req.Messages)
		}
		if !strings.HasSuffix(req.Messages[1].Content, "\n\nwe agreed to ship friday") {
			t.Errorf("user message = %q", req.Messages[1].Content)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"- ship friday"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	notes, err := c.Summarize(context.Background(), "we agreed to ship friday")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if notes != "- ship friday" {
		t.Errorf("notes = %q", notes)
	}
}

func TestSummarize_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Summarize(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty completion")
	}
}

func TestRetry_ServerErrorThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("busy"))
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv.URL,
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(10*time.Millisecond, time.Second))
	text, err := c.Transcribe(context.Background(), []byte{1}, "a.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("text = %q after %d calls", text, calls)
	}
	if len(slept) != 2 || slept[0] != 10*time.Millisecond || slept[1] != 20*time.Millisecond {
		t.Errorf("backoff = %v, want [10ms 20ms]", slept)
	}
}

func TestRetry_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Summarize(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "http 401") {
		t.Errorf("error = %q", err.Error())
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_RespectsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	var slept []time.Duration
	c := newTestClient(t, srv.URL, WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	if _, err := c.Transcribe(context.Background(), []byte{1}, ""); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("slept = %v, want [2s]", slept)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"5", 5 * time.Second, true},
		{"-1", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseRetryAfter(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBackoff(t *testing.T) {
	c := newTestClient(t, "http://unused", WithRetryBackoff(time.Second, 3*time.Second))
	tests := []struct {
		name    string
		attempt int
		err     error
		want    time.Duration
	}{
		{"first retry", 1, &statusError{code: 503}, time.Second},
		{"doubles", 2, &statusError{code: 503}, 2 * time.Second},
		{"capped", 3, &statusError{code: 503}, 3 * time.Second},
		{"retry-after wins", 1, &statusError{code: 429, retryAfter: 2 * time.Second}, 2 * time.Second},
		{"retry-after capped", 1, &statusError{code: 429, retryAfter: time.Minute}, 3 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.backoff(tt.attempt, tt.err); got != tt.want {
				t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}
