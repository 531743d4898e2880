package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/switchboard/internal/notify"
)

type mockSlackClient struct {
	mu       sync.Mutex
	posted   []string
	failures []error // returned in order before succeeding
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", "", err
	}
	m.posted = append(m.posted, channelID)
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Opts
		wantErr string
	}{
		{"missing token", Opts{ChannelID: "C1"}, "bot token is required"},
		{"missing channel", Opts{BotToken: "xoxb-1"}, "channel id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
	if _, err := New(Opts{BotToken: "xoxb-1", ChannelID: "C1"}); err != nil {
		t.Errorf("real client: %v", err)
	}
}

func TestSend_PostsToChannel(t *testing.T) {
	client := &mockSlackClient{}
	s, err := New(Opts{Client: client, ChannelID: "C_CALLS"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "slack" {
		t.Errorf("Name = %q", s.Name())
	}
	if err := s.Send(context.Background(), notify.FormatCallEnded("CA1", "completed")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.postedCount() != 1 || client.posted[0] != "C_CALLS" {
		t.Errorf("posted = %v", client.posted)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{failures: []error{&slackapi.RateLimitedError{RetryAfter: 10 * time.Millisecond}}}
	s, _ := New(Opts{Client: client, ChannelID: "C1"})
	if err := s.Send(context.Background(), notify.Message{Title: "t"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.postedCount() != 1 {
		t.Errorf("posted = %d, want 1", client.postedCount())
	}
}

func TestSend_OtherErrorNotRetried(t *testing.T) {
	client := &mockSlackClient{failures: []error{errors.New("channel_not_found")}}
	s, _ := New(Opts{Client: client, ChannelID: "C1"})
	err := s.Send(context.Background(), notify.Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v", err)
	}
	if client.postedCount() != 0 {
		t.Error("should not have retried")
	}
}

func TestRetryOnRateLimit_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryOnRateLimit(ctx, func() error {
		return &slackapi.RateLimitedError{RetryAfter: time.Hour}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMessageToAttachment(t *testing.T) {
	att := messageToAttachment(notify.FormatNoteCreated("CA9", "recording", "- call back"))
	if att.Title != "Notes ready for call CA9" || att.Text != "- call back" {
		t.Errorf("attachment = %+v", att)
	}
	if att.Color != notify.ColorInfo || len(att.Fields) != 2 {
		t.Errorf("attachment = %+v", att)
	}
	if att.Fields[1].Value != "recording" || !att.Fields[1].Short {
		t.Errorf("source field = %+v", att.Fields[1])
	}
}
