// Package telephony implements the provider operations the call core relies
// on: ending a live call, downloading recordings, and answering with TwiML.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	apiVersion         = "2010-04-01"
	defaultTimeout     = 30 * time.Second
	defaultProcessWait = 3 * time.Second
)

// Opts configures a provider client.
type Opts struct {
	AccountSID string
	AuthToken  string
	BaseURL    string // defaults to https://api.twilio.com

	HTTPClient *http.Client
	// ProcessingWait is how long to wait before downloading a recording the
	// provider still reports as processing.
	ProcessingWait time.Duration
}

// Client calls the provider REST API with account credentials.
type Client struct {
	accountSID     string
	authToken      string
	baseURL        string
	httpClient     *http.Client
	processingWait time.Duration
}

// Recording is the provider's metadata for a finished recording.
type Recording struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
	URI    string `json:"uri"`
}

// New validates opts and returns a client.
func New(opts Opts) (*Client, error) {
	if opts.AccountSID == "" {
		return nil, errors.New("telephony: account sid is required")
	}
	if opts.AuthToken == "" {
		return nil, errors.New("telephony: auth token is required")
	}
	c := &Client{
		accountSID:     opts.AccountSID,
		authToken:      opts.AuthToken,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		httpClient:     opts.HTTPClient,
		processingWait: opts.ProcessingWait,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.twilio.com"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.processingWait == 0 {
		c.processingWait = defaultProcessWait
	}
	return c, nil
}

// EndCall asks the provider to hang up a live call.
func (c *Client) EndCall(ctx context.Context, callSid string) error {
	if callSid == "" {
		return errors.New("telephony: end call: call sid is required")
	}
	form := url.Values{"Status": {"completed"}}
	endpoint := fmt.Sprintf("%s/%s/Accounts/%s/Calls/%s.json",
		c.baseURL, apiVersion, url.PathEscape(c.accountSID), url.PathEscape(callSid))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: end call %s: %w", callSid, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("telephony: end call %s: %w", callSid, err)
	}
	return nil
}

// GetRecording fetches recording metadata.
func (c *Client) GetRecording(ctx context.Context, recordingSid string) (*Recording, error) {
	endpoint := fmt.Sprintf("%s/%s/Accounts/%s/Recordings/%s.json",
		c.baseURL, apiVersion, url.PathEscape(c.accountSID), url.PathEscape(recordingSid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: get recording %s: %w", recordingSid, err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: get recording %s: %w", recordingSid, err)
	}
	var rec Recording
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("telephony: decode recording %s: %w", recordingSid, err)
	}
	if rec.URI == "" {
		return nil, fmt.Errorf("telephony: recording %s has no uri", recordingSid)
	}
	return &rec, nil
}

// FetchRecording downloads the MP3 audio of a recording. A recording still
// being processed is given one grace period before the download.
func (c *Client) FetchRecording(ctx context.Context, recordingSid string) ([]byte, error) {
	if recordingSid == "" {
		return nil, errors.New("telephony: fetch recording: recording sid is required")
	}
	rec, err := c.GetRecording(ctx, recordingSid)
	if err != nil {
		return nil, err
	}
	if rec.Status == "processing" {
		timer := time.NewTimer(c.processingWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("telephony: fetch recording %s: %w", recordingSid, ctx.Err())
		case <-timer.C:
		}
	}

	download := c.baseURL + strings.Replace(rec.URI, ".json", ".mp3", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, download, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: fetch recording %s: %w", recordingSid, err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("telephony: download recording %s: %w", recordingSid, err)
	}
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.accountSID, c.authToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
