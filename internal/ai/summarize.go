package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NotesSystemPrompt instructs the chat model how to write call notes.
const NotesSystemPrompt = "You are an AI assistant that creates concise, structured meeting notes from phone call transcripts. Extract key points, action items, and important details."

const (
	notesMaxTokens   = 1000
	notesTemperature = 0.3
)

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize turns a call transcript into structured notes.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", errors.New("ai: summarize: transcript is empty")
	}
	payload, err := json.Marshal(chatCompletionRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: NotesSystemPrompt},
			{Role: "user", Content: "Please create structured notes from this phone call transcript:\n\n" + transcript},
		},
		MaxTokens:   notesMaxTokens,
		Temperature: notesTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("ai: summarize: encode request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, "summarize", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", fmt.Errorf("ai: summarize: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("ai: summarize: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", errors.New("ai: summarize: empty completion")
}
