package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperr "github.com/meetscribe/platform/internal/errors"
)

const summaryPrompt = "You are a meeting assistant. Summarize the following meeting " +
	"transcript into concise prose: key decisions, action items, and open questions. " +
	"Do not invent content that is not in the transcript."

// OllamaClient summarizes transcripts through an ollama chat endpoint.
type OllamaClient struct {
	url    string
	model  string
	client *http.Client
}

func NewOllamaClient(url, model string) *OllamaClient {
	return &OllamaClient{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"created_at"`
	Message   chatMessage `json:"message"`
	Done      bool        `json:"done"`
}

// Summarize runs a single non-streaming chat completion over the transcript.
func (c *OllamaClient) Summarize(ctx context.Context, transcript string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "encode summary request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "build summary request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(err, apperr.SummarizationError, "summarization service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Newf(apperr.SummarizationError, "summarization service returned %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Wrap(err, apperr.SummarizationError, "decode summary response")
	}

	summary := strings.TrimSpace(out.Message.Content)
	if summary == "" {
		return "", apperr.New(apperr.SummarizationError, "summarization service returned an empty summary")
	}
	return summary, nil
}
