package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	apperr "github.com/meetscribe/platform/internal/errors"
	"github.com/meetscribe/platform/internal/resilience"
	"github.com/meetscribe/platform/internal/trace"
)

// WhisperClient posts WAV audio to a faster-whisper style HTTP server
// and decodes its JSON transcript.
type WhisperClient struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewWhisperClient builds a client for the given transcribe endpoint.
// Word timestamps are always requested so captions carry segment times.
func NewWhisperClient(rawURL string, timeout time.Duration) *WhisperClient {
	if u, err := url.Parse(rawURL); err == nil {
		q := u.Query()
		q.Set("word_timestamps", "1")
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}
	return &WhisperClient{
		url:    rawURL,
		client: &http.Client{Timeout: timeout},
		retry:  resilience.EngineRetryConfig(),
	}
}

type whisperResponse struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Transcribe sends the WAV at path and returns the recognized text with
// its timed segments. Transient failures are retried with backoff.
func (c *WhisperClient) Transcribe(ctx context.Context, path string) (string, []Segment, error) {
	wav, err := os.ReadFile(path)
	if err != nil {
		return "", nil, apperr.Wrap(err, apperr.TranscriptionError, "read audio for transcription")
	}

	var out whisperResponse
	err = resilience.Retry(ctx, c.retry, func() error {
		return c.post(ctx, wav, &out)
	})
	if err != nil {
		return "", nil, err
	}

	text := strings.TrimSpace(out.Text)
	for i := range out.Segments {
		out.Segments[i].Text = strings.TrimSpace(out.Segments[i].Text)
	}
	return text, out.Segments, nil
}

func (c *WhisperClient) post(ctx context.Context, wav []byte, out *whisperResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(wav))
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "build transcription request")
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set(trace.HeaderKey, trace.FromContext(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(err, apperr.TranscriptionError, "transcription service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return apperr.Newf(apperr.TranscriptionError, "transcription service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		// 4xx means this audio will never transcribe; do not retry.
		return apperr.Newf(apperr.Internal, "transcription rejected: %d %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.TranscriptionError, "decode transcription response")
	}
	return nil
}
