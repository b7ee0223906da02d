// Package fallback calls the answer and summary services over plain HTTP.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"livemeet/internal/ports"
)

// ErrRequestFailed wraps every failed fallback call.
var ErrRequestFailed = errors.New("fallback request failed")

// Config holds the service endpoints.
type Config struct {
	LiveAnswerURL string
	SummaryURL    string
	Timeout       time.Duration
}

// Client implements ports.Fallback.
type Client struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "fallback").Logger(),
	}
}

type liveAnswerBody struct {
	Text      []string `json:"text"`
	UI        []string `json:"ui"`
	AudioMeta string   `json:"audio_meta"`
}

type liveAnswerResult struct {
	Answer string `json:"answer"`
}

type summarizeBody struct {
	FullTranscript string   `json:"full_transcript"`
	Highlights     []string `json:"highlights"`
}

type summarizeResult struct {
	Summary string   `json:"summary"`
	Tasks   []string `json:"tasks"`
}

// LiveAnswer posts the current screen context and question.
func (c *Client) LiveAnswer(ctx context.Context, req ports.LiveAnswerRequest) (string, error) {
	body := liveAnswerBody{
		Text:      nonNil(req.Text),
		UI:        nonNil(req.UI),
		AudioMeta: req.AudioMeta,
	}
	var out liveAnswerResult
	if err := c.post(ctx, c.cfg.LiveAnswerURL, body, &out); err != nil {
		return "", err
	}
	return out.Answer, nil
}

// Summarize posts the session transcript and highlights.
func (c *Client) Summarize(ctx context.Context, req ports.SummarizeRequest) (ports.SummarizeResponse, error) {
	body := summarizeBody{
		FullTranscript: req.FullTranscript,
		Highlights:     nonNil(req.Highlights),
	}
	var out summarizeResult
	if err := c.post(ctx, c.cfg.SummaryURL, body, &out); err != nil {
		return ports.SummarizeResponse{}, err
	}
	return ports.SummarizeResponse{Summary: out.Summary, Tasks: nonNil(out.Tasks)}, nil
}

func (c *Client) post(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrRequestFailed, url, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("fallback request completed")

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: POST %s: %d %s", ErrRequestFailed, url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	return nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
