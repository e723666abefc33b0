// Package ai implements the client for the external AI provider used for
// speech-to-text transcription, outline generation, and chapter drafting.
// The provider speaks the OpenAI REST surface (audio/transcriptions and
// chat/completions), which also covers self-hosted compatible gateways via
// ai.base_url.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/keepsake-app/keepsake/internal/config"
	"github.com/keepsake-app/keepsake/internal/telemetry"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client calls the AI provider. Safe for concurrent use.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	transcribeModel string
	outlineModel    string
	draftModel      string
}

// NewClient creates a provider client from configuration.
func NewClient(cfg *config.AIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai api_key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		transcribeModel: cfg.TranscribeModel,
		outlineModel:    cfg.OutlineModel,
		draftModel:      cfg.DraftModel,
	}, nil
}

// TranscriptSegment is one timed span of a transcription.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of a speech-to-text call.
type Transcription struct {
	Text     string              `json:"text"`
	Duration float64             `json:"duration"`
	Language string              `json:"language"`
	Segments []TranscriptSegment `json:"segments"`
}

// Transcribe sends audio to the speech-to-text endpoint and returns the
// verbose transcription with per-segment timings.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcription, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("failed to buffer audio: %w", err)
	}
	if err := mw.WriteField("model", c.transcribeModel); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result Transcription
	if err := c.do(req, "transcribe", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// chat request/response types, trimmed to the fields this service uses.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a chat completion and returns the first choice's content.
// jsonMode constrains the model to emit a single JSON object.
func (c *Client) complete(ctx context.Context, model, system, user string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var result chatResponse
	if err := c.do(req, "chat", &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("ai provider returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// do executes a request, records metrics, and decodes the JSON response.
func (c *Client) do(req *http.Request, operation string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	telemetry.AIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.AIRequestsTotal.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("ai provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.AIRequestsTotal.WithLabelValues(operation, "error").Inc()
		// The provider's error bodies are JSON; keep a bounded excerpt for logs.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ai provider returned %d: %s", resp.StatusCode, excerpt)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		telemetry.AIRequestsTotal.WithLabelValues(operation, "error").Inc()
		return fmt.Errorf("failed to decode ai response: %w", err)
	}

	telemetry.AIRequestsTotal.WithLabelValues(operation, "ok").Inc()
	return nil
}
