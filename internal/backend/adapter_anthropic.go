package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/arcway/mcpmux/internal/apperrors"
	"github.com/arcway/mcpmux/internal/telemetry"
)

// AnthropicAdapter speaks the /v1/messages wire shape: x-api-key header,
// anthropic-version header, content[] blocks of {type, text} on the way
// back. Raw net/http, no anthropic-sdk-go.
type AnthropicAdapter struct {
	desc       Descriptor
	httpClient *http.Client
	apiKey     string
}

func NewAnthropicAdapter(desc Descriptor) *AnthropicAdapter {
	key := ""
	if desc.APIKeyEnv != "" {
		key = os.Getenv(desc.APIKeyEnv)
	}
	return &AnthropicAdapter{desc: desc, httpClient: telemetry.NewTracedHTTPClient(nil), apiKey: key}
}

func (a *AnthropicAdapter) Name() string { return a.desc.Name }
func (a *AnthropicAdapter) Descriptor() Descriptor { return a.desc }

const anthropicVersion = "2023-06-01"

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *AnthropicAdapter) applyAuth(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("x-api-key", a.apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range a.desc.Headers {
		req.Header.Set(k, v)
	}
}

func (a *AnthropicAdapter) Probe(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	url := strings.TrimRight(a.desc.EndpointURL, "/") + "/v1/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Healthy: false, Detail: err.Error()}
	}
	a.applyAuth(req)

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Healthy: false, LatencyMS: latency, Detail: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ProbeResult{Healthy: true, LatencyMS: latency}
	}
	return ProbeResult{Healthy: false, LatencyMS: latency, Detail: fmt.Sprintf("probe status %d", resp.StatusCode)}
}

func (a *AnthropicAdapter) Call(ctx context.Context, r Request) (Response, error) {
	body := anthropicRequest{
		Model:       a.desc.ModelID,
		Messages:    []anthropicMessage{{Role: "user", Content: r.Prompt}},
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)}
	}

	url := strings.TrimRight(a.desc.EndpointURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: fmt.Errorf("%w: %v", apperrors.ErrTransport, err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.applyAuth(httpReq)

	start := time.Now()
	resp, err := a.httpClient.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: apperrors.ErrTimeout}
		}
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: fmt.Errorf("%w: %v", apperrors.ErrTransport, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: fmt.Errorf("%w: %v", apperrors.ErrTransport, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, apperrors.NewHTTPError(a.desc.Name, "call", resp.StatusCode)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Content) == 0 {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: apperrors.ErrInvalidResponse}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: apperrors.ErrInvalidResponse}
	}

	return Response{
		Content:      text.String(),
		TokensUsed:   parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		RawLatencyMS: latency,
	}, nil
}
