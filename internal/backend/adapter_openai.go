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

// OpenAICompatibleAdapter speaks the OpenAI chat/completions wire shape
// directly over net/http, the way ai.OpenAIClient does it: no SDK, just a
// marshalled request body and a parsed choices[0].message.content. It
// serves every backend kind whose provider exposes that shape: local
// (LM Studio/Ollama-style), openai_compatible, nvidia, groq.
type OpenAICompatibleAdapter struct {
	desc       Descriptor
	httpClient *http.Client
	apiKey     string
}

// NewOpenAICompatibleAdapter builds the adapter, resolving the API key
// (if any) from the descriptor's configured env var. Local backends
// typically have no key.
func NewOpenAICompatibleAdapter(desc Descriptor) *OpenAICompatibleAdapter {
	key := ""
	if desc.APIKeyEnv != "" {
		key = os.Getenv(desc.APIKeyEnv)
	}
	return &OpenAICompatibleAdapter{
		desc:       desc,
		httpClient: telemetry.NewTracedHTTPClient(nil),
		apiKey:     key,
	}
}

func (a *OpenAICompatibleAdapter) Name() string { return a.desc.Name }
func (a *OpenAICompatibleAdapter) Descriptor() Descriptor { return a.desc }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *OpenAICompatibleAdapter) Probe(ctx context.Context) ProbeResult {
	timeout := 3 * time.Second
	if a.desc.Kind == KindLocal {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(a.desc.EndpointURL, "/") + "/models"
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

func (a *OpenAICompatibleAdapter) applyAuth(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.desc.Headers {
		req.Header.Set(k, v)
	}
}

func (a *OpenAICompatibleAdapter) Call(ctx context.Context, r Request) (Response, error) {
	body := chatRequest{
		Model:       a.desc.ModelID,
		Messages:    []chatMessage{{Role: "user", Content: r.Prompt}},
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)}
	}

	url := strings.TrimRight(a.desc.EndpointURL, "/") + "/chat/completions"
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

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: apperrors.ErrInvalidResponse}
	}

	return Response{
		Content:          parsed.Choices[0].Message.Content,
		ReasoningContent: parsed.Choices[0].Message.ReasoningContent,
		TokensUsed:       parsed.Usage.TotalTokens,
		RawLatencyMS:     latency,
	}, nil
}
