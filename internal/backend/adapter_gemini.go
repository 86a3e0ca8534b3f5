package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/arcway/mcpmux/internal/apperrors"
	"github.com/arcway/mcpmux/internal/telemetry"
)

// GeminiAdapter speaks Google's generateContent REST shape: API key as a
// query parameter, a parts[] content array, candidates[0].content.parts[0].text
// on the way back. Same raw net/http discipline as the OpenAI-compatible
// adapter; no google.golang.org/genai SDK involved.
type GeminiAdapter struct {
	desc       Descriptor
	httpClient *http.Client
	apiKey     string
}

func NewGeminiAdapter(desc Descriptor) *GeminiAdapter {
	key := ""
	if desc.APIKeyEnv != "" {
		key = os.Getenv(desc.APIKeyEnv)
	}
	return &GeminiAdapter{desc: desc, httpClient: telemetry.NewTracedHTTPClient(nil), apiKey: key}
}

func (a *GeminiAdapter) Name() string { return a.desc.Name }
func (a *GeminiAdapter) Descriptor() Descriptor { return a.desc }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (a *GeminiAdapter) endpoint(action string) string {
	base := strings.TrimRight(a.desc.EndpointURL, "/")
	model := a.desc.ModelID
	if model == "" {
		model = "gemini-1.5-flash"
	}
	u := fmt.Sprintf("%s/models/%s:%s", base, model, action)
	q := url.Values{}
	if a.apiKey != "" {
		q.Set("key", a.apiKey)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (a *GeminiAdapter) Probe(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	base := strings.TrimRight(a.desc.EndpointURL, "/") + "/models"
	q := url.Values{}
	if a.apiKey != "" {
		q.Set("key", a.apiKey)
	}
	if len(q) > 0 {
		base += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return ProbeResult{Healthy: false, Detail: err.Error()}
	}
	for k, v := range a.desc.Headers {
		req.Header.Set(k, v)
	}

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

func (a *GeminiAdapter) Call(ctx context.Context, r Request) (Response, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: r.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: r.MaxTokens,
			Temperature:     r.Temperature,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("generateContent"), bytes.NewReader(payload))
	if err != nil {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: fmt.Errorf("%w: %v", apperrors.ErrTransport, err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.desc.Headers {
		httpReq.Header.Set(k, v)
	}

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

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: apperrors.ErrInvalidResponse}
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return Response{}, &apperrors.BackendError{Backend: a.desc.Name, Op: "call", Err: apperrors.ErrInvalidResponse}
	}

	return Response{
		Content:      text.String(),
		TokensUsed:   parsed.UsageMetadata.TotalTokenCount,
		RawLatencyMS: latency,
	}, nil
}
