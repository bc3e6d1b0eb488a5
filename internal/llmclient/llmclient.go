// Package llmclient implements the external LLM collaborator contract of
// spec §6: given a tokenised document, a label, and a schema, it returns
// a JSON object whose keys are exactly the requested field names. Grounded
// on the teacher's internal/proxy/upstream.go (pooled http.Client,
// context cancellation, header construction) and on
// original_source/core/connectors/llm_connector.py's prompt shape and
// brace-slicing defensiveness.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/allaspectsdev/pdfxtract/internal/apierr"
	"github.com/allaspectsdev/pdfxtract/internal/schema"
	"github.com/allaspectsdev/pdfxtract/internal/tokeniser"
	"github.com/allaspectsdev/pdfxtract/internal/tracing"
)

// DefaultTimeout bounds a single extraction call, matching the teacher's
// UpstreamClient default.
const DefaultTimeout = 60 * time.Second

// Client calls the configured extraction LLM endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

// New builds a Client with a pooled, timeout-bounded transport, mirroring
// NewUpstreamClient's connection-pooling defaults.
func New(baseURL, model, apiKey string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   DefaultTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
	}
}

// chatRequest is the minimal OpenAI-compatible chat-completions request
// body this client sends: one user message, JSON object response format.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Extract calls the LLM with a serialised document and schema, returning
// the field values it reports. Per spec §6, a value is always a string
// or explicit null; the LLM client never invents fields beyond the
// requested schema.
func (c *Client) Extract(ctx context.Context, label string, s *schema.Schema, tokens []tokeniser.PositionedToken) (map[string]schema.FieldValue, error) {
	url := c.baseURL + "/v1/chat/completions"
	ctx, span := tracing.StartUpstreamSpan(ctx, url, c.model)
	defer span.End()

	prompt := BuildPrompt(label, s, tokens)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("llmclient: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("llmclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	tracing.InjectHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("llmclient: call %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("llmclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("llmclient: upstream returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
		tracing.RecordError(ctx, err)
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("llmclient: decode chat envelope: %w", err)
	}
	if len(parsed.Choices) == 0 {
		err := fmt.Errorf("llmclient: empty choices in response")
		tracing.RecordError(ctx, err)
		return nil, err
	}

	fields, err := ParseFieldValues(parsed.Choices[0].Message.Content)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, &apierr.UnparseableLLMResponse{Err: err}
	}
	return fields, nil
}

// ParseFieldValues defensively slices the raw LLM text from its first
// `{` to last `}` before decoding, since the model may prepend reasoning
// preamble, then maps each decoded value to a FieldValue. A decode
// failure here is the UnparseableLLMResponse condition of spec §7; the
// caller (the Pipeline) is responsible for recovering by treating the
// result as empty, not this function.
func ParseFieldValues(raw string) (map[string]schema.FieldValue, error) {
	sliced, err := sliceBraces(raw)
	if err != nil {
		return nil, err
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(sliced), &decoded); err != nil {
		return nil, fmt.Errorf("llmclient: parse JSON object: %w", err)
	}

	out := make(map[string]schema.FieldValue, len(decoded))
	for k, v := range decoded {
		if v == nil {
			out[k] = schema.NullValue()
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = schema.StringValue(s)
			continue
		}
		// Non-string, non-null values (the model ignoring instructions)
		// are coerced to their JSON text rather than dropped.
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("llmclient: re-encode field %s: %w", k, err)
		}
		out[k] = schema.StringValue(string(b))
	}

	return out, nil
}

func sliceBraces(raw string) (string, error) {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first == -1 || last == -1 || last < first {
		return "", fmt.Errorf("llmclient: no JSON object found in LLM response")
	}
	return raw[first : last+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
