package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

// Client is the generation + embedding provider surface. Calls are single
// attempts: lanes and retries belong to the callers, so transport here stays
// dumb and classifiable.
type Client interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	// Generate runs a structured-output call and reports finish reason and
	// token usage alongside the raw output text.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)

	Provider() string
	Model() string
	EmbedModel() string
}

type GenerateRequest struct {
	System     string
	User       string
	SchemaName string
	Schema     map[string]any
}

type GenerateResult struct {
	Text         string
	FinishReason string
	TokensIn     int
	TokensOut    int
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client

	temperature        *float64
	disableTemperature bool
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}

	embed := strings.TrimSpace(os.Getenv("OPENAI_EMBED_MODEL"))
	if embed == "" {
		embed = "text-embedding-3-large"
	}

	timeoutSec := 30
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	disableTemperature := false
	tempPtr := (*float64)(nil)
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("OPENAI_TEMPERATURE"))); v {
	case "off", "none", "false":
		disableTemperature = true
	case "":
		// Extraction wants reproducible output.
		tempPtr = f64ptr(0)
	default:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			tempPtr = f64ptr(f)
		} else {
			tempPtr = f64ptr(0)
		}
	}

	return &client{
		log:                log.With("service", "OpenAIClient"),
		baseURL:            baseURL,
		apiKey:             apiKey,
		model:              model,
		embedModel:         embed,
		httpClient:         &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		temperature:        tempPtr,
		disableTemperature: disableTemperature,
	}, nil
}

func (c *client) Provider() string   { return "openai" }
func (c *client) Model() string      { return c.model }
func (c *client) EmbedModel() string { return c.embedModel }

type openAIHTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *openAIHTTPError) Error() string {
	if e == nil {
		return "openai: nil error"
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *openAIHTTPError) RetryAfterHint() time.Duration {
	if e == nil {
		return 0
	}
	return e.RetryAfter
}

func (c *client) doOnce(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				httpErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return httpErr
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("openai decode error: %w", uErr)
	}
	return nil
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{
		Model: c.embedModel,
		Input: clean,
	}

	var resp embeddingsResponse
	if err := c.doOnce(ctx, "POST", "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := assembleEmbeddings(resp, len(clean))
	if !hasMissingEmbeddings(out) {
		return out, nil
	}

	// One correctness retry when the provider returns fewer indices than
	// inputs; transient failures are the caller's retry loop.
	c.log.Warn("Embeddings response missing indices; retrying once",
		"requested", len(clean),
		"returned", len(resp.Data),
		"model", c.embedModel,
	)
	var resp2 embeddingsResponse
	if err := c.doOnce(ctx, "POST", "/v1/embeddings", req, &resp2); err != nil {
		return nil, err
	}
	out2 := assembleEmbeddings(resp2, len(clean))
	if hasMissingEmbeddings(out2) {
		return nil, fmt.Errorf("openai embeddings missing indices after retry: requested=%d returned=%d model=%s", len(clean), len(resp2.Data), c.embedModel)
	}
	return out2, nil
}

func assembleEmbeddings(resp embeddingsResponse, n int) [][]float32 {
	out := make([][]float32, n)
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < n {
			out[d.Index] = vec
		}
	}
	if hasMissingEmbeddings(out) && len(resp.Data) == n {
		for i := 0; i < n; i++ {
			if out[i] != nil {
				continue
			}
			d := resp.Data[i]
			vec := make([]float32, len(d.Embedding))
			for j, f := range d.Embedding {
				vec[j] = float32(f)
			}
			out[i] = vec
		}
	}
	return out
}

func hasMissingEmbeddings(v [][]float32) bool {
	for i := range v {
		if len(v[i]) == 0 {
			return true
		}
	}
	return false
}

// -------------------- Responses API (structured output) --------------------

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`

	Text struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Status string `json:"status,omitempty"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	IncompleteDetails struct {
		Reason string `json:"reason,omitempty"`
	} `json:"incomplete_details,omitempty"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func (c *client) Generate(ctx context.Context, greq GenerateRequest) (GenerateResult, error) {
	var result GenerateResult
	if strings.TrimSpace(greq.SchemaName) == "" {
		return result, errors.New("schemaName required")
	}
	if greq.Schema == nil {
		return result, errors.New("schema required")
	}

	req := responsesRequest{
		Model: c.model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: greq.System},
			{Role: "user", Content: greq.User},
		},
	}
	if !c.disableTemperature && c.temperature != nil {
		req.Temperature = c.temperature
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   greq.SchemaName,
		"schema": greq.Schema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.doOnce(ctx, "POST", "/v1/responses", &req, &resp); err != nil {
		// Models that reject the temperature parameter get one retry without it.
		if req.Temperature != nil && isUnsupportedTemperatureParam(err) {
			req.Temperature = nil
			if err2 := c.doOnce(ctx, "POST", "/v1/responses", &req, &resp); err2 != nil {
				return result, err2
			}
		} else {
			return result, err
		}
	}

	result.TokensIn = resp.Usage.InputTokens
	result.TokensOut = resp.Usage.OutputTokens

	if resp.Refusal != "" {
		result.FinishReason = "refusal"
		return result, apperrors.ProviderRefused("openai.generate", fmt.Errorf("model refused: %s", resp.Refusal))
	}

	result.FinishReason = "stop"
	if resp.Status == "incomplete" {
		result.FinishReason = resp.IncompleteDetails.Reason
		if result.FinishReason == "" {
			result.FinishReason = "incomplete"
		}
	}

	result.Text = extractOutputText(resp)
	if strings.TrimSpace(result.Text) == "" && result.FinishReason == "stop" {
		return result, fmt.Errorf("no output_text found in response")
	}
	return result, nil
}

func isUnsupportedTemperatureParam(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "temperature") {
		return false
	}
	switch {
	case strings.Contains(msg, "unsupported parameter"),
		strings.Contains(msg, "unknown parameter"),
		strings.Contains(msg, "unrecognized parameter"),
		strings.Contains(msg, "not supported"),
		strings.Contains(msg, "does not support"),
		strings.Contains(msg, "only the default"),
		strings.Contains(msg, "unsupported_value"):
		return true
	}
	return false
}

func f64ptr(f float64) *float64 { return &f }
