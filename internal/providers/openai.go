// Package providers implements the LLM client used to generate memory
// shards: direct HTTP calls to OpenAI-compatible endpoints, with the
// Anthropic Messages API handled as a special case.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// Params are the raw values needed to construct a provider. Extracted from
// config.Config by the caller to avoid an import cycle.
type Params struct {
	APIKey            string
	APIBase           string
	DefaultModel      string
	ExtraHeaders      map[string]string
	RequestsPerMinute int // 0 = unlimited
	Timeout           time.Duration
}

// OpenAIProvider talks to one OpenAI-compatible endpoint.
type OpenAIProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	extraHeaders map[string]string
	spec         *Spec
	isAnthropic  bool
	limiter      *rate.Limiter
	httpClient   *http.Client
}

// New constructs a provider from p.
func New(p Params) *OpenAIProvider {
	spec := Detect(p.APIKey, p.APIBase, p.DefaultModel)

	base := p.APIBase
	if base == "" {
		if spec != nil {
			base = spec.DefaultAPIBase
		} else {
			base = "https://api.openai.com/v1"
		}
	}
	base = strings.TrimRight(base, "/")

	limit := rate.Inf
	if p.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(p.RequestsPerMinute) / 60)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIProvider{
		apiKey:       p.APIKey,
		apiBase:      base,
		defaultModel: p.DefaultModel,
		extraHeaders: p.ExtraHeaders,
		spec:         spec,
		isAnthropic:  (spec != nil && spec.Anthropic) || strings.Contains(strings.ToLower(base), "anthropic.com"),
		limiter:      rate.NewLimiter(limit, 1),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// Backend returns the display name of the detected backend.
func (p *OpenAIProvider) Backend() string {
	if p.spec == nil {
		return "Custom"
	}
	return p.spec.DisplayName
}

// Chat implements schema.LLMProvider. It waits for the rate limiter, then
// dispatches to the Anthropic or OpenAI-compatible path.
func (p *OpenAIProvider) Chat(ctx context.Context, prompt schema.Prompt, opts schema.ChatOptions) (schema.LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return schema.LLMResponse{}, fmt.Errorf("rate limit wait: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	model = p.resolveModel(model)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	if p.isAnthropic {
		return p.chatAnthropic(ctx, prompt, model, maxTokens, opts.Temperature)
	}
	return p.chatOpenAI(ctx, prompt, model, maxTokens, opts.Temperature)
}

// ---------------------------------------------------------------------------
// OpenAI-compatible path
// ---------------------------------------------------------------------------

func (p *OpenAIProvider) chatOpenAI(ctx context.Context, prompt schema.Prompt, model string, maxTokens int, temperature float64) (schema.LLMResponse, error) {
	msgs := make([]map[string]any, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":       model,
		"messages":    msgs,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	raw, err := p.post(ctx, "/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
	if err != nil {
		return schema.LLMResponse{}, err
	}
	return parseOpenAIResponse(raw)
}

// ---------------------------------------------------------------------------
// Anthropic Messages API path
// ---------------------------------------------------------------------------

func (p *OpenAIProvider) chatAnthropic(ctx context.Context, prompt schema.Prompt, model string, maxTokens int, temperature float64) (schema.LLMResponse, error) {
	var system string
	msgs := make([]map[string]any, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}

	body := map[string]any{
		"model":       model,
		"messages":    msgs,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	if system != "" {
		body["system"] = system
	}

	raw, err := p.post(ctx, "/messages", body, map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return schema.LLMResponse{}, err
	}
	return parseAnthropicResponse(raw)
}

func (p *OpenAIProvider) post(ctx context.Context, path string, body map[string]any, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range p.extraHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	slog.Debug("providers: request done", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, friendlyHTTPError(resp.StatusCode, raw))
	}
	return raw, nil
}

// resolveModel strips a known provider-name prefix ("deepseek/deepseek-chat")
// except for gateways, which route on it.
func (p *OpenAIProvider) resolveModel(model string) string {
	if p.spec != nil && p.spec.Name == "openrouter" {
		return strings.TrimPrefix(model, "openrouter/")
	}
	if i := strings.Index(model, "/"); i > 0 {
		if FindByName(strings.ToLower(model[:i])) != nil {
			return model[i+1:]
		}
	}
	return model
}

// ---------------------------------------------------------------------------
// Response parsers
// ---------------------------------------------------------------------------

type openAIRespBody struct {
	Choices []struct {
		Message struct {
			Content any `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseOpenAIResponse(raw []byte) (schema.LLMResponse, error) {
	var body openAIRespBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return schema.LLMResponse{}, fmt.Errorf("parse OpenAI response: %w", err)
	}
	if len(body.Choices) == 0 {
		return schema.LLMResponse{}, fmt.Errorf("empty choices in response")
	}

	content, _ := body.Choices[0].Message.Content.(string)
	finish := body.Choices[0].FinishReason
	if finish == "" {
		finish = "stop"
	}

	return schema.LLMResponse{
		Content:      content,
		FinishReason: finish,
		Usage: map[string]int{
			"prompt_tokens":     body.Usage.PromptTokens,
			"completion_tokens": body.Usage.CompletionTokens,
			"total_tokens":      body.Usage.TotalTokens,
		},
	}, nil
}

type anthropicRespBody struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseAnthropicResponse(raw []byte) (schema.LLMResponse, error) {
	var body anthropicRespBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return schema.LLMResponse{}, fmt.Errorf("parse Anthropic response: %w", err)
	}

	var text strings.Builder
	for _, block := range body.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	finish := "stop"
	if body.StopReason != "" && body.StopReason != "end_turn" {
		finish = body.StopReason
	}

	return schema.LLMResponse{
		Content:      text.String(),
		FinishReason: finish,
		Usage: map[string]int{
			"prompt_tokens":     body.Usage.InputTokens,
			"completion_tokens": body.Usage.OutputTokens,
			"total_tokens":      body.Usage.InputTokens + body.Usage.OutputTokens,
		},
	}, nil
}

func friendlyHTTPError(code int, body []byte) string {
	if code == http.StatusTooManyRequests {
		return "rate limit exceeded"
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
