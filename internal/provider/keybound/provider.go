// Package keybound implements the key-bound adapter family: OpenAI-compatible
// REST backends authenticated with a bearer key.
package keybound

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

// DefaultBaseURL is used when the provider has no base endpoint override.
const DefaultBaseURL = "https://api.openai.com/v1"

// probePrompt is the cheapest request we can make; the reply is capped at one
// token.
const probePrompt = "ping"

// Listing entries that can never serve a chat generation.
var nonChatMarkers = []string{"embedding", "whisper", "tts", "dall-e", "moderation"}

// Option configures the adapter.
type Option func(*Adapter)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		a.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Adapter) {
		a.httpClient = httpClient
	}
}

// Adapter implements ports.Adapter on top of go-openai.
type Adapter struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	client     *openai.Client
}

var _ ports.Adapter = (*Adapter)(nil)

// New creates a key-bound adapter for the named provider.
func New(provider, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		provider: provider,
		baseURL:  DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(a)
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = a.baseURL
	if a.httpClient != nil {
		config.HTTPClient = a.httpClient
	}
	a.client = openai.NewClientWithConfig(config)
	return a
}

func (a *Adapter) Family() domain.Family {
	return domain.FamilyKeyBound
}

// Probe sends a one-token completion to model.
func (a *Adapter) Probe(ctx context.Context, model string) error {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: probePrompt},
		},
	}
	setMaxTokens(&req, 1)
	_, err := a.client.CreateChatCompletion(ctx, req)
	return mapError(err)
}

func (a *Adapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.Result, error) {
	resp, err := a.client.CreateChatCompletion(ctx, toAPIRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	result := &domain.Result{
		Provider: a.provider,
		Model:    req.Model,
	}
	if resp.Model != "" {
		result.Model = resp.Model
	}
	if raw, err := json.Marshal(resp); err == nil {
		result.Raw = raw
	}

	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
		result.StopReason = string(resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens > 0 {
		result.Usage = &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			StopReason:       result.StopReason,
		}
	}
	return result, nil
}

// ListModels returns the backend's /models listing, minus non-chat entries.
func (a *Adapter) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	resp, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	models := make([]domain.DiscoveredModel, 0, len(resp.Models))
	for _, m := range resp.Models {
		if m.ID == "" || isNonChat(m.ID) {
			continue
		}
		models = append(models, domain.DiscoveredModel{
			ID:          m.ID,
			DisplayName: m.ID,
		})
	}
	return models, nil
}

func isNonChat(id string) bool {
	id = strings.ToLower(id)
	for _, marker := range nonChatMarkers {
		if strings.Contains(id, marker) {
			return true
		}
	}
	return false
}

// toAPIRequest converts a family-neutral request to an OpenAI chat request.
// top_k has no OpenAI equivalent and is dropped.
func toAPIRequest(req *domain.GenerationRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	setMaxTokens(&apiReq, req.MaxTokens)
	if req.Temperature != nil {
		apiReq.Temperature = explicit(*req.Temperature)
	}
	if req.TopP != nil {
		apiReq.TopP = explicit(*req.TopP)
	}
	return apiReq
}

// explicit keeps a caller's zero on the wire. go-openai tags sampling fields
// omitempty, so 0 is sent as the smallest positive float32 instead.
func explicit(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

// setMaxTokens caps the reply size. Reasoning models reject max_tokens and
// take max_completion_tokens instead.
func setMaxTokens(req *openai.ChatCompletionRequest, n int) {
	if n <= 0 {
		return
	}
	model := strings.ToLower(req.Model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			req.MaxCompletionTokens = n
			return
		}
	}
	req.MaxTokens = n
}

// mapError converts go-openai errors to canonical API errors. Transport
// errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out := domain.NewAPIError(domain.ErrorTypeFromStatus(apiErr.HTTPStatusCode), apiErr.Message).
			WithStatusCode(apiErr.HTTPStatusCode).
			WithFamily(domain.FamilyKeyBound)
		if code, ok := apiErr.Code.(string); ok && code == string(domain.ErrorCodeModelNotFound) {
			out.WithCode(domain.ErrorCodeModelNotFound)
		}
		return out
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" {
			msg = reqErr.Error()
		}
		return domain.NewAPIError(domain.ErrorTypeFromStatus(reqErr.HTTPStatusCode), msg).
			WithStatusCode(reqErr.HTTPStatusCode).
			WithFamily(domain.FamilyKeyBound)
	}
	return err
}
