// Package tokens estimates usage when a backend omits token accounting.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

// CharsPerToken is the fallback ratio used when no encoding is available.
const CharsPerToken = 4

// Chat formatting overhead, per OpenAI's accounting.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	assistantPriming = 3
)

// Counter counts tokens with tiktoken encodings, falling back to a
// character estimate. It is safe for concurrent use.
type Counter struct {
	cacheMu    sync.RWMutex
	codecCache map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter creates a new token counter.
func NewCounter() *Counter {
	return &Counter{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// modelToEncoding picks the encoding closest to model. Non-OpenAI models
// are approximated with cl100k_base.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "gpt-6", "o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return tokenizer.O200kBase
		}
	}
	return tokenizer.Cl100kBase
}

// getCodec returns the cached codec for a model.
func (c *Counter) getCodec(model string) (tokenizer.Codec, error) {
	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

// CountText counts the tokens of text for model.
func (c *Counter) CountText(model, text string) int {
	if text == "" {
		return 0
	}
	codec, err := c.getCodec(model)
	if err != nil {
		return EstimateChars(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return EstimateChars(text)
	}
	return len(ids)
}

// CountPrompt counts the tokens of a request's system prompt and messages,
// including chat formatting overhead.
func (c *Counter) CountPrompt(req *domain.GenerationRequest) int {
	if req == nil {
		return 0
	}

	total := 0
	if req.SystemPrompt != "" {
		total += tokensPerMessage + tokensPerRole
		total += c.CountText(req.Model, req.SystemPrompt)
	}
	for _, msg := range req.Messages {
		total += tokensPerMessage + tokensPerRole
		total += c.CountText(req.Model, msg.Content)
	}
	return total + assistantPriming
}

// EstimateUsage builds usage for a completed generation whose backend
// reported none. The result is flagged Estimated.
func (c *Counter) EstimateUsage(req *domain.GenerationRequest, completion, stopReason string) *domain.Usage {
	model := ""
	if req != nil {
		model = req.Model
	}
	prompt := c.CountPrompt(req)
	completionTokens := c.CountText(model, completion)

	return &domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completionTokens,
		TotalTokens:      prompt + completionTokens,
		StopReason:       stopReason,
		Estimated:        true,
	}
}

// EstimateChars is the length-based estimate: one token per CharsPerToken
// bytes, rounded up.
func EstimateChars(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

var defaultCounter = NewCounter()

// Default returns the process-wide counter.
func Default() *Counter {
	return defaultCounter
}
