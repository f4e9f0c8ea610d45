package identitybound

import (
	"strings"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

// Wire types of the generateContent API, shared by the Gemini API (key) and
// Vertex AI (ambient) endpoints.

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	TopP            *float32 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
}

type apiStatus struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type listedModel struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

type listResponse struct {
	Models        []listedModel `json:"models"`
	NextPageToken string        `json:"nextPageToken"`
}

// toGenerateRequest maps a family-neutral request. System-role messages are
// folded into the system instruction and "assistant" becomes "model".
func toGenerateRequest(req *domain.GenerationRequest) generateRequest {
	var out generateRequest

	var system []part
	if req.SystemPrompt != "" {
		system = append(system, part{Text: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, part{Text: m.Content})
		case "assistant", "model":
			out.Contents = append(out.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: system}
	}

	if req.Temperature != nil || req.MaxTokens > 0 || req.TopP != nil || req.TopK != nil {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
			TopK:            req.TopK,
		}
	}
	return out
}

func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (r *generateResponse) stopReason() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	return strings.ToLower(r.Candidates[0].FinishReason)
}

func (r *generateResponse) usage() *domain.Usage {
	if r.UsageMetadata == nil || r.UsageMetadata.TotalTokenCount == 0 {
		return nil
	}
	return &domain.Usage{
		PromptTokens:     r.UsageMetadata.PromptTokenCount,
		CompletionTokens: r.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      r.UsageMetadata.TotalTokenCount,
		StopReason:       r.stopReason(),
	}
}

func supportsGenerate(m listedModel) bool {
	for _, method := range m.SupportedGenerationMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}
