// Package identitybound implements the identity-bound adapter family: Gemini
// models served by Vertex AI under ambient service credentials, optionally
// also reachable through the Gemini API with a key.
package identitybound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

const (
	// DefaultKeyBaseURL is the Gemini API endpoint used by the key path.
	DefaultKeyBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultRegion is used when no region is configured.
	DefaultRegion = "us-central1"

	probePrompt   = "ping"
	maxErrorBody  = 4096
	listPageSize  = "1000"
	apiKeyHeader  = "x-goog-api-key"
	modelNameRoot = "models/"
)

// Option configures the adapter.
type Option func(*Adapter)

// WithBaseURL points both paths at one endpoint root.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		a.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Adapter) {
		if httpClient != nil {
			a.httpClient = httpClient
		}
	}
}

// WithAPIKey enables the key path.
func WithAPIKey(key string) Option {
	return func(a *Adapter) {
		a.apiKey = key
	}
}

// WithProject pins the ambient project and region.
func WithProject(projectID, region string) Option {
	return func(a *Adapter) {
		a.projectID = projectID
		if region != "" {
			a.region = region
		}
	}
}

// WithTokenSource replaces ambient credential discovery.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(a *Adapter) {
		a.tokenSource = ts
	}
}

// Adapter is the hybrid identity-bound adapter. Generation goes through the
// ambient path when a project is configured, otherwise through the key path
// if one exists.
type Adapter struct {
	provider    string
	baseURL     string
	apiKey      string
	projectID   string
	region      string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client

	key     *path
	ambient *path
}

var _ ports.HybridAdapter = (*Adapter)(nil)

// New creates an identity-bound adapter for the named provider.
func New(provider string, opts ...Option) *Adapter {
	a := &Adapter{
		provider:   provider,
		region:     DefaultRegion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.apiKey != "" {
		base := a.baseURL
		if base == "" {
			base = DefaultKeyBaseURL
		}
		a.key = &path{
			provider:   provider,
			httpClient: a.httpClient,
			generateURL: func(model string) (string, error) {
				return fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, url.PathEscape(model)), nil
			},
			listURL: base + "/v1beta/models",
			authorize: func(_ context.Context, req *http.Request) error {
				req.Header.Set(apiKeyHeader, a.apiKey)
				return nil
			},
		}
	}

	auth := &ambientAuth{project: a.projectID}
	if a.tokenSource != nil {
		auth.ts = oauth2.ReuseTokenSource(nil, a.tokenSource)
	}
	region := a.region
	base := a.baseURL
	if base == "" {
		base = "https://" + region + "-aiplatform.googleapis.com"
	}
	a.ambient = &path{
		provider:   provider,
		httpClient: a.httpClient,
		generateURL: func(model string) (string, error) {
			_, project, err := auth.resolve(context.Background())
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
				base, url.PathEscape(project), url.PathEscape(region), url.PathEscape(model)), nil
		},
		authorize: auth.authorize,
	}
	return a
}

func (a *Adapter) Family() domain.Family {
	return domain.FamilyIdentityBound
}

// KeyPath returns the Gemini API path when a key is configured.
func (a *Adapter) KeyPath() (ports.Adapter, bool) {
	if a.key == nil {
		return nil, false
	}
	return a.key, true
}

// AmbientPath returns the Vertex AI path.
func (a *Adapter) AmbientPath() ports.Adapter {
	return a.ambient
}

func (a *Adapter) primary() *path {
	if a.projectID == "" && a.key != nil {
		return a.key
	}
	return a.ambient
}

func (a *Adapter) Probe(ctx context.Context, model string) error {
	return a.primary().Probe(ctx, model)
}

func (a *Adapter) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.Result, error) {
	return a.primary().Generate(ctx, req)
}

// ListModels lists through the key path; Vertex has no usable publisher
// listing.
func (a *Adapter) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	if a.key != nil {
		return a.key.ListModels(ctx)
	}
	return nil, ports.ErrListingUnsupported
}

// path is one addressing mode of the generateContent API.
type path struct {
	provider    string
	httpClient  *http.Client
	generateURL func(model string) (string, error)
	listURL     string
	authorize   func(ctx context.Context, req *http.Request) error
}

var _ ports.Adapter = (*path)(nil)

func (p *path) Family() domain.Family {
	return domain.FamilyIdentityBound
}

// Probe generates at most one token from model.
func (p *path) Probe(ctx context.Context, model string) error {
	_, _, err := p.generate(ctx, model, generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: probePrompt}}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: 1},
	})
	return err
}

func (p *path) Generate(ctx context.Context, req *domain.GenerationRequest) (*domain.Result, error) {
	resp, raw, err := p.generate(ctx, req.Model, toGenerateRequest(req))
	if err != nil {
		return nil, err
	}

	result := &domain.Result{
		Content:    resp.text(),
		StopReason: resp.stopReason(),
		Raw:        raw,
		Provider:   p.provider,
		Model:      req.Model,
		Usage:      resp.usage(),
	}
	return result, nil
}

func (p *path) generate(ctx context.Context, model string, body generateRequest) (*generateResponse, json.RawMessage, error) {
	endpoint, err := p.generateURL(model)
	if err != nil {
		return nil, nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	raw, err := p.do(ctx, httpReq)
	if err != nil {
		return nil, nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, raw, nil
}

// ListModels pages through the models endpoint, keeping entries that support
// generateContent.
func (p *path) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	if p.listURL == "" {
		return nil, ports.ErrListingUnsupported
	}

	var models []domain.DiscoveredModel
	pageToken := ""
	for {
		q := url.Values{"pageSize": {listPageSize}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.listURL+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		raw, err := p.do(ctx, httpReq)
		if err != nil {
			return nil, err
		}

		var page listResponse
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to decode model list: %w", err)
		}
		for _, m := range page.Models {
			if !supportsGenerate(m) {
				continue
			}
			models = append(models, domain.DiscoveredModel{
				ID:          strings.TrimPrefix(m.Name, modelNameRoot),
				DisplayName: m.DisplayName,
				Description: m.Description,
			})
		}

		if page.NextPageToken == "" {
			return models, nil
		}
		pageToken = page.NextPageToken
	}
}

func (p *path) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := p.authorize(ctx, req); err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

// statusError converts a non-200 reply into a canonical API error.
func statusError(status int, body []byte) error {
	msg := ""
	var st apiStatus
	if json.Unmarshal(body, &st) == nil && st.Error.Message != "" {
		msg = st.Error.Message
	} else {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	apiErr := domain.NewAPIError(domain.ErrorTypeFromStatus(status), msg).
		WithStatusCode(status).
		WithFamily(domain.FamilyIdentityBound)
	if status == http.StatusNotFound {
		apiErr.WithCode(domain.ErrorCodeModelNotFound)
	}
	return apiErr
}
