package ai

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"google.golang.org/genai"
)

// geminiGenerator is the single-shot Gemini call used by analysis and media.
type geminiGenerator interface {
	GenerateContent(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// geminiStreamer streams a Gemini answer chunk by chunk.
type geminiStreamer interface {
	GenerateContentStream(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// geminiImager generates images with Imagen.
type geminiImager interface {
	GenerateImages(ctx context.Context, apiKey, model, prompt string, cfg *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// GeminiClient reaches Gemini either directly with an API key or, for
// signed-in callers, through the edge proxy.
type GeminiClient struct {
	baseURL string
	proxy   *Proxy
}

// NewGeminiClient builds a client. baseURL and proxy are optional.
func NewGeminiClient(baseURL string, proxy *Proxy) *GeminiClient {
	return &GeminiClient{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), proxy: proxy}
}

func (g *GeminiClient) sdk(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Provider: ProviderGoogle, Message: "Gemini API key is not configured. Set " + EnvGeminiKey + " in the environment."}
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}
	return genai.NewClient(ctx, cfg)
}

// proxyToken returns the caller's access token when the call should go
// through the edge proxy.
func (g *GeminiClient) proxyToken(ctx context.Context) (string, bool) {
	if g.proxy == nil {
		return "", false
	}
	scope, ok := clientscope.From(ctx)
	if !ok || scope.AccessToken == "" {
		return "", false
	}
	return scope.AccessToken, true
}

func (g *GeminiClient) GenerateContent(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if token, ok := g.proxyToken(ctx); ok {
		return g.proxy.GenerateContent(ctx, token, model, contents, cfg)
	}
	client, err := g.sdk(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return client.Models.GenerateContent(ctx, model, contents, cfg)
}

// GenerateContentStream always talks to Gemini directly; the proxy has no
// streaming endpoint.
func (g *GeminiClient) GenerateContentStream(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	client, err := g.sdk(ctx, apiKey)
	if err != nil {
		return func(yield func(*genai.GenerateContentResponse, error) bool) {
			yield(nil, err)
		}
	}
	return client.Models.GenerateContentStream(ctx, model, contents, cfg)
}

func (g *GeminiClient) GenerateImages(ctx context.Context, apiKey, model, prompt string, cfg *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	client, err := g.sdk(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return client.Models.GenerateImages(ctx, model, prompt, cfg)
}

// responseText joins the text parts of the first candidate, skipping thoughts.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// responseInlineData returns the first inline blob of the first candidate.
func responseInlineData(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData
		}
	}
	return nil
}

// blockReason reports a prompt or candidate blocked by safety filters.
func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		switch resp.Candidates[0].FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			return string(resp.Candidates[0].FinishReason)
		}
	}
	return ""
}

// toGenaiSchema converts a provider-neutral schema.
func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case TypeObject:
		out.Type = genai.TypeObject
	case TypeArray:
		out.Type = genai.TypeArray
	default:
		out.Type = genai.TypeString
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
		out.PropertyOrdering = s.Order
	}
	out.Items = toGenaiSchema(s.Items)
	return out
}

// classifyGoogle maps SDK errors by HTTP code and status.
func classifyGoogle(err error) ErrorKind {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	case errors.As(err, &apiErr):
	default:
		return KindUnknown
	}
	switch strings.ToUpper(apiErr.Status) {
	case "RESOURCE_EXHAUSTED":
		return KindRateLimit
	case "UNAVAILABLE":
		return KindTransient
	case "PERMISSION_DENIED", "UNAUTHENTICATED":
		return KindConfiguration
	}
	if strings.Contains(strings.ToLower(apiErr.Message), "api key not valid") {
		return KindConfiguration
	}
	return kindForStatus(apiErr.Code)
}
