package ai

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"strings"

	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAIProvider analyzes files with the chat completions API in JSON mode.
type OpenAIProvider struct {
	baseURL string
}

// NewOpenAIProvider uses the public endpoint when baseURL is empty.
func NewOpenAIProvider(baseURL string) *OpenAIProvider {
	return &OpenAIProvider{baseURL: openAIBaseURL(baseURL)}
}

func (p *OpenAIProvider) ID() string { return ProviderOpenAI }

func (p *OpenAIProvider) Classify(err error) ErrorKind {
	var apiErr *openaiclient.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == "insufficient_quota" {
			return KindRateLimit
		}
		return kindForStatus(apiErr.StatusCode)
	}
	return KindUnknown
}

func (p *OpenAIProvider) Preflight(req AnalysisRequest) error {
	f := req.File
	if f.IsImage() || f.IsPDF() || f.IsText() {
		return nil
	}
	return unsupportedFile(ProviderOpenAI, f, fmt.Sprintf("OpenAI models cannot analyze %s files in this application", f.MIMEType))
}

func (p *OpenAIProvider) client(apiKey string) openaiclient.Client {
	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(p.baseURL))
	}
	return openaiclient.NewClient(opts...)
}

func (p *OpenAIProvider) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	prompt := BuildLegacyPrompt(req.File.MIMEType, req.WithReasoning)

	parts := []openaiclient.ChatCompletionContentPartUnionParam{openaiclient.TextContentPart(prompt)}
	switch f := req.File; {
	case f.IsImage():
		parts = append(parts, openaiclient.ImageContentPart(openaiclient.ChatCompletionContentPartImageImageURLParam{
			URL: f.DataURL(),
		}))
	case f.IsPDF():
		parts = append(parts, openaiclient.FileContentPart(openaiclient.ChatCompletionContentPartFileFileParam{
			FileData: openaiclient.String(f.DataURL()),
			Filename: openaiclient.String(f.Name),
		}))
	default:
		parts = append(parts, openaiclient.TextContentPart(fmt.Sprintf("File name: %s\n\n%s", f.Name, f.Data)))
	}

	client := p.client(req.APIKey)
	resp, err := client.Chat.Completions.New(ctx, openaiclient.ChatCompletionNewParams{
		Model:    openaiclient.ChatModel(req.Model.ID),
		Messages: []openaiclient.ChatCompletionMessageParamUnion{openaiclient.UserMessage(parts)},
		ResponseFormat: openaiclient.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", errors.New("response blocked by safety filters")
	}
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return "", fmt.Errorf("request blocked: %s", refusal)
	}
	return choice.Message.Content, nil
}

// openAIBaseURL turns a configured OpenAI-compatible endpoint, such as a
// gateway that fronts the API under a sub-path, into the versioned base the
// SDK expects. An empty value keeps the SDK default.
func openAIBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return ""
	}
	u, err := neturl.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(base, "/")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/v1") {
		u.Path += "/v1"
	}
	u.Path += "/"
	return u.String()
}
