package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

// AnthropicProvider analyzes files with the Messages API.
type AnthropicProvider struct {
	baseURL string
}

func NewAnthropicProvider(baseURL string) *AnthropicProvider {
	return &AnthropicProvider{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

func (p *AnthropicProvider) ID() string { return ProviderAnthropic }

func (p *AnthropicProvider) Classify(err error) ErrorKind {
	var apiErr *anthropicclient.Error
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.StatusCode)
	}
	return KindUnknown
}

func (p *AnthropicProvider) Preflight(req AnalysisRequest) error {
	f := req.File
	if f.IsImage() || f.IsPDF() || f.IsText() {
		return nil
	}
	return unsupportedFile(ProviderAnthropic, f, fmt.Sprintf("Anthropic models cannot analyze %s files in this application", f.MIMEType))
}

func (p *AnthropicProvider) client(apiKey string) anthropicclient.Client {
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(p.baseURL))
	}
	return anthropicclient.NewClient(opts...)
}

func (p *AnthropicProvider) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	prompt := BuildLegacyPrompt(req.File.MIMEType, req.WithReasoning)

	var blocks []anthropicclient.ContentBlockParamUnion
	switch f := req.File; {
	case f.IsImage():
		blocks = append(blocks, anthropicclient.NewImageBlockBase64(f.MIMEType, f.Base64()))
	case f.IsPDF():
		blocks = append(blocks, anthropicclient.NewDocumentBlock(anthropicclient.Base64PDFSourceParam{Data: f.Base64()}))
	default:
		blocks = append(blocks, anthropicclient.NewTextBlock(fmt.Sprintf("File name: %s\n\n%s", f.Name, f.Data)))
	}
	blocks = append(blocks, anthropicclient.NewTextBlock(prompt))

	client := p.client(req.APIKey)
	msg, err := client.Messages.New(ctx, anthropicclient.MessageNewParams{
		Model:     anthropicclient.Model(req.Model.ID),
		MaxTokens: anthropicMaxTokens,
		Messages:  []anthropicclient.MessageParam{anthropicclient.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", err
	}
	if msg.StopReason == anthropicclient.StopReasonRefusal {
		return "", errors.New("response blocked by safety filters")
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}
