package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultThinkingBudget is the thinking-token budget given to pro models.
const DefaultThinkingBudget = 32768

// GoogleProvider analyzes files with Gemini using schema-constrained output.
type GoogleProvider struct {
	gemini         geminiGenerator
	thinkingBudget int32
}

// NewGoogleProvider wraps a Gemini client. budget <= 0 uses the default.
func NewGoogleProvider(gemini geminiGenerator, budget int) *GoogleProvider {
	if budget <= 0 {
		budget = DefaultThinkingBudget
	}
	return &GoogleProvider{gemini: gemini, thinkingBudget: int32(budget)}
}

func (p *GoogleProvider) ID() string { return ProviderGoogle }

func (p *GoogleProvider) Classify(err error) ErrorKind { return classifyGoogle(err) }

func (p *GoogleProvider) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	prompt := BuildStructuredPrompt(req.File.MIMEType, req.WithReasoning)

	parts := []*genai.Part{{Text: prompt.Instruction}}
	if req.File.IsText() {
		parts = append(parts, &genai.Part{Text: fmt.Sprintf("File name: %s\n\n%s", req.File.Name, req.File.Data)})
	} else {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.File.MIMEType, Data: req.File.Data}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(prompt.Schema),
	}
	if req.UseThinkingMode && req.Model.HasTag(TagPro) {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(p.thinkingBudget)}
	}

	resp, err := p.gemini.GenerateContent(ctx, req.APIKey, req.Model.ID, contents, cfg)
	if err != nil {
		return "", err
	}
	if reason := blockReason(resp); reason != "" {
		return "", fmt.Errorf("response blocked by safety filters: %s", reason)
	}
	return responseText(resp), nil
}
