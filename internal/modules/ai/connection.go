package ai

import (
	"context"
	"fmt"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"
	"google.golang.org/genai"
)

// KeyTester checks a user-supplied API key with the smallest possible call.
type KeyTester struct {
	registry         *Registry
	gemini           geminiGenerator
	perplexity       *PerplexityProvider
	openaiBaseURL    string
	anthropicBaseURL string
}

// NewKeyTester builds a tester. gemini must talk to Gemini directly, not
// through the edge proxy.
func NewKeyTester(registry *Registry, gemini geminiGenerator, perplexity *PerplexityProvider, openaiBaseURL, anthropicBaseURL string) *KeyTester {
	return &KeyTester{
		registry:         registry,
		gemini:           gemini,
		perplexity:       perplexity,
		openaiBaseURL:    openAIBaseURL(openaiBaseURL),
		anthropicBaseURL: strings.TrimRight(strings.TrimSpace(anthropicBaseURL), "/"),
	}
}

// Test returns nil when apiKey works for providerID.
func (t *KeyTester) Test(ctx context.Context, providerID, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return MissingKeyError(providerID)
	}
	provider, ok := t.registry.Provider(providerID)
	if !ok {
		return fmt.Errorf("%w: provider %q", ErrModelNotFound, providerID)
	}
	model := cheapestModel(provider)

	var (
		err      error
		classify Classifier
	)
	switch providerID {
	case ProviderGoogle:
		classify = classifyGoogle
		_, err = t.gemini.GenerateContent(ctx, apiKey, model.ID,
			[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: "ping"}}}},
			&genai.GenerateContentConfig{MaxOutputTokens: 1})
	case ProviderPerplexity:
		err = t.perplexity.Ping(ctx, apiKey, model.ID)
	case ProviderOpenAI, ProviderAnthropic:
		classify = (&OpenAIProvider{}).Classify
		if providerID == ProviderAnthropic {
			classify = (&AnthropicProvider{}).Classify
		}
		err = t.generate(ctx, providerID, model.ID, apiKey)
	default:
		return &ConfigError{Provider: providerID, Message: fmt.Sprintf("no integration is registered for provider %q", providerID)}
	}
	if err != nil {
		return &ProviderError{Model: model.Name, Provider: providerID, Kind: KindOf(err, classify), Err: err}
	}
	return nil
}

func (t *KeyTester) generate(ctx context.Context, providerID, modelID, apiKey string) error {
	model := t.languageModel(providerID, modelID, apiKey)
	_, err := jetai.GenerateText(
		ctx,
		[]jetapi.Message{&jetapi.UserMessage{Content: jetapi.ContentFromText("ping")}},
		jetai.WithModel(model),
		jetai.WithMaxOutputTokens(1),
	)
	return err
}

func (t *KeyTester) languageModel(providerID, modelID, apiKey string) jetapi.LanguageModel {
	if providerID == ProviderAnthropic {
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		}
		if t.anthropicBaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(t.anthropicBaseURL))
		}
		client := anthropicclient.NewClient(opts...)
		return jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client))
	}

	opts := []openaioption.RequestOption{
		openaioption.WithAPIKey(apiKey),
		openaioption.WithMaxRetries(0),
	}
	if t.openaiBaseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(t.openaiBaseURL))
	}
	client := openaiclient.NewClient(opts...)
	return jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client))
}

// cheapestModel prefers an active model tagged fast.
func cheapestModel(p Provider) Model {
	for _, m := range p.Models {
		if m.Active && m.HasTag(TagFast) {
			return m
		}
	}
	for _, m := range p.Models {
		if m.Active {
			return m
		}
	}
	return p.Models[0]
}
