package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prism-ai/prism/internal/pkg/retry"
)

const defaultPerplexityBaseURL = "https://api.perplexity.ai"

// PerplexityProvider analyzes text and PDF files with the Sonar chat API.
type PerplexityProvider struct {
	rc *resty.Client
}

func NewPerplexityProvider(baseURL string) *PerplexityProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultPerplexityBaseURL
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(90*time.Second).
		SetHeader("Accept", "application/json")
	return &PerplexityProvider{rc: rc}
}

func (p *PerplexityProvider) ID() string { return ProviderPerplexity }

func (p *PerplexityProvider) Classify(err error) ErrorKind { return KindUnknown }

// Preflight rejects anything that is neither text nor PDF before any request.
func (p *PerplexityProvider) Preflight(req AnalysisRequest) error {
	if req.File.IsText() || req.File.IsPDF() {
		return nil
	}
	return unsupportedFile(ProviderPerplexity, req.File, "Perplexity only supports text and PDF files in this application")
}

type perplexityPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	FileURL  *perplexityFile `json:"file_url,omitempty"`
	FileName string          `json:"file_name,omitempty"`
}

type perplexityFile struct {
	URL string `json:"url"`
}

type perplexityMessage struct {
	Role    string           `json:"role"`
	Content []perplexityPart `json:"content"`
}

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *PerplexityProvider) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	if err := p.Preflight(req); err != nil {
		return "", err
	}
	prompt := BuildLegacyPrompt(req.File.MIMEType, req.WithReasoning)

	parts := []perplexityPart{{Type: "text", Text: prompt}}
	if req.File.IsPDF() {
		parts = append(parts, perplexityPart{
			Type:     "file_url",
			FileURL:  &perplexityFile{URL: req.File.Base64()},
			FileName: req.File.Name,
		})
	} else {
		parts = append(parts, perplexityPart{Type: "text", Text: fmt.Sprintf("File name: %s\n\n%s", req.File.Name, req.File.Data)})
	}

	var out perplexityResponse
	resp, err := p.rc.R().
		SetContext(ctx).
		SetAuthToken(req.APIKey).
		SetBody(perplexityRequest{
			Model:    req.Model.ID,
			Messages: []perplexityMessage{{Role: "user", Content: parts}},
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("perplexity request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &HTTPError{
			Service:    "perplexity",
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
			RetryAfter: retry.ParseRetryDelay(resp.Header(), resp.Body()),
		}
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

// Ping sends a minimal completion to check that apiKey is accepted.
func (p *PerplexityProvider) Ping(ctx context.Context, apiKey, modelID string) error {
	resp, err := p.rc.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetBody(map[string]interface{}{
			"model":      modelID,
			"max_tokens": 1,
			"messages":   []map[string]string{{"role": "user", "content": "ping"}},
		}).
		Post("/chat/completions")
	if err != nil {
		return fmt.Errorf("perplexity request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &HTTPError{Service: "perplexity", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}
