package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prism-ai/prism/internal/pkg/retry"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const proxyFunctionPath = "/functions/v1/gemini-proxy"

// Usage headers set by the edge function.
const (
	HeaderRateLimitUsed      = "X-Rate-Limit-Used"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitLimit     = "X-Rate-Limit-Limit"
)

var ErrProxyNotConfigured = errors.New("supabase edge proxy is not configured: set VITE_SUPABASE_URL and VITE_SUPABASE_ANON_KEY")

// ProxyRequest is the envelope the gemini-proxy function expects.
type ProxyRequest struct {
	Endpoint string      `json:"endpoint"`
	Body     interface{} `json:"body"`
	Method   string      `json:"method"`
}

// ProxyQuotaError is the 429 body returned once the daily quota is spent.
type ProxyQuotaError struct {
	Error   string `json:"error"`
	Usage   int    `json:"usage"`
	Limit   int    `json:"limit"`
	Message string `json:"message"`
}

// Proxy calls Gemini through the Supabase gemini-proxy edge function, which
// enforces the authoritative per-user daily quota.
type Proxy struct {
	rc      *resty.Client
	anonKey string
	usage   *UsageTracker
	log     *zap.Logger
}

// NewProxy returns nil when the Supabase URL or anon key is missing.
func NewProxy(supabaseURL, anonKey string, usage *UsageTracker, log *zap.Logger) *Proxy {
	supabaseURL = strings.TrimRight(strings.TrimSpace(supabaseURL), "/")
	if supabaseURL == "" || strings.TrimSpace(anonKey) == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	rc := resty.New().
		SetBaseURL(supabaseURL).
		SetTimeout(120*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Proxy{rc: rc, anonKey: anonKey, usage: usage, log: log.Named("proxy")}
}

// Call forwards req with the user's access token and returns the raw body.
func (p *Proxy) Call(ctx context.Context, accessToken string, req ProxyRequest) ([]byte, error) {
	if p == nil {
		return nil, ErrProxyNotConfigured
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	resp, err := p.rc.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("apikey", p.anonKey).
		SetBody(req).
		Post(proxyFunctionPath)
	if err != nil {
		return nil, fmt.Errorf("gemini proxy request: %w", err)
	}

	body := resp.Body()
	switch status := resp.StatusCode(); {
	case status == http.StatusOK:
		p.recordHeaders(ctx, resp.Header())
		return body, nil
	case status == http.StatusTooManyRequests:
		return nil, p.quotaError(ctx, resp.Header(), body)
	default:
		return nil, &HTTPError{
			Service:    "gemini-proxy",
			StatusCode: status,
			Body:       string(body),
			RetryAfter: retry.ParseRetryDelay(resp.Header(), body),
		}
	}
}

func (p *Proxy) recordHeaders(ctx context.Context, h http.Header) {
	if p.usage == nil {
		return
	}
	used, okUsed := headerInt(h, HeaderRateLimitUsed)
	remaining, okRemaining := headerInt(h, HeaderRateLimitRemaining)
	limit, _ := headerInt(h, HeaderRateLimitLimit)
	if !okUsed && !okRemaining {
		return
	}
	if err := p.usage.RecordServerSnapshot(ctx, used, remaining, limit); err != nil {
		p.log.Warn("record server usage failed", zap.Error(err))
	}
}

func (p *Proxy) quotaError(ctx context.Context, h http.Header, body []byte) error {
	httpErr := &HTTPError{
		Service:    "gemini-proxy",
		StatusCode: http.StatusTooManyRequests,
		Body:       string(body),
		RetryAfter: retry.ParseRetryDelay(h, body),
	}
	var quota ProxyQuotaError
	if err := json.Unmarshal(body, &quota); err == nil && quota.Limit > 0 && p.usage != nil {
		if err := p.usage.RecordServerSnapshot(ctx, quota.Usage, 0, quota.Limit); err != nil {
			p.log.Warn("record server usage failed", zap.Error(err))
		}
	}
	wait := httpErr.RetryAfter
	if wait <= 0 {
		wait = retry.DefaultRateLimitWait
	}
	return &retry.RateLimitError{RetryAfter: wait, Err: httpErr}
}

func headerInt(h http.Header, key string) (int, bool) {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// geminiRESTRequest is the generateContent body of the Gemini REST API.
type geminiRESTRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []*genai.Tool           `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType   string                `json:"responseMimeType,omitempty"`
	ResponseSchema     *genai.Schema         `json:"responseSchema,omitempty"`
	ThinkingConfig     *genai.ThinkingConfig `json:"thinkingConfig,omitempty"`
	ResponseModalities []string              `json:"responseModalities,omitempty"`
	SpeechConfig       *genai.SpeechConfig   `json:"speechConfig,omitempty"`
	MaxOutputTokens    int32                 `json:"maxOutputTokens,omitempty"`
}

func restRequestFrom(contents []*genai.Content, cfg *genai.GenerateContentConfig) geminiRESTRequest {
	req := geminiRESTRequest{Contents: contents}
	if cfg == nil {
		return req
	}
	req.SystemInstruction = cfg.SystemInstruction
	req.Tools = cfg.Tools
	gc := &geminiGenerationConfig{
		ResponseMIMEType:   cfg.ResponseMIMEType,
		ResponseSchema:     cfg.ResponseSchema,
		ThinkingConfig:     cfg.ThinkingConfig,
		ResponseModalities: cfg.ResponseModalities,
		SpeechConfig:       cfg.SpeechConfig,
		MaxOutputTokens:    cfg.MaxOutputTokens,
	}
	if gc.ResponseMIMEType != "" || gc.ResponseSchema != nil || gc.ThinkingConfig != nil ||
		len(gc.ResponseModalities) > 0 || gc.SpeechConfig != nil || gc.MaxOutputTokens > 0 {
		req.GenerationConfig = gc
	}
	return req
}

// GenerateContent runs a generateContent call through the proxy.
func (p *Proxy) GenerateContent(ctx context.Context, accessToken, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	body, err := p.Call(ctx, accessToken, ProxyRequest{
		Endpoint: "models/" + model + ":generateContent",
		Body:     restRequestFrom(contents, cfg),
		Method:   http.MethodPost,
	})
	if err != nil {
		return nil, err
	}
	var out genai.GenerateContentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode gemini proxy response: %w", err)
	}
	return &out, nil
}
