package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prism-ai/prism/internal/pkg/retry"
	"go.uber.org/zap"
)

// AnalysisResult is a successful analysis with the display names of the
// provider and model that produced it.
type AnalysisResult struct {
	Analysis     string `json:"analysis"`
	ProviderName string `json:"providerName"`
	ModelName    string `json:"modelName"`
}

// Dispatcher routes an analysis to the provider that owns the model.
type Dispatcher struct {
	registry      *Registry
	keys          KeyResolver
	usage         *UsageTracker
	providers     map[string]AnalysisProvider
	retryOpts     retry.Options
	retryAnalysis bool
	log           *zap.Logger
}

// NewDispatcher registers one strategy per provider id. Analysis calls are
// retried with the default policy until SetRetry says otherwise.
func NewDispatcher(registry *Registry, keys KeyResolver, usage *UsageTracker, log *zap.Logger, providers ...AnalysisProvider) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		registry:      registry,
		keys:          keys,
		usage:         usage,
		providers:     make(map[string]AnalysisProvider, len(providers)),
		retryOpts:     retry.DefaultOptions(),
		retryAnalysis: true,
		log:           log.Named("dispatcher"),
	}
	for _, p := range providers {
		d.providers[p.ID()] = p
	}
	return d
}

// SetRetry replaces the retry policy for analysis calls.
func (d *Dispatcher) SetRetry(opts retry.Options, enabled bool) {
	d.retryOpts = opts
	d.retryAnalysis = enabled
}

// Registry exposes the catalog the dispatcher resolves against.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// AnalyzeFile analyzes file with modelID. Usage is counted once per call
// before anything else, whether or not the call succeeds.
func (d *Dispatcher) AnalyzeFile(ctx context.Context, file File, modelID string, withReasoning, useThinkingMode bool) (AnalysisResult, error) {
	if d.usage != nil {
		if err := d.usage.Track(ctx); err != nil {
			d.log.Warn("track usage failed", zap.Error(err))
		}
	}

	provider, model, err := d.registry.ResolveActive(modelID)
	if err != nil {
		return AnalysisResult{}, err
	}

	apiKey, err := d.keys.Resolve(ctx, provider.ID)
	if err != nil {
		return AnalysisResult{}, err
	}

	strategy, ok := d.providers[provider.ID]
	if !ok {
		return AnalysisResult{}, &ConfigError{
			Provider: provider.ID,
			Message:  fmt.Sprintf("no integration is registered for provider %q", provider.ID),
		}
	}

	req := AnalysisRequest{
		File:            file,
		Provider:        provider,
		Model:           model,
		APIKey:          apiKey,
		WithReasoning:   withReasoning,
		UseThinkingMode: useThinkingMode,
	}
	if pf, ok := strategy.(Preflighter); ok {
		if err := pf.Preflight(req); err != nil {
			return AnalysisResult{}, err
		}
	}

	start := time.Now()
	raw, err := d.call(ctx, strategy, req)
	if err != nil {
		kind := KindOf(err, strategy.Classify)
		d.log.Warn("analysis failed",
			zap.String("provider", provider.ID),
			zap.String("model", model.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return AnalysisResult{}, &ProviderError{Model: model.Name, Provider: provider.ID, Kind: kind, Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return AnalysisResult{}, &ProviderError{Model: model.Name, Provider: provider.ID, Kind: KindProvider, Err: ErrEmptyAnalysis}
	}

	d.log.Info("analysis completed",
		zap.String("provider", provider.ID),
		zap.String("model", model.ID),
		zap.Duration("latency", time.Since(start)),
	)
	return AnalysisResult{
		Analysis:     NormalizeAnalysis(raw),
		ProviderName: provider.Name,
		ModelName:    model.Name,
	}, nil
}

func (d *Dispatcher) call(ctx context.Context, strategy AnalysisProvider, req AnalysisRequest) (string, error) {
	op := func(ctx context.Context) (string, error) {
		return strategy.Analyze(ctx, req)
	}
	if !d.retryAnalysis {
		return op(ctx)
	}

	opts := d.retryOpts
	opts.Classify = retryClassifier(strategy.Classify)
	opts.Notify = func(err error, attempt int, wait time.Duration) {
		d.log.Info("retrying analysis",
			zap.String("provider", req.Provider.ID),
			zap.String("model", req.Model.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.String("kind", string(KindOf(err, strategy.Classify))),
		)
	}
	return retry.Do(ctx, op, opts)
}

// retryClassifier retries rate limits and transient failures. An error that
// is already a RateLimitError is a final verdict and is not retried.
func retryClassifier(classify Classifier) func(error) bool {
	return func(err error) bool {
		var rl *retry.RateLimitError
		if errors.As(err, &rl) {
			return false
		}
		return KindOf(err, classify).Retryable()
	}
}
