package ai

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/kvstore"
	"github.com/prism-ai/prism/internal/pkg/retry"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func mustRegistry(t *testing.T, providers []Provider) *Registry {
	t.Helper()
	r, err := NewRegistry(providers)
	require.NoError(t, err)
	return r
}

func clientCtx(t *testing.T) (context.Context, kvstore.Store) {
	t.Helper()
	scope, _ := clientscope.ForClient(kvstore.NewMemory(), "tester")
	return clientscope.With(context.Background(), scope), scope.Store
}

type recordingTimer struct {
	waits []time.Duration
	ch    chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.ch = make(chan time.Time, 1)
	t.ch <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.ch }

func fastRetry(timer *recordingTimer) retry.Options {
	opts := retry.DefaultOptions()
	opts.Timer = timer
	return opts
}

// fakeProvider records calls and replays scripted answers.
type fakeProvider struct {
	id      string
	answers []string
	errs    []error
	calls   int
	last    AnalysisRequest
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Classify(error) ErrorKind { return KindUnknown }

func (f *fakeProvider) Analyze(_ context.Context, req AnalysisRequest) (string, error) {
	i := f.calls
	f.calls++
	f.last = req
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.answers) {
		return f.answers[i], nil
	}
	if len(f.answers) > 0 {
		return f.answers[len(f.answers)-1], nil
	}
	return "", nil
}

// fakeGemini stands in for GeminiClient.
type fakeGemini struct {
	mu       sync.Mutex
	calls    int
	model    string
	apiKey   string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
	stream   []*genai.GenerateContentResponse
	images   *genai.GenerateImagesResponse
}

func (f *fakeGemini) GenerateContent(_ context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.apiKey, f.model, f.contents, f.cfg = apiKey, model, contents, cfg
	return f.resp, f.err
}

func (f *fakeGemini) GenerateContentStream(_ context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.mu.Lock()
	f.calls++
	f.apiKey, f.model, f.contents, f.cfg = apiKey, model, contents, cfg
	f.mu.Unlock()
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range f.stream {
			if !yield(r, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func (f *fakeGemini) GenerateImages(_ context.Context, apiKey, model, _ string, _ *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.apiKey, f.model = apiKey, model
	return f.images, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}
