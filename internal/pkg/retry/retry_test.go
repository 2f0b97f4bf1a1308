package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestDoRetriesTransientUntilExhausted(t *testing.T) {
	timer := &recordingTimer{}
	opts := DefaultOptions()
	opts.Timer = timer

	calls := 0
	_, err := Do(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", errors.New("upstream returned 503 Service Unavailable")
	}, opts)

	require.Error(t, err)
	assert.Equal(t, opts.MaxRetries+1, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, timer.waits)
	assert.False(t, IsRateLimit(err))
	assert.Contains(t, err.Error(), "503")
}

func TestDoUsesSuggestedRetryDelay(t *testing.T) {
	timer := &recordingTimer{}
	opts := DefaultOptions()
	opts.MaxRetries = 1
	opts.Timer = timer

	calls := 0
	out, err := Do(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New(`429 RESOURCE_EXHAUSTED {"retryDelay": "2.5s"}`)
		}
		return 42, nil
	}, opts)

	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, []time.Duration{2500 * time.Millisecond}, timer.waits)
}

func TestDoCapsSuggestedDelayAtMaxDelay(t *testing.T) {
	timer := &recordingTimer{}
	opts := DefaultOptions()
	opts.MaxRetries = 1
	opts.MaxDelay = 5 * time.Second
	opts.Timer = timer

	_ = Run(context.Background(), func(context.Context) error {
		return errors.New(`quota exceeded, retry_after: 120`)
	}, opts)

	assert.Equal(t, []time.Duration{5 * time.Second}, timer.waits)
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	timer := &recordingTimer{}
	opts := DefaultOptions()
	opts.Timer = timer

	calls := 0
	sentinel := errors.New("invalid_api_key")
	err := Run(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	}, opts)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.waits)
}

func TestDoWrapsExhaustedRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 2
	opts.Timer = &recordingTimer{}

	err := Run(context.Background(), func(context.Context) error {
		return errors.New("Error 429: too many requests")
	}, opts)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, DefaultRateLimitWait, rl.RetryAfter)
}

func TestDoRateLimitCarriesSuggestedWait(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 0
	opts.Timer = &recordingTimer{}

	err := Run(context.Background(), func(context.Context) error {
		return errors.New(`RESOURCE_EXHAUSTED retryDelay: "7s"`)
	}, opts)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestDoClassifierOverridesSubstrings(t *testing.T) {
	opts := DefaultOptions()
	opts.Timer = &recordingTimer{}
	opts.Classify = func(error) bool { return false }

	calls := 0
	_ = Run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("503")
	}, opts)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := DefaultOptions()
	opts.InitialDelay = time.Hour
	opts.MaxDelay = time.Hour

	calls := 0
	err := Run(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("503")
	}, opts)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNotifyReceivesAttempt(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRetries = 2
	opts.Timer = &recordingTimer{}

	var attempts []int
	opts.Notify = func(_ error, attempt int, _ time.Duration) {
		attempts = append(attempts, attempt)
	}
	_ = Run(context.Background(), func(context.Context) error {
		return errors.New("model is overloaded")
	}, opts)
	assert.Equal(t, []int{1, 2}, attempts)
}

type hinted struct{ wait time.Duration }

func (h hinted) Error() string            { return "status 429" }
func (h hinted) RetryHint() time.Duration { return h.wait }

func TestDoReadsTypedRetryHint(t *testing.T) {
	timer := &recordingTimer{}
	opts := DefaultOptions()
	opts.MaxRetries = 1
	opts.Timer = timer

	err := Run(context.Background(), func(context.Context) error {
		return hinted{wait: 3 * time.Second}
	}, opts)

	assert.Equal(t, []time.Duration{3 * time.Second}, timer.waits)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
}

func TestSuggestedDelay(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{`retryDelay: "2.5s"`, 2500 * time.Millisecond},
		{`{"retry_after": 4}`, 4 * time.Second},
		{`retry-after=1.5`, 1500 * time.Millisecond},
		{`nothing to see`, 0},
		{`{"error":{"details":[{"retryDelay":"9s"}]}}`, 9 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SuggestedDelay(tc.in), tc.in)
	}
}

func TestParseRetryDelayPrefersHeader(t *testing.T) {
	body := []byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"6s"}]}}`)

	assert.Equal(t, 6*time.Second, ParseRetryDelay(http.Header{}, body))
	assert.Equal(t, 12*time.Second, ParseRetryDelay(http.Header{"Retry-After": []string{"12"}}, body))
	assert.Zero(t, ParseRetryDelay(http.Header{}, nil))
}
