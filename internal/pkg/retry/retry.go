package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	// DefaultRateLimitWait is the hint attached to a RateLimitError when the
	// provider did not suggest one.
	DefaultRateLimitWait = 10 * time.Second
)

// DefaultRetryableErrors are matched case-insensitively against the serialized error.
var DefaultRetryableErrors = []string{"429", "503", "RESOURCE_EXHAUSTED", "UNAVAILABLE", "overloaded", "quota"}

var rateLimitMarkers = []string{"429", "resource_exhausted", "quota"}

// Timer mirrors backoff.Timer so callers can inject a fake clock.
type Timer = backoff.Timer

// Options configures a retried call. Zero values fall back to the defaults.
type Options struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableErrors []string

	// Classify overrides substring matching when set.
	Classify func(error) bool
	// Notify is called before every wait.
	Notify func(err error, attempt int, wait time.Duration)
	Timer  Timer
}

// DefaultOptions returns the standard retry configuration.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      DefaultMaxRetries,
		InitialDelay:    DefaultInitialDelay,
		MaxDelay:        DefaultMaxDelay,
		Multiplier:      DefaultMultiplier,
		RetryableErrors: append([]string(nil), DefaultRetryableErrors...),
	}
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.RetryableErrors == nil {
		o.RetryableErrors = DefaultRetryableErrors
	}
	return o
}

// RateLimitError is returned once retries are exhausted on a quota or 429 failure.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err carries a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Run retries op according to opts.
func Run(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// Do retries op with exponential backoff, honoring provider-suggested delays.
// Non-retryable errors are returned after the first attempt without waiting.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.InitialDelay
	exp.MaxInterval = opts.MaxDelay
	exp.Multiplier = opts.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	hinted := &hintedBackOff{
		base:     backoff.WithMaxRetries(exp, uint64(opts.MaxRetries)),
		maxDelay: opts.MaxDelay,
	}

	var (
		result  T
		lastErr error
		attempt int
	)
	operation := func() error {
		attempt++
		res, err := op(ctx)
		if err == nil {
			result = res
			return nil
		}
		lastErr = err
		if !isRetryable(err, opts) {
			return backoff.Permanent(err)
		}
		hinted.hint = SuggestedDelay(describe(err))
		return err
	}

	var notify backoff.Notify
	if opts.Notify != nil {
		notify = func(err error, wait time.Duration) {
			opts.Notify(err, attempt, wait)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(hinted, ctx), notify, opts.Timer)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return result, err
	}
	if lastErr != nil {
		err = lastErr
	}
	return result, classifyTerminal(err)
}

// hintedBackOff prefers a delay suggested by the failing call over the
// exponential schedule. The underlying schedule always advances so the retry
// budget is consumed either way.
type hintedBackOff struct {
	base     backoff.BackOff
	maxDelay time.Duration
	hint     time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.base.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.hint > 0 {
		wait := b.hint
		b.hint = 0
		if wait > b.maxDelay {
			wait = b.maxDelay
		}
		return wait
	}
	return next
}

func (b *hintedBackOff) Reset() {
	b.hint = 0
	b.base.Reset()
}

func isRetryable(err error, opts Options) bool {
	if opts.Classify != nil {
		return opts.Classify(err)
	}
	return MatchesAny(describe(err), opts.RetryableErrors)
}

func classifyTerminal(err error) error {
	if IsRateLimit(err) {
		return err
	}
	text := describe(err)
	if !MatchesAny(text, rateLimitMarkers) {
		return err
	}
	wait := SuggestedDelay(text)
	if wait <= 0 {
		wait = DefaultRateLimitWait
	}
	return &RateLimitError{RetryAfter: wait, Err: err}
}

// MatchesAny reports whether text contains any of the needles, ignoring case.
func MatchesAny(text string, needles []string) bool {
	lower := strings.ToLower(text)
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// payloadError is implemented by errors that carry the raw provider response.
type payloadError interface {
	Payload() string
}

// hintError is implemented by errors that already know the server's retry hint.
type hintError interface {
	RetryHint() time.Duration
}

// describe serializes err the way the classifier sees it: the message plus any
// raw payload and retry hint found along the wrap chain.
func describe(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(err.Error())
	for e := err; e != nil; e = errors.Unwrap(e) {
		if p, ok := e.(payloadError); ok {
			if payload := p.Payload(); payload != "" {
				b.WriteString(" ")
				b.WriteString(payload)
			}
		}
		if h, ok := e.(hintError); ok {
			if d := h.RetryHint(); d > 0 {
				fmt.Fprintf(&b, ` retry_after: %g`, d.Seconds())
			}
		}
	}
	return b.String()
}
