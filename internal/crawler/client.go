package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Client is the resilient fetcher: it routes each request to the static or
// rendered loader and wraps it in the network-retry loop.
type Client struct {
	static   Loader
	rendered Loader
	policy   RetryPolicy
	pauser   Pauser
	observer FetchObserver
	promoter Promoter
	logger   *zap.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithPauser replaces the sleeper used between retries.
func WithPauser(p Pauser) ClientOption {
	return func(c *Client) {
		if p != nil {
			c.pauser = p
		}
	}
}

// WithObserver attaches a fetch observer.
func WithObserver(o FetchObserver) ClientOption {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithPromoter lets static responses that fail the readiness check be
// retried once through the rendered loader when p recognises them as a
// client-rendered shell.
func WithPromoter(p Promoter) ClientOption {
	return func(c *Client) { c.promoter = p }
}

// NewClient builds a Client. Either loader may be nil when the corresponding
// variant is never requested.
func NewClient(static, rendered Loader, policy RetryPolicy, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		static:   static,
		rendered: rendered,
		policy:   policy,
		pauser:   TimerPauser{},
		observer: nopObserver{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch executes request with retries. Terminal outcomes are returned as
// *FetchError; running out of retries yields KindExhausted wrapping the last
// failure.
func (c *Client) Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	loader := c.static
	if request.Render {
		loader = c.rendered
	}
	if loader == nil {
		return FetchResponse{}, fmt.Errorf("no %s loader configured for %s", request.Variant(), request.URL)
	}
	variant := request.Variant()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, err := c.attempt(ctx, loader, request)
		if err == nil {
			c.observer.ObserveFetch(variant, "ok", time.Since(start))
			c.logger.Debug("fetch succeeded",
				zap.String("url", request.URL),
				zap.String("variant", variant),
				zap.Int("attempt", attempt),
				zap.Int("status", resp.StatusCode))
			return resp, nil
		}
		c.observer.ObserveFetch(variant, ErrorKind(err), time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResponse{}, fmt.Errorf("fetch %s canceled: %w", request.URL, ctxErr)
		}
		if !c.policy.ShouldRetry(err) {
			c.logger.Info("fetch failed terminally",
				zap.String("url", request.URL),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return FetchResponse{}, err
		}
		if attempt > c.policy.MaxAttempts {
			c.logger.Warn("fetch retries exhausted",
				zap.String("url", request.URL),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return FetchResponse{}, &FetchError{
				Kind:     KindExhausted,
				URL:      request.URL,
				Attempts: attempt,
				Cause:    err,
			}
		}
		delay := c.policy.Backoff(attempt)
		c.logger.Warn("fetch attempt failed, backing off",
			zap.String("url", request.URL),
			zap.String("variant", variant),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		c.observer.ObserveRetry(variant, delay)
		c.pauser.Pause(ctx, delay)
	}
}

func (c *Client) attempt(ctx context.Context, loader Loader, request FetchRequest) (FetchResponse, error) {
	resp, err := loader.Load(ctx, request)
	if err != nil {
		return FetchResponse{}, classifyLoadError(ctx, request.URL, err)
	}
	if err := classifyStatus(request.URL, resp); err != nil {
		return FetchResponse{}, err
	}
	// Rendered loaders run their own readiness loop; static bodies are
	// checked once.
	if !request.Render && request.WaitSelector != "" {
		ready, err := SelectorPresent(resp.Body, request.WaitSelector)
		if err != nil {
			return FetchResponse{}, fmt.Errorf("check readiness of %s: %w", request.URL, err)
		}
		if !ready {
			if c.promoter != nil && c.rendered != nil && c.promoter.ShouldPromote(resp) {
				c.logger.Debug("promoting static response to rendered loader", zap.String("url", request.URL))
				promoted := request
				promoted.Render = true
				return c.attempt(ctx, c.rendered, promoted)
			}
			return FetchResponse{}, fmt.Errorf("%s: %w", request.URL, ErrNotReady)
		}
	}
	return resp, nil
}

// IsTerminalNotFound reports whether err means the page is gone or redirected.
func IsTerminalNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindNotFound
}
