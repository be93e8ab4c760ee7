// Package headless contains the rendered crawler.Loader backed by chromedp.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
)

const (
	defaultNavTimeout = 60 * time.Second
	defaultSettle     = 2 * time.Second
)

const redirectCountJS = `(() => {
	const nav = performance.getEntriesByType('navigation')[0];
	return nav ? nav.redirectCount : 0;
})()`

const readyProbeJS = `(() => {
	const el = document.querySelector(%s);
	return !!el && (el.textContent.trim().length > 0 || el.children.length > 0);
})()`

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	// Container enables the flags needed to run Chrome inside a container.
	Container    bool
	ChromeBin    string
	WindowWidth  int
	WindowHeight int
	Readiness    crawler.Readiness
}

// Fetcher implements crawler.Loader with one shared headless browser; each
// load runs in its own tab and at most MaxParallel tabs are open at once.
type Fetcher struct {
	cfg         Config
	logger      *zap.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser
// process starts on the first Load.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range browserFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ChromeBin != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromeBin))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		logger:      logger,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func browserFlags(cfg Config) map[string]any {
	flags := map[string]any{
		"headless":          "new",
		"disable-gpu":       true,
		"hide-scrollbars":   true,
		"enable-automation": false,
		"mute-audio":        true,
	}
	if cfg.Container {
		flags["no-sandbox"] = true
		flags["disable-setuid-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["single-process"] = true
		flags["no-zygote"] = true
		flags["disable-extensions"] = true
	}
	return flags
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.mu.Lock()
	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCtx, f.browserCancel = nil, nil
	}
	f.mu.Unlock()
	f.allocCancel()
}

// Load renders request.URL, waits for request.WaitSelector through the
// readiness loop and returns the resulting DOM and cookies.
func (f *Fetcher) Load(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.MethodOrDefault() != http.MethodGet {
		return crawler.FetchResponse{}, crawler.Permanent(
			fmt.Errorf("rendered loader cannot %s %s", request.Method, request.URL))
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.release()

	browserCtx, err := f.browser()
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	taskCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	finalURL, redirects, err := f.navigate(taskCtx, request)
	if err != nil {
		return crawler.FetchResponse{}, f.wrapErr(ctx, request, err)
	}
	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	result := crawler.FetchResponse{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Rendered:   true,
	}
	if redirects > 0 || status >= 300 {
		result.Redirected = redirects > 0
		result.Duration = time.Since(start)
		return result, nil
	}

	if request.WaitSelector != "" {
		if err := f.cfg.Readiness.Await(taskCtx, f.probe(request.WaitSelector)); err != nil {
			f.logger.Debug("rendered page not ready",
				zap.String("url", request.URL),
				zap.String("selector", request.WaitSelector),
				zap.Error(err))
			return crawler.FetchResponse{}, f.wrapErr(ctx, request, err)
		}
	}

	html, cookies, err := f.snapshot(taskCtx, responseURL)
	if err != nil {
		return crawler.FetchResponse{}, f.wrapErr(ctx, request, err)
	}
	result.Body = []byte(html)
	result.Cookies = cookies
	result.Duration = time.Since(start)
	return result, nil
}

func (f *Fetcher) navigate(ctx context.Context, request crawler.FetchRequest) (string, int, error) {
	var (
		finalURL  string
		redirects float64
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.Evaluate(redirectCountJS, &redirects),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", 0, fmt.Errorf("chromedp navigate: %w", err)
	}
	return finalURL, int(redirects), nil
}

func (f *Fetcher) probe(selector string) crawler.Probe {
	quoted, _ := json.Marshal(selector)
	script := fmt.Sprintf(readyProbeJS, quoted)
	return func(ctx context.Context) (bool, error) {
		var ready bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(script, &ready)); err != nil {
			return false, fmt.Errorf("evaluate readiness: %w", err)
		}
		return ready, nil
	}
}

func (f *Fetcher) snapshot(ctx context.Context, pageURL string) (string, []*http.Cookie, error) {
	var (
		html    string
		cookies []*http.Cookie
	)
	err := chromedp.Run(ctx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			got, err := network.GetCookies().WithURLs([]string{pageURL}).Do(ctx)
			if err != nil {
				return fmt.Errorf("read cookies: %w", err)
			}
			cookies = toHTTPCookies(got)
			return nil
		}),
	)
	if err != nil {
		return "", nil, fmt.Errorf("chromedp snapshot: %w", err)
	}
	return html, cookies, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// wrapErr prefers the caller's cancellation over chromedp's own error so the
// client does not retry an interrupted load.
func (f *Fetcher) wrapErr(ctx context.Context, request crawler.FetchRequest, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("render %s: %w", request.URL, ctxErr)
	}
	return fmt.Errorf("render %s: %w", request.URL, err)
}

func (f *Fetcher) browser() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browserCtx != nil {
		return f.browserCtx, nil
	}
	browserCtx, cancel := chromedp.NewContext(f.allocator,
		chromedp.WithLogf(f.logger.Sugar().Debugf),
		chromedp.WithErrorf(f.logger.Sugar().Debugf))
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	f.browserCtx, f.browserCancel = browserCtx, cancel
	f.logger.Info("headless browser started", zap.Bool("container", f.cfg.Container))
	return browserCtx, nil
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (f *Fetcher) settleDelay() time.Duration {
	if f.cfg.SettleDelay > 0 {
		return f.cfg.SettleDelay
	}
	if f.cfg.SettleDelay < 0 {
		return 0
	}
	return defaultSettle
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response is the page itself; later ones are frames.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
