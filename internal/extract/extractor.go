package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

// Config controls what the extractor produces.
type Config struct {
	IncludeMetadata bool
	RenderTabs      bool
}

// Content is the archivable result for one tab.
type Content struct {
	Body     []byte
	Binary   bool
	Ext      string
	Metadata *model.Metadata
}

// Extractor fetches tab pages through a crawler.Fetcher and extracts content.
type Extractor struct {
	cfg     Config
	fetcher crawler.Fetcher
	logger  *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, fetcher crawler.Fetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Extract routes the tab to text or binary extraction by its type. Fetch
// failures are returned as-is; page-level problems become *ExtractError.
func (e *Extractor) Extract(ctx context.Context, tab *model.TabRef) (*Content, error) {
	if !tab.Type.Downloadable() {
		return nil, e.fail(tab, KindSkipped, fmt.Errorf("type %s has no archivable content", tab.Type))
	}
	if tab.Type.IsBinary() {
		return e.extractBinary(ctx, tab)
	}
	return e.extractText(ctx, tab)
}

func (e *Extractor) extractText(ctx context.Context, tab *model.TabRef) (*Content, error) {
	doc, _, err := e.load(ctx, tab, TextMarker)
	if err != nil {
		return nil, err
	}
	body, ok := TextBody(doc)
	if !ok {
		return nil, e.fail(tab, KindMissingContent, errors.New("tab body is empty"))
	}
	meta := ParseMetadata(doc)
	text := body
	if e.cfg.IncludeMetadata && !meta.Empty() {
		text = FormatHeader(meta) + body
	}
	e.logger.Debug("text tab extracted",
		zap.String("tab_id", tab.ID),
		zap.Int("bytes", len(text)),
		zap.Bool("metadata", meta != nil))
	return &Content{Body: []byte(text), Ext: "txt", Metadata: meta}, nil
}

func (e *Extractor) extractBinary(ctx context.Context, tab *model.TabRef) (*Content, error) {
	doc, page, err := e.load(ctx, tab, BinaryMarker)
	if err != nil {
		return nil, err
	}
	pageURL := page.URL
	if pageURL == "" {
		pageURL = tab.URL
	}
	form, err := ParseDownloadForm(doc, pageURL)
	if err != nil {
		kind := KindMalformedPage
		if errors.Is(err, ErrMissingContent) {
			kind = KindMissingContent
		}
		return nil, e.fail(tab, kind, err)
	}
	resp, err := e.fetcher.Fetch(ctx, form.Request(tab.URL, page.Cookies))
	if err != nil {
		return nil, fmt.Errorf("download tab %s: %w", tab.ID, err)
	}
	if len(resp.Body) == 0 {
		return nil, e.fail(tab, KindMissingContent, errors.New("download is empty"))
	}
	if looksLikeHTML(resp.Body) {
		return nil, e.fail(tab, KindMissingContent, errors.New("download returned an html page"))
	}
	ext := ResolveExtension(tab.Type, resp)
	e.logger.Debug("binary tab downloaded",
		zap.String("tab_id", tab.ID),
		zap.String("ext", ext),
		zap.Int("bytes", len(resp.Body)))
	return &Content{Body: resp.Body, Binary: true, Ext: ext}, nil
}

func (e *Extractor) load(ctx context.Context, tab *model.TabRef, marker string) (*goquery.Document, crawler.FetchResponse, error) {
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:          tab.URL,
		Render:       e.cfg.RenderTabs,
		WaitSelector: marker,
	})
	if err != nil {
		if errors.Is(err, crawler.ErrNotReady) {
			return nil, resp, e.fail(tab, KindMissingContent, err)
		}
		return nil, resp, fmt.Errorf("load tab %s: %w", tab.ID, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, resp, e.fail(tab, KindMalformedPage, err)
	}
	return doc, resp, nil
}

func (e *Extractor) fail(tab *model.TabRef, kind ErrorKind, cause error) error {
	return &ExtractError{Kind: kind, TabID: tab.ID, URL: tab.URL, Cause: cause}
}
