package headless

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
)

// ErrRenderingDisabled is returned by Noop.
var ErrRenderingDisabled = errors.New("rendered loading is disabled")

// Noop stands in for the rendered loader when every page type is configured
// for static fetching.
type Noop struct{}

// NewNoop creates a new Noop loader.
func NewNoop() *Noop {
	return &Noop{}
}

// Load always fails.
func (Noop) Load(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, crawler.Permanent(fmt.Errorf("%s: %w", request.URL, ErrRenderingDisabled))
}
