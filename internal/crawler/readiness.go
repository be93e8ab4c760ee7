package crawler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Probe checks once whether page content is ready.
type Probe func(ctx context.Context) (bool, error)

// Readiness is the bounded content-readiness loop: up to Probes checks spaced
// by a fixed Interval. It is independent of the network retry loop.
type Readiness struct {
	Probes   int
	Interval time.Duration
	Pauser   Pauser
}

// Await runs probe until it reports ready, fails, or the budget is spent.
func (r Readiness) Await(ctx context.Context, probe Probe) error {
	probes := r.Probes
	if probes <= 0 {
		probes = 1
	}
	pauser := r.Pauser
	if pauser == nil {
		pauser = TimerPauser{}
	}
	for i := 1; i <= probes; i++ {
		ready, err := probe(ctx)
		if err != nil {
			return fmt.Errorf("readiness probe %d: %w", i, err)
		}
		if ready {
			return nil
		}
		if i < probes {
			pauser.Pause(ctx, r.Interval)
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("readiness wait: %w", err)
			}
		}
	}
	return fmt.Errorf("%w after %d probes", ErrNotReady, probes)
}

// SelectorPresent reports whether body contains at least one element matching
// selector with non-blank text or children.
func SelectorPresent(body []byte, selector string) (bool, error) {
	if strings.TrimSpace(selector) == "" {
		return true, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("parse document: %w", err)
	}
	found := false
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != "" || s.Children().Length() > 0 {
			found = true
			return false
		}
		return true
	})
	return found, nil
}
