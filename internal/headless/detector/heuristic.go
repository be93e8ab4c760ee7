// Package detector recognises static responses that are only a client-side
// rendering shell, so the fetch client can retry them in the browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
)

const defaultScriptShare = 25

// shellMarkers appear in pages whose content is filled in by scripts.
var shellMarkers = [][]byte{
	[]byte(`id="app"`),
	[]byte("__NEXT_DATA__"),
	[]byte("data-reactroot"),
	[]byte("enable JavaScript"),
}

// Heuristic flags a response as a shell when it is empty, carries a known
// shell marker, or is dominated by inline script.
type Heuristic struct {
	// ScriptShare is the percentage of document text inside <script> tags at
	// or above which the page counts as a shell.
	ScriptShare int
}

// NewHeuristic creates a detector; share <= 0 selects the default of 25%.
func NewHeuristic(share int) *Heuristic {
	if share <= 0 {
		share = defaultScriptShare
	}
	return &Heuristic{ScriptShare: share}
}

// ShouldPromote reports whether resp should be fetched again through the
// rendered loader. Only successful static responses qualify.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.Rendered || resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return h.scriptShare(resp.Body) >= h.ScriptShare
}

func (h *Heuristic) scriptShare(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts += len(strings.TrimSpace(s.Text()))
	})
	if scripts == 0 {
		return 0
	}
	visible := len(strings.TrimSpace(doc.Find("body").Text()))
	// goquery counts script text as body text when scripts live in <body>.
	total := visible + len(strings.TrimSpace(doc.Find("head").Text()))
	if total == 0 {
		return 100
	}
	return scripts * 100 / total
}
