package discover

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tab-archiver/internal/model"
)

// Selectors for the listing pages.
const (
	ArtistListMarker = ".baseListComponent-section"
	artistRowSel     = ".baseListComponent-section span.bandTitle-content a"
	TabListMarker    = "article.ugm-list"
	tabRowSel        = "article.ugm-list a.ugm-list--link"
	tabTitleSel      = "section.ugm-list--link--body div.ugm-list--link--link"
	tabTypeSel       = "div.ugm-list--type"
)

var (
	artistIDPattern = regexp.MustCompile(`/artist/\w*?(\d+)$`)
	tabIDPattern    = regexp.MustCompile(`(\d+)/?$`)
	tabsSuffix      = regexp.MustCompile(`\s*Tabs\s*$`)
)

// ParseArtistIndex extracts artists from one index page in document order.
// Rows without a recognisable artist id are ignored.
func ParseArtistIndex(body []byte, base *url.URL) ([]*model.Artist, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse artist index: %w", err)
	}
	var artists []*model.Artist
	doc.Find(artistRowSel).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		link, err := resolve(base, href)
		if err != nil {
			return
		}
		m := artistIDPattern.FindStringSubmatch(link.Path)
		if m == nil {
			return
		}
		name := collapseSpace(tabsSuffix.ReplaceAllString(collapseSpace(s.Text()), ""))
		artists = append(artists, model.NewArtist(m[1], name, link.String()))
	})
	return artists, nil
}

// ParseTabCatalog extracts tab references from one catalogue page in document
// order. No type filtering happens here.
func ParseTabCatalog(body []byte, base *url.URL) ([]*model.TabRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse tab catalogue: %w", err)
	}
	var tabs []*model.TabRef
	doc.Find(tabRowSel).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, err := resolve(base, href)
		if err != nil || href == "" {
			return
		}
		id := strings.TrimSpace(s.AttrOr("data-tab-id", ""))
		if id == "" {
			id = tabIDFromPath(link.Path)
		}
		if id == "" {
			return
		}
		title := collapseSpace(s.Find(tabTitleSel).First().Text())
		if title == "" {
			title = collapseSpace(s.Text())
		}
		tabs = append(tabs, &model.TabRef{
			ID:    id,
			Title: title,
			Type:  model.ParseTabType(s.Find(tabTypeSel).First().Text()),
			URL:   link.String(),
		})
	})
	return tabs, nil
}

func tabIDFromPath(path string) string {
	if !strings.Contains(path, "/tab/") {
		return ""
	}
	m := tabIDPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return m[1]
}

func resolve(base *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("parse href %q: %w", href, err)
	}
	if base == nil {
		return ref, nil
	}
	return base.ResolveReference(ref), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ArtistIndexURL returns the index page for a letter bucket: the first page is
// {base}/bands/{letter}.htm, later pages append the page number.
func ArtistIndexURL(base *url.URL, letter string, page int) string {
	name := letter + ".htm"
	if page > 1 {
		name = fmt.Sprintf("%s%d.htm", letter, page)
	}
	return base.JoinPath("bands", name).String()
}

// CatalogURL returns page n of an artist's tab catalogue.
func CatalogURL(artistURL string, page int) (string, error) {
	if page <= 1 {
		return artistURL, nil
	}
	u, err := url.Parse(artistURL)
	if err != nil {
		return "", fmt.Errorf("parse artist url: %w", err)
	}
	q := u.Query()
	q.Set("page", fmt.Sprint(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
