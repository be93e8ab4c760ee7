package extract

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tab-archiver/internal/crawler"
	"github.com/JakeFAU/tab-archiver/internal/model"
)

// BinaryMarker is the download form present on Guitar Pro and Power Tab pages.
const BinaryMarker = "section.downloadProTab-container form.downloadProTab-form"

var (
	proExtensions   = []string{"gp3", "gp4", "gp5", "gp6", "gp7", "gpx", "gp", "tg"}
	powerExtensions = []string{"ptb"}
)

// DownloadForm is the resolved download request embedded in a tab page.
type DownloadForm struct {
	Method string
	Action string
	Fields map[string]string
}

// ParseDownloadForm locates the download form and resolves its action against
// pageURL.
func ParseDownloadForm(doc *goquery.Document, pageURL string) (DownloadForm, error) {
	form := doc.Find(BinaryMarker).First()
	if form.Length() == 0 {
		return DownloadForm{}, ErrMissingContent
	}
	action := strings.TrimSpace(form.AttrOr("action", ""))
	if action == "" {
		return DownloadForm{}, fmt.Errorf("%w: download form has no action", ErrMalformedPage)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return DownloadForm{}, fmt.Errorf("%w: page url: %v", ErrMalformedPage, err)
	}
	ref, err := url.Parse(action)
	if err != nil {
		return DownloadForm{}, fmt.Errorf("%w: form action: %v", ErrMalformedPage, err)
	}
	fields := make(map[string]string)
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		fields[name] = in.AttrOr("value", "")
	})
	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodPost)))
	if method != http.MethodGet {
		method = http.MethodPost
	}
	return DownloadForm{Method: method, Action: base.ResolveReference(ref).String(), Fields: fields}, nil
}

// Request turns the form into a fetch request that carries the browser
// session along.
func (f DownloadForm) Request(referer string, cookies []*http.Cookie) crawler.FetchRequest {
	req := crawler.FetchRequest{
		URL:             f.Action,
		Method:          f.Method,
		Headers:         http.Header{"Referer": {referer}},
		Cookies:         cookies,
		FollowRedirects: true,
	}
	if f.Method == http.MethodPost {
		req.Form = f.Fields
		return req
	}
	if u, err := url.Parse(f.Action); err == nil && len(f.Fields) > 0 {
		q := u.Query()
		for k, v := range f.Fields {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		req.URL = u.String()
	}
	return req
}

// ResolveExtension picks the file extension of a downloaded tab. The resolved
// link (Content-Disposition, then the final URL) wins; file signatures and the
// Content-Type are consulted only when the link carries no usable extension.
func ResolveExtension(t model.TabType, resp crawler.FetchResponse) string {
	// A PRO tab may be stored in any Guitar Pro, TuxGuitar or Power Tab
	// format; only a POWER tab is pinned to ptb.
	accepted := slices.Concat(proExtensions, powerExtensions)
	fallback := "gp5"
	if t == model.TypePower {
		accepted, fallback = powerExtensions, "ptb"
	}
	candidates := []string{
		dispositionExt(resp.Headers),
		urlExt(resp.URL),
		sniffExt(resp.Body),
		contentTypeExt(resp.Headers.Get("Content-Type")),
	}
	for _, ext := range candidates {
		if ext != "" && slices.Contains(accepted, ext) {
			return ext
		}
	}
	return fallback
}

func dispositionExt(h http.Header) string {
	cd := h.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return cleanExt(path.Ext(params["filename"]))
}

func urlExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return cleanExt(path.Ext(u.Path))
}

func cleanExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func sniffExt(body []byte) string {
	head := body
	if len(head) > 64 {
		head = head[:64]
	}
	switch {
	case bytes.Contains(head, []byte("FICHIER GUITAR PRO v3")), bytes.Contains(head, []byte("FICHIER GUITARE PRO v3")):
		return "gp3"
	case bytes.Contains(head, []byte("FICHIER GUITAR PRO v4")):
		return "gp4"
	case bytes.Contains(head, []byte("FICHIER GUITAR PRO v5")):
		return "gp5"
	case bytes.HasPrefix(head, []byte("GP6")):
		return "gp6"
	case bytes.HasPrefix(head, []byte("GP7")):
		return "gp7"
	case bytes.HasPrefix(head, []byte("BCFZ")), bytes.HasPrefix(head, []byte("BCFS")):
		return "gpx"
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return "gp"
	case bytes.Contains(bytes.ToLower(head[:min(len(head), 20)]), []byte("ptab")):
		return "ptb"
	case bytes.Contains(head, []byte("TuxGuitar")):
		return "tg"
	}
	return ""
}

func contentTypeExt(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "powertab"), strings.Contains(ct, "ptb"):
		return "ptb"
	case strings.Contains(ct, "tuxguitar"):
		return "tg"
	case strings.Contains(ct, "guitar-pro"), strings.Contains(ct, "guitarpro"), strings.Contains(ct, "x-gp"):
		return "gp5"
	}
	return ""
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
