package extract

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tab-archiver/internal/model"
)

// Selectors for text tab pages.
const (
	TextMarker    = "code.tabContent-code"
	textBodySel   = "code.tabContent-code pre"
	metaItemSel   = "ul.tabHeader-info li"
	metaNameSel   = "span.tabHeader-name"
	headerOpen    = "=== Tab Metadata ==="
	headerDivider = "===================="
)

var (
	ratingPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	votesPattern  = regexp.MustCompile(`\(?\s*(\d[\d,.\s]*)\s*(?:votes?|ratings?)?\s*\)`)
	digitsOnly    = regexp.MustCompile(`\D`)
)

// TextBody returns the tab body exactly as rendered, whitespace included.
func TextBody(doc *goquery.Document) (string, bool) {
	body := doc.Find(textBodySel).First()
	if body.Length() == 0 {
		body = doc.Find(TextMarker).First()
	}
	text := body.Text()
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// ParseMetadata reads the header list above a tab. Missing entries stay
// unset; labels it does not recognise are kept in Extra.
func ParseMetadata(doc *goquery.Document) *model.Metadata {
	meta := &model.Metadata{}
	doc.Find(metaItemSel).Each(func(_ int, li *goquery.Selection) {
		nameSel := li.Find(metaNameSel).First()
		label := strings.TrimSuffix(collapseSpace(nameSel.Text()), ":")
		if label == "" {
			return
		}
		value := collapseSpace(strings.Replace(li.Text(), nameSel.Text(), "", 1))
		if value == "" {
			return
		}
		applyField(meta, label, value)
	})
	if meta.Empty() {
		return nil
	}
	return meta
}

func applyField(meta *model.Metadata, label, value string) {
	switch strings.ToLower(label) {
	case "rating":
		if m := ratingPattern.FindString(value); m != "" {
			if r, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64); err == nil {
				meta.Rating = &r
			}
		}
		if m := votesPattern.FindStringSubmatch(value); m != nil {
			setVotes(meta, m[1])
		}
	case "votes", "ratings":
		setVotes(meta, value)
	case "difficulty":
		meta.Difficulty = value
	case "tuning":
		meta.Tuning = value
	case "key":
		meta.Key = value
	case "capo":
		meta.Capo = value
	case "author", "tabbed by", "contributor":
		meta.Author = value
	default:
		if meta.Extra == nil {
			meta.Extra = make(map[string]string)
		}
		meta.Extra[label] = value
	}
}

func setVotes(meta *model.Metadata, raw string) {
	n, err := strconv.Atoi(digitsOnly.ReplaceAllString(raw, ""))
	if err == nil {
		meta.Votes = &n
	}
}

// FormatHeader renders the delimited metadata block prefixed to text tabs.
// Fields appear in a fixed order; absent fields are left out.
func FormatHeader(meta *model.Metadata) string {
	var b strings.Builder
	b.WriteString(headerOpen + "\n")
	line := func(label, value string) {
		if value != "" {
			b.WriteString(label + ": " + value + "\n")
		}
	}
	if meta != nil {
		if meta.Rating != nil {
			line("Rating", strconv.FormatFloat(*meta.Rating, 'f', -1, 64))
		}
		if meta.Votes != nil {
			line("Votes", strconv.Itoa(*meta.Votes))
		}
		line("Difficulty", meta.Difficulty)
		line("Tuning", meta.Tuning)
		line("Key", meta.Key)
		line("Capo", meta.Capo)
		line("Author", meta.Author)
		labels := make([]string, 0, len(meta.Extra))
		for label := range meta.Extra {
			labels = append(labels, label)
		}
		slices.Sort(labels)
		for _, label := range labels {
			line(label, meta.Extra[label])
		}
	}
	b.WriteString(headerDivider + "\n\n")
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
