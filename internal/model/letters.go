package model

import (
	"fmt"
	"strings"
	"unicode"
)

// DigitsBucket is the index bucket for artists whose name does not start with
// a latin letter.
const DigitsBucket = "0-9"

// Buckets lists the artist index buckets in site order.
func Buckets() []string {
	out := make([]string, 0, 27)
	out = append(out, DigitsBucket)
	for c := 'a'; c <= 'z'; c++ {
		out = append(out, string(c))
	}
	return out
}

// LetterRange is an inclusive span of index buckets.
type LetterRange struct {
	Start string
	End   string
}

// ParseLetterRange validates both bounds; "0", "#" and "0-9" all name the
// digits bucket.
func ParseLetterRange(start, end string) (LetterRange, error) {
	s, err := normaliseBucket(start)
	if err != nil {
		return LetterRange{}, fmt.Errorf("start letter: %w", err)
	}
	e, err := normaliseBucket(end)
	if err != nil {
		return LetterRange{}, fmt.Errorf("end letter: %w", err)
	}
	if bucketIndex(s) > bucketIndex(e) {
		return LetterRange{}, fmt.Errorf("start letter %q is after end letter %q", s, e)
	}
	return LetterRange{Start: s, End: e}, nil
}

// Letters expands the range into its buckets.
func (r LetterRange) Letters() []string {
	all := Buckets()
	lo, hi := bucketIndex(r.Start), bucketIndex(r.End)
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		hi = len(all) - 1
	}
	if lo > hi {
		return nil
	}
	return all[lo : hi+1]
}

// Contains reports whether the bucket of name lies inside the range.
func (r LetterRange) Contains(name string) bool {
	b := BucketOf(name)
	idx := bucketIndex(b)
	return idx >= bucketIndex(r.Start) && idx <= bucketIndex(r.End)
}

// BucketOf maps an artist name to its index bucket.
func BucketOf(name string) string {
	for _, r := range strings.TrimSpace(name) {
		r = unicode.ToLower(r)
		if r >= 'a' && r <= 'z' {
			return string(r)
		}
		return DigitsBucket
	}
	return DigitsBucket
}

func normaliseBucket(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "0", "#", "0-9", "digits":
		return DigitsBucket, nil
	}
	if len(v) == 1 && v[0] >= 'a' && v[0] <= 'z' {
		return v, nil
	}
	return "", fmt.Errorf("invalid bucket %q", v)
}

func bucketIndex(b string) int {
	if b == DigitsBucket {
		return 0
	}
	if len(b) == 1 && b[0] >= 'a' && b[0] <= 'z' {
		return int(b[0]-'a') + 1
	}
	return -1
}
