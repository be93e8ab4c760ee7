package crawler

import (
	"net/http"
	"time"
)

// FetchRequest describes one logical request. Render selects the rendered
// loader; WaitSelector names the DOM marker that signals the page content is
// ready.
type FetchRequest struct {
	URL             string
	Method          string
	Form            map[string]string
	Headers         http.Header
	Cookies         []*http.Cookie
	Render          bool
	WaitSelector    string
	FollowRedirects bool
}

// MethodOrDefault returns the HTTP method, GET when unset.
func (r FetchRequest) MethodOrDefault() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// FetchResponse is what a loader observed for a single attempt.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Cookies    []*http.Cookie
	Redirected bool
	Rendered   bool
	Duration   time.Duration
}

// Variant labels which loader served a request.
func (r FetchRequest) Variant() string {
	if r.Render {
		return "rendered"
	}
	return "static"
}
