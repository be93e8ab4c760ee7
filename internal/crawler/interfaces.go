package crawler

import (
	"context"
	"time"
)

// Loader performs a single attempt of a request. Implementations do not
// retry; the Client owns retry and classification.
type Loader interface {
	Load(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Fetcher is the resilient fetch capability consumed by discovery and
// extraction.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Pauser sleeps for a duration unless the context ends first.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// FetchObserver receives fetch outcomes, typically for metrics.
type FetchObserver interface {
	ObserveFetch(variant, outcome string, elapsed time.Duration)
	ObserveRetry(variant string, delay time.Duration)
}

// Promoter decides whether a static response needs the rendered loader.
type Promoter interface {
	ShouldPromote(resp FetchResponse) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(string, string, time.Duration) {}
func (nopObserver) ObserveRetry(string, time.Duration)         {}
