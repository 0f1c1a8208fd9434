package board

import (
	"context"
	"time"
)

// Navigator abstracts the page-rendering engine behind the crawl. Page
// numbering starts at 1. All blocking calls take a context; stalls surface
// as errors wrapping ErrNavigationTimeout.
type Navigator interface {
	// FetchListing loads listing page n and returns its items in
	// site-native order. An empty slice means the listing is exhausted.
	FetchListing(ctx context.Context, page int) ([]ItemRef, error)
	// FetchDetail loads the detail page for url and returns an opaque
	// handle consumed by Extract.
	FetchDetail(ctx context.Context, url string) (Content, error)
	// Extract turns a loaded detail page into record fields. Failures wrap
	// ErrExtraction and are contained at the item level.
	Extract(ctx context.Context, c Content) (map[string]string, error)
	// AdvancePage navigates from listing page n to page n+1.
	AdvancePage(ctx context.Context, page int) error
	// OpenRoot returns to the listing root. Used by the recovery protocol.
	OpenRoot(ctx context.Context) error
	// Reload re-requests the current page when OpenRoot itself fails.
	Reload(ctx context.Context) error
	Close(ctx context.Context) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// Sleeper suspends the calling goroutine for the given duration, waking
// early if the context finishes. The controller routes every scheduled
// delay and recovery wait through one Sleeper.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration)
}
