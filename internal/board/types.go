// Package board implements the resumable board-crawl engine: the visited
// store, output sink, cutoff policy, backoff scheduler, recovery protocol,
// and the controller that orchestrates them into a single crawl session.
package board

import (
	"errors"
	"time"
)

// ErrNavigationTimeout indicates a page load or navigation stalled past its
// deadline. The recovery protocol treats it as transient exactly once.
var ErrNavigationTimeout = errors.New("navigation timeout")

// ErrExtraction indicates a detail page could not be turned into record
// fields. Extraction failures never abort the session; the item is skipped.
var ErrExtraction = errors.New("extraction failed")

// ErrFatalStall indicates the recovery protocol exhausted its single retry.
// It is the only navigation error that terminates a session.
var ErrFatalStall = errors.New("fatal stall after recovery retry")

// ItemRef is a listing-derived reference to a single board post. It carries
// the site-native timestamp string verbatim; normalization happens in the
// cutoff policy.
type ItemRef struct {
	ID           int64
	URL          string
	RawTimestamp string
	Title        string
}

// Record is the persisted unit of ingestion. ID is the natural key
// (the board's article number); Fields is whatever the extraction routine
// produced for the detail page.
type Record struct {
	ID        int64             `json:"id"`
	Fields    map[string]string `json:"fields"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Content is an opaque handle to a loaded detail page. A Navigator returns
// whatever its own Extract method understands.
type Content any
