package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrOrgIDNotFound: the input URL yields no recognizable organization id
	// after every resolution strategy. Fatal for the run.
	ErrOrgIDNotFound = errors.New("organization id not found in url")

	// ErrSortControlNotFound: the interactive flow could not locate the sort
	// control or its recency option. Without recency ordering pagination is
	// not deterministic, so the run fails.
	ErrSortControlNotFound = errors.New("sort control not found on page")

	// ErrNoReviewsCaptured: the sort action never triggered an observable
	// reviews request, so there is no pagination baseline.
	ErrNoReviewsCaptured = errors.New("no reviews request captured")

	// ErrBrowserLaunch: the automation engine could not start.
	ErrBrowserLaunch = errors.New("browser launch failed")

	// ErrSyncInProgress: an owner asked for a run while one is pending/running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNotConfigured: the owner has no source URL saved yet.
	ErrNotConfigured = errors.New("source url not configured")
)

// FetchError is an upstream HTTP failure on a direct page fetch.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}
