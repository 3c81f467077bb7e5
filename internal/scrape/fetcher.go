package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/reviewradar/reviewradar/internal/session"
)

// ErrorKind classifies a fetch failure for the retry policy.
type ErrorKind int

const (
	// KindTransient failures (timeouts, rate limits, upstream hiccups)
	// may succeed on retry.
	KindTransient ErrorKind = iota

	// KindPermanent failures (item gone, malformed page) will not.
	KindPermanent
)

// FetchError wraps a collaborator failure with its classification.
type FetchError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether retrying may help. The pipeline dispatches on
// this via errors.As.
func (e *FetchError) Transient() bool { return e.Kind == KindTransient }

func transientErr(op string, err error) error {
	return &FetchError{Kind: KindTransient, Op: op, Err: err}
}

func permanentErr(op string, err error) error {
	return &FetchError{Kind: KindPermanent, Op: op, Err: err}
}

// ErrItemNotFound marks a product identifier the storefront does not know.
var ErrItemNotFound = errors.New("item not found")

// Fetcher navigates to an item and extracts its content using the shared
// session. NavigateFallback is the alternate access path tried exactly
// once after the primary path's retry budget is exhausted.
type Fetcher interface {
	Navigate(ctx context.Context, s *session.Session, itemID string) (*Page, error)
	NavigateFallback(ctx context.Context, s *session.Session, itemID string) (*Page, error)
	Extract(ctx context.Context, s *session.Session, page *Page, maxReviews int) (*RawContent, error)
}
