package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that no amount of retrying will fix:
// exhausted credits, bad keys, billing problems.
var ErrFatalAPI = errors.New("fatal API error")

var fatalMarkers = []string{
	"credit balance",
	"insufficient credit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}

// Error classifies an analysis failure for the retry machinery.
type Error struct {
	Op        string
	Err       error
	Permanent bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *Error) Transient() bool { return !e.Permanent }

// classify wraps a provider error. Fatal API errors and context
// cancellation are passed through; everything else is retryable.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isFatalAPIError(err) {
		return &Error{Op: op, Err: wrapFatalError(err), Permanent: true}
	}
	return &Error{Op: op, Err: err}
}
