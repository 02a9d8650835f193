package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocationFailure is returned by StartParse when no parser could be
	// created for the configured content type. The session state is left
	// untouched.
	ErrAllocationFailure = errors.New("session: allocation failure")

	// ErrParsingFailure matches any *ParsingFailure via errors.Is.
	ErrParsingFailure = errors.New("session: parsing failure")

	// ErrValueNotAvailable is returned by a query for data the parse never
	// produced, such as the duration of a container that failed to parse.
	ErrValueNotAvailable = errors.New("session: value not available")

	// ErrTimeout is returned by a query whose wait exceeded the configured
	// or caller-supplied deadline.
	ErrTimeout = errors.New("session: timed out waiting for parse outcome")

	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session: closed")
)

// ParsingFailure is the outcome recorded when the parser reports a non-zero
// error code. Every blocked and future query of that generation returns it.
type ParsingFailure struct {
	Code uint64
}

func (e *ParsingFailure) Error() string {
	return fmt.Sprintf("session: parsing failure (code %d)", e.Code)
}

// Is reports whether target is ErrParsingFailure.
func (e *ParsingFailure) Is(target error) bool {
	return target == ErrParsingFailure
}
