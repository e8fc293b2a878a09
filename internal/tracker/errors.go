package tracker

import (
	"errors"
	"fmt"
)

// Error codes for categorizing tracker errors.
const (
	ErrCodeAuthentication = "AUTH_ERROR"
	ErrCodeSearch         = "SEARCH_ERROR"
	ErrCodeDownload       = "DOWNLOAD_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_ERROR"
	ErrCodeNetwork        = "NETWORK_ERROR"
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeNotFound       = "NOT_FOUND_ERROR"
	ErrCodeWedge          = "WEDGE_ERROR"
)

// Error is a categorized tracker API error.
type Error struct {
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Common error instances for comparison with errors.Is.
var (
	ErrAuthentication = &Error{Code: ErrCodeAuthentication, Message: "authentication failed"}
	ErrSearch         = &Error{Code: ErrCodeSearch, Message: "search failed"}
	ErrDownload       = &Error{Code: ErrCodeDownload, Message: "download failed"}
	ErrRateLimit      = &Error{Code: ErrCodeRateLimit, Message: "rate limit exceeded"}
	ErrNetwork        = &Error{Code: ErrCodeNetwork, Message: "network error"}
	ErrParse          = &Error{Code: ErrCodeParse, Message: "parse error"}
	ErrWedge          = &Error{Code: ErrCodeWedge, Message: "wedge purchase failed"}
	// ErrTorrentNotFound means the torrent no longer exists on the tracker.
	ErrTorrentNotFound = &Error{Code: ErrCodeNotFound, Message: "torrent not found"}
)

// ErrUnknownMediaType is returned by ToMeta for candidates outside the
// known main categories. Callers skip such candidates.
var ErrUnknownMediaType = errors.New("unknown media type")

func newError(code, message string, retryable bool, cause error) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable, Cause: cause}
}

// IsRetryable returns whether the error is retryable.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
