package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions.
var (
	ErrAttemptTimeout  = errors.New("request timeout")
	ErrInvalidResponse = errors.New("invalid response from backend")
	ErrEmptyResponse   = errors.New("empty response from backend")
)

// AttemptError describes a single failed attempt.
type AttemptError struct {
	Attempt    int
	StatusCode int // 0 when no HTTP response was received
	Body       string
	Err        error
}

func (e *AttemptError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("attempt %d: backend returned status %d: %s", e.Attempt, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// Failure is returned by Ask once every attempt has failed.
type Failure struct {
	Attempts  int
	LastCause error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("backend failed after %d attempts: %v", e.Attempts, e.LastCause)
}

func (e *Failure) Unwrap() error {
	return e.LastCause
}

// Kind is the user-facing category of a failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindSaturated   Kind = "saturated"
	KindUnavailable Kind = "unavailable"
	KindUnknown     Kind = "unknown"
)

var kindKeywords = []struct {
	kind     Kind
	keywords []string
}{
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindSaturated, []string{"status 429", "rate limit", "ratelimit", "too many requests", "overloaded", "saturated", "capacity"}},
	{KindUnavailable, []string{"status 5", "unavailable", "connection refused", "connection reset", "no such host", "eof"}},
}

// Classify maps an error to a Kind by matching its text. It is a best-effort
// heuristic and the first matching category wins.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, k := range kindKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(msg, kw) {
				return k.kind
			}
		}
	}
	return KindUnknown
}
