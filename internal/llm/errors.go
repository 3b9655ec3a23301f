package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that retrying will not fix: dead
// credentials, billing problems, rejected requests.
var ErrFatalAPI = errors.New("fatal API error")

// fatalPatterns are substrings of provider error messages that signal a
// non-retryable condition. Rate limits are deliberately absent: they clear
// on their own, and the caller's backoff handles them.
var fatalPatterns = []string{
	"credit balance",
	"quota exceeded",
	"billing",
	"invalid api key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError reports whether an error reads like a non-retryable
// provider failure.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI and passes
// everything else through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
