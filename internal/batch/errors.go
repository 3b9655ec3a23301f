package batch

import (
	"errors"
	"fmt"
)

// ErrFatal marks service errors retrying cannot fix, like dead credentials
// or rejected payloads. Service implementations wrap these so the submitter
// and monitor stop burning attempts on them.
var ErrFatal = errors.New("fatal service error")

// SubmissionError wraps the last transport error after every submission
// attempt for a shard was spent. The shard's job is already registered as
// failed when callers see this.
type SubmissionError struct {
	ShardID  string
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting %s failed after %d attempts: %v", e.ShardID, e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
