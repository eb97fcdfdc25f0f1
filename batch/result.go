package batch

import (
	"fmt"
	"time"
)

// Success is one generated image with its accompanying text. Successes are
// ordered by original request index.
type Success struct {
	Image    []byte
	MIMEType string
	Text     string
}

// Failure records a failed unit by its original request index. Index -1 marks
// a failure not attributable to a single unit.
type Failure struct {
	Index   int
	Message string
}

// Result aggregates the outcome of one batch run. It is built inside
// Processor.Run and never mutated after being returned to the caller.
//
// SuccessCount()+FailureCount() is at most the requested batch size; it can
// fall short only when the run was cancelled.
type Result struct {
	Successes []Success
	Failures  []Failure

	// Elapsed is the wall-clock duration of the whole batch.
	Elapsed time.Duration
}

// AddSuccess appends one generated image and its text.
func (r *Result) AddSuccess(image []byte, mimeType, text string) {
	r.Successes = append(r.Successes, Success{
		Image:    image,
		MIMEType: mimeType,
		Text:     text,
	})
}

// AddFailure appends one failed unit.
func (r *Result) AddFailure(index int, message string) {
	r.Failures = append(r.Failures, Failure{
		Index:   index,
		Message: message,
	})
}

// SuccessCount returns the number of successful units.
func (r *Result) SuccessCount() int {
	return len(r.Successes)
}

// FailureCount returns the number of failed units.
func (r *Result) FailureCount() int {
	return len(r.Failures)
}

// Summary returns a human-readable one-line digest of the run.
func (r *Result) Summary() string {
	total := r.SuccessCount() + r.FailureCount()
	return fmt.Sprintf("succeeded: %d/%d, elapsed: %.1f seconds",
		r.SuccessCount(), total, r.Elapsed.Seconds())
}
