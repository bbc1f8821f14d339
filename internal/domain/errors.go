package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job row cannot be found
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when another worker holds a live lease on the job
	ErrJobAlreadyClaimed = errors.New("job already claimed")

	// ErrJobTerminal is returned when a job is already done or failed
	ErrJobTerminal = errors.New("job already in terminal state")

	// ErrInvalidPayload is returned when a queue message cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrIllegalTransition is returned when a status change is not in the transition table
	ErrIllegalTransition = errors.New("illegal status transition")

	ErrTranscriptNotFound = errors.New("transcript not found")
	ErrStockNotFound      = errors.New("stock not found")
	ErrAnalysisNotFound   = errors.New("analysis not found")
	ErrGroupNotFound      = errors.New("group not found")
	ErrScheduleNotFound   = errors.New("schedule entry not found")
)

// MaxErrorLength bounds error text persisted on job rows
const MaxErrorLength = 500

// RetryableError wraps transient errors that should be retried with backoff
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// NonRetryableError marks a failed domain precondition. The job goes
// straight to error without scheduling another attempt.
type NonRetryableError struct {
	Reason string
}

func (e *NonRetryableError) Error() string {
	return e.Reason
}

// NonRetryable creates a NonRetryableError with the given reason
func NonRetryable(reason string) error {
	return &NonRetryableError{Reason: reason}
}

// IsRetryable classifies err. Unknown errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}
	if errors.Is(err, ErrInvalidPayload) {
		return false
	}
	return true
}

// TruncateError shortens msg to MaxErrorLength bytes on a rune boundary
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	cut := MaxErrorLength
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
