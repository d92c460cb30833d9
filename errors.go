package surrogate

import (
	"errors"
	"fmt"
)

//////
// Error taxonomy.
//////

// Sentinel errors for the failure classes surfaced by this package. Concrete
// errors wrap one of these, so callers discriminate with errors.Is and recover
// detail with errors.As.
var (
	// ErrDataRequired reports an operation invoked without the data it needs,
	// such as fitting on an empty dataset list.
	ErrDataRequired = errors.New("data required")

	// ErrNotFitted reports access to fitted state before Fit has been called.
	ErrNotFitted = errors.New("not fitted")

	// ErrUnsupported reports a configuration the implementation cannot serve.
	ErrUnsupported = errors.New("unsupported")

	// ErrNotImplemented reports functionality this optimizer variant does not
	// provide, such as multi-fidelity generation.
	ErrNotImplemented = errors.New("not implemented")
)

// NotFittedError reports a read of fitted state on an optimizer that has not
// been fitted yet. What names the accessor that failed.
type NotFittedError struct {
	What string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("`%s` is not initialized. Please fit the model first.", e.What)
}

// Unwrap links the error to ErrNotFitted.
func (e *NotFittedError) Unwrap() error { return ErrNotFitted }

// SamplerLimitError reports that the quasi-Monte-Carlo sampler was asked for
// more dimensions than it supports. It is the one recoverable failure in
// acquisition optimization: generation catches it and retries once with
// independent sampling.
//
// It unwraps to ErrUnsupported so generic handling treats it as an unsupported
// configuration, while the retry path matches it structurally with errors.As
// instead of inspecting message text.
type SamplerLimitError struct {
	Dim int
	Max int
}

func (e *SamplerLimitError) Error() string {
	return fmt.Sprintf("qmc sampler only supports dimensions up to %d, got %d", e.Max, e.Dim)
}

// Unwrap links the error to ErrUnsupported.
func (e *SamplerLimitError) Unwrap() error { return ErrUnsupported }
