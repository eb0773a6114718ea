// Package failure defines the error kinds shared by every pipeline stage.
//
// A component returns its own sentinel wrapped in one of the kinds below, so
// callers can match either the precise cause (errors.Is(err, frames.ErrNoUsableFrames))
// or the category (errors.Is(err, failure.ErrNoEvidence)).
package failure

import (
	"errors"
	"strings"
)

// Error kinds.
var (
	// ErrInvalidInput marks caller-input problems rejected before any state changes.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoEvidence marks user-correctable modality problems, e.g. no sharp frames.
	ErrNoEvidence = errors.New("no usable evidence")
	// ErrUnavailable marks service configuration problems such as a model that
	// cannot be loaded or a missing credential.
	ErrUnavailable = errors.New("service unavailable")
	// ErrUpstream marks third-party service failures (text generation).
	ErrUpstream = errors.New("upstream service failure")
	// ErrTimeout marks an explicit deadline expiring on a blocking call.
	ErrTimeout = errors.New("timeout")
	// ErrInternal marks unexpected faults.
	ErrInternal = errors.New("internal fault")
)

var kinds = []error{ErrInvalidInput, ErrNoEvidence, ErrUnavailable, ErrUpstream, ErrTimeout, ErrInternal}

// Error carries the failing operation, its kind and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	default:
		b.WriteString("unknown error")
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// WrapKind wraps err with an operation name and kind. A nil err yields nil.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewKind returns an error that only carries an operation name and kind.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// KindOf reports the first kind found in err's chain, or ErrInternal when the
// error carries none. A nil error has no kind.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// Is reports whether err belongs to kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

var labels = map[error]string{
	ErrInvalidInput: "invalid_input",
	ErrNoEvidence:   "no_evidence",
	ErrUnavailable:  "unavailable",
	ErrUpstream:     "upstream",
	ErrTimeout:      "timeout",
	ErrInternal:     "internal",
}

// Label returns a short snake_case name for err's kind, used as a metric
// label and as the error code in HTTP responses. A nil error is "ok".
func Label(err error) string {
	if err == nil {
		return "ok"
	}
	return labels[KindOf(err)]
}
