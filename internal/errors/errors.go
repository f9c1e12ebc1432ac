package errors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by a poll run.
var (
	// ErrIO indicates a watermark read or write failed.
	ErrIO = errors.New("io error")

	// ErrAuth indicates the feed rejected the supplied credentials.
	ErrAuth = errors.New("authentication rejected")

	// ErrTransport indicates the request never produced a usable response.
	ErrTransport = errors.New("transport error")

	// ErrProtocol indicates the response could not be understood.
	ErrProtocol = errors.New("protocol error")

	// ErrExtraction indicates the response lacked the expected shape.
	ErrExtraction = errors.New("extraction error")
)

// Error pairs a kind with the operation that failed and its cause.
type Error struct {
	Kind  error
	Op    string
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Cause != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	case e.Op != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Op)
	default:
		return fmt.Sprintf("%v", e.Kind)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func newKind(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: err}
}

// NewIO wraps err as a persistence failure.
func NewIO(op string, err error) error { return newKind(ErrIO, op, err) }

// NewIOf creates a persistence failure with formatting.
func NewIOf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrIO, Op: op, Cause: fmt.Errorf(format, args...)}
}

// NewAuth wraps err as a credential rejection.
func NewAuth(op string, err error) error { return newKind(ErrAuth, op, err) }

// NewAuthf creates a credential rejection with formatting.
func NewAuthf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrAuth, Op: op, Cause: fmt.Errorf(format, args...)}
}

// NewTransport wraps err as a network failure.
func NewTransport(op string, err error) error { return newKind(ErrTransport, op, err) }

// NewTransportf creates a network failure with formatting.
func NewTransportf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrTransport, Op: op, Cause: fmt.Errorf(format, args...)}
}

// NewProtocol wraps err as an unparseable response.
func NewProtocol(op string, err error) error { return newKind(ErrProtocol, op, err) }

// NewProtocolf creates an unparseable response error with formatting.
func NewProtocolf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrProtocol, Op: op, Cause: fmt.Errorf(format, args...)}
}

// NewExtraction wraps err as a malformed response shape.
func NewExtraction(op string, err error) error { return newKind(ErrExtraction, op, err) }

// NewExtractionf creates a malformed response error with formatting.
func NewExtractionf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrExtraction, Op: op, Cause: fmt.Errorf(format, args...)}
}

// IsIO reports whether err is a persistence failure.
func IsIO(err error) bool { return errors.Is(err, ErrIO) }

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsTransport reports whether err is a network failure.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsProtocol reports whether err is an unparseable response.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }

// IsExtraction reports whether err is a malformed response shape.
func IsExtraction(err error) bool { return errors.Is(err, ErrExtraction) }

// StageError records which orchestrator stage terminated a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AtStage wraps err with the stage name. A nil err stays nil.
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage that produced err, or "" when err carries none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Kind returns the short name of the error kind, used as a metrics label.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsIO(err):
		return "io"
	case IsAuth(err):
		return "auth"
	case IsTransport(err):
		return "transport"
	case IsProtocol(err):
		return "protocol"
	case IsExtraction(err):
		return "extraction"
	default:
		return "other"
	}
}
