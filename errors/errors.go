package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass decides how a failure is handled.
type ErrorClass int

const (
	// ErrorTransient failures are retried or waited out.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid failures drop one message or reject one value.
	ErrorInvalid
	// ErrorFatal failures stop the process.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Upstream feed
var (
	ErrNoConnection    = errors.New("no connection available")
	ErrConnectionLost  = errors.New("connection lost")
	ErrLoginFailed     = errors.New("login rejected")
	ErrHandshakeFailed = errors.New("handshake failed")
)

// Status messages
var (
	ErrInvalidData     = errors.New("invalid data format")
	ErrParsingFailed   = errors.New("parsing failed")
	ErrMissingField    = errors.New("missing required field")
	ErrUnknownCategory = errors.New("unknown message category")
	ErrHandlerPanic    = errors.New("handler panicked")
)

// Configuration and startup
var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingConfig   = errors.New("missing required configuration")
	ErrDuplicateMetric = errors.New("metric already defined")
)

// sentinelClasses gives the class of an unwrapped sentinel. Wrapping with
// one of the Wrap* helpers overrides it.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrNoConnection, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrHandshakeFailed, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
	{ErrMissingField, ErrorInvalid},
	{ErrUnknownCategory, ErrorInvalid},
	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrLoginFailed, ErrorFatal},
	{ErrDuplicateMetric, ErrorFatal},
}

// Lower-cased fragments of errors from net, io and the websocket and NATS
// libraries, which arrive unwrapped.
var messageClasses = []struct {
	fragment string
	class    ErrorClass
}{
	{"address already in use", ErrorFatal},
	{"timeout", ErrorTransient},
	{"connection reset", ErrorTransient},
	{"connection refused", ErrorTransient},
	{"broken pipe", ErrorTransient},
	{"eof", ErrorTransient},
	{"network", ErrorTransient},
}

// ClassifiedError carries a class and the place the failure was wrapped.
type ClassifiedError struct {
	Class     ErrorClass
	Component string
	Method    string
	Action    string
	Err       error
}

func (ce *ClassifiedError) Error() string {
	if ce.Component == "" {
		return ce.Err.Error()
	}
	return fmt.Sprintf("%s.%s: %s failed: %v", ce.Component, ce.Method, ce.Action, ce.Err)
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf returns the class of err and whether anything in its chain or
// message identified one. The outermost ClassifiedError wins.
func classOf(err error) (ErrorClass, bool) {
	if err == nil {
		return ErrorTransient, false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range messageClasses {
		if strings.Contains(msg, m.fragment) {
			return m.class, true
		}
	}
	return ErrorTransient, false
}

// Classify returns the class of err. Errors nothing recognises are transient.
func Classify(err error) ErrorClass {
	class, _ := classOf(err)
	return class
}

// IsTransient reports whether err is known to be transient
func IsTransient(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorTransient
}

// IsInvalid reports whether err is known to be invalid input
func IsInvalid(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorInvalid
}

// IsFatal reports whether err is known to be fatal
func IsFatal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorFatal
}

// Wrap adds "Component.Method: action failed" context without classifying.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Component: component,
		Method:    method,
		Action:    action,
		Err:       err,
	}
}

// WrapTransient wraps err as transient
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps err as invalid
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// WrapFatal wraps err as fatal
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// Is, As, New and Join mirror the standard library so callers need only one
// errors import.

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

func Join(errs ...error) error { return errors.Join(errs...) }
