// Package errors classifies the failures the exporter can run into.
//
// Three classes drive handling decisions:
//
//   - Transient: the upstream feed dropped, a dial timed out. The transport
//     reconnects; nothing is surfaced beyond a log line.
//   - Invalid: a status message failed validation or named an unknown
//     category. The message is dropped and the bridge keeps going.
//   - Fatal: missing configuration, a port that cannot be bound, rejected
//     credentials on the first login. The process exits non-zero.
//
// Every wrapper produces messages of the form
//
//	"Component.Method: action failed: <cause>"
//
// so log lines from the router, the transports and startup read the same way:
//
//	return errors.WrapInvalid(err, "Router", "Dispatch", "validate ingester message")
//
// Classification survives wrapping, and errors.Is / errors.As work through the
// chain, so callers can test for the sentinels (ErrMissingField,
// ErrUnknownCategory, ErrLoginFailed, ...) as well as the class.
package errors
