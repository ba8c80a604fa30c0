package rmi

import "fmt"

// The error taxonomy of spec.md §7, each wrapping an underlying cause and
// implementing Unwrap so callers can use errors.As/errors.Is. Go has no
// checked exceptions, so there is no "unchecked wrapper" distinction here:
// failures reported by the peer, and transport failures left after
// reconnection (or, if a RemoteErrorFactory is configured, whatever it
// returns instead), surface as these concrete types. Local failures to
// encode an argument or decode a result, and a missing dialer, are returned
// as the underlying error.

// TransportError reports a dial, handshake or connection failure, or a
// routing failure passed back by an intermediate registry.
type TransportError struct{ Cause error }

func (e *TransportError) Error() string { return fmt.Sprintf("rmi: transport: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// RemoteError is the default "remote exception" surfaced to a stub caller
// after reconnection is exhausted (spec §4.4 step 5, §7). A
// RemoteErrorFactory may replace this globally (the Go substitute for
// "user-supplied exception class replaces RemoteException").
type RemoteError struct{ Cause error }

func (e *RemoteError) Error() string { return fmt.Sprintf("rmi: remote call failed: %v", e.Cause) }
func (e *RemoteError) Unwrap() error { return e.Cause }

// LocalAuthError reports that this process rejected the peer's handshake
// credentials.
type LocalAuthError struct{ Cause error }

func (e *LocalAuthError) Error() string { return fmt.Sprintf("rmi: local authentication failed: %v", e.Cause) }
func (e *LocalAuthError) Unwrap() error { return e.Cause }

// RemoteAuthError reports that the peer rejected this process's handshake
// credentials.
type RemoteAuthError struct{ Cause error }

func (e *RemoteAuthError) Error() string {
	return fmt.Sprintf("rmi: peer rejected our credentials: %v", e.Cause)
}
func (e *RemoteAuthError) Unwrap() error { return e.Cause }

// AuthorizationError reports a per-invocation rejection by the
// Authenticator's Authorize method.
type AuthorizationError struct{ Cause error }

func (e *AuthorizationError) Error() string { return fmt.Sprintf("rmi: not authorized: %v", e.Cause) }
func (e *AuthorizationError) Unwrap() error { return e.Cause }

// NoSuchMethodError reports a dispatch-time failure to resolve the target
// method by name.
type NoSuchMethodError struct{ Cause error }

func (e *NoSuchMethodError) Error() string { return fmt.Sprintf("rmi: no such method: %v", e.Cause) }
func (e *NoSuchMethodError) Unwrap() error { return e.Cause }

// IllegalArgumentError reports a dispatch-time arity or decode failure.
type IllegalArgumentError struct{ Cause error }

func (e *IllegalArgumentError) Error() string {
	return fmt.Sprintf("rmi: illegal argument: %v", e.Cause)
}
func (e *IllegalArgumentError) Unwrap() error { return e.Cause }

// AccessError reports a call to an unexported (private) method.
type AccessError struct{ Cause error }

func (e *AccessError) Error() string { return fmt.Sprintf("rmi: access denied: %v", e.Cause) }
func (e *AccessError) Unwrap() error { return e.Cause }

// TargetError unwraps the callee's own panic/error (spec's TargetThrown).
type TargetError struct{ Cause error }

func (e *TargetError) Error() string { return fmt.Sprintf("rmi: target threw: %v", e.Cause) }
func (e *TargetError) Unwrap() error { return e.Cause }

// NotSerializableError reports that an argument or return value could not
// be encoded by the codec.
type NotSerializableError struct{ Cause error }

func (e *NotSerializableError) Error() string {
	return fmt.Sprintf("rmi: not serializable: %v", e.Cause)
}
func (e *NotSerializableError) Unwrap() error { return e.Cause }

// DisposedError reports that the connection was disposed while the call
// was in flight or pending.
type DisposedError struct{ Cause error }

func (e *DisposedError) Error() string { return fmt.Sprintf("rmi: connection disposed: %v", e.Cause) }
func (e *DisposedError) Unwrap() error { return e.Cause }

// classify turns a wire-level error class tag (internal/wire.ErrorDescriptor.Class)
// into the matching concrete error type, wrapping a plain error carrying the
// message.
func classify(class, message string) error {
	cause := fmt.Errorf("%s", message)
	switch class {
	case "NoSuchMethod":
		return &NoSuchMethodError{Cause: cause}
	case "IllegalArgument":
		return &IllegalArgumentError{Cause: cause}
	case "Access":
		return &AccessError{Cause: cause}
	case "AuthorizationError":
		return &AuthorizationError{Cause: cause}
	case "TransportError":
		return &TransportError{Cause: cause}
	case "DisposedError":
		return &DisposedError{Cause: cause}
	case "TargetError":
		return &TargetError{Cause: cause}
	default:
		return &TargetError{Cause: cause}
	}
}
