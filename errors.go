package xawala

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is wrapped by every error returned when an event cannot be
// converted into an incoming service message.
var ErrInvalidEvent = errors.New("xawala: invalid event")

var (
	ErrInvalidEventType    = fmt.Errorf("%w: invalid event type", ErrInvalidEvent)
	ErrMissingRecipient    = fmt.Errorf("%w: missing event subject", ErrInvalidEvent)
	ErrMissingExpiry       = fmt.Errorf("%w: missing event expiry", ErrInvalidEvent)
	ErrMissingContentType  = fmt.Errorf("%w: missing event data content type", ErrInvalidEvent)
	ErrMissingContent      = fmt.Errorf("%w: missing event data", ErrInvalidEvent)
	ErrMissingCreationDate = fmt.Errorf("%w: missing event time", ErrInvalidEvent)
	ErrInvalidExpiry       = fmt.Errorf("%w: malformed event expiry", ErrInvalidEvent)
)

var (
	ErrEndpointClosed              = errors.New("xawala: endpoint is closed")
	ErrNoTransportConfigured       = errors.New("xawala: no transport configured")
	ErrInvalidTopic                = errors.New("xawala: topic must not be empty")
	ErrInvalidSubscription         = errors.New("xawala: subscription requires topic, group and handler")
	ErrHandlerPanic                = errors.New("xawala: handler panicked")
	ErrObserverPoolShutdownTimeout = errors.New("xawala: observer pool shutdown timed out")
	ErrDefaultEndpointNotSet       = errors.New("xawala: default endpoint not initialized")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

type ErrUnknownCodec struct{ name string }

func (e ErrUnknownCodec) Error() string { return fmt.Sprintf("codec %q not registered", e.name) }

// permanentError marks a failure that redelivery cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that transports dead-letter or drop the message instead of redelivering it.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with Permanent.
// Conversion errors are always permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, ErrInvalidEvent)
}
