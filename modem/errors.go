package modem

import "errors"

var (
	// ErrNoDialer is returned by ConfigBuilder.Build and New when no Dialer
	// was set. The Dialer opens the Transport the modem chat runs on.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned by the operations of a Modem that was
	// not created with New, and therefore has no chat attached.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation on a closed Modem.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrInvalidResponse is returned when the modem answered, but with a
	// value that could not be parsed or that reports an unusable state.
	//
	// Examples are an unknown signal quality or an unsupported SIM state.
	ErrInvalidResponse = errors.New("invalid modem response")

	// ErrInvalidArgument is returned when a recipient, message text or
	// storage index cannot be sent to the modem.
	ErrInvalidArgument = errors.New("invalid argument")
)
