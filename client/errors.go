package client

import "errors"

type ErrorKind string

const (
	KindConfiguration  ErrorKind = "CONFIGURATION_ERROR"
	KindConnection     ErrorKind = "CONNECTION_ERROR"
	KindProtocol       ErrorKind = "PROTOCOL_ERROR"
	KindConfigDownload ErrorKind = "CONFIG_DOWNLOAD_ERROR"
	KindHub            ErrorKind = "HUB_ERROR"
)

var (
	ErrConfiguration  = errors.New("cloudhw: configuration error")
	ErrConnection     = errors.New("cloudhw: connection error")
	ErrProtocol       = errors.New("cloudhw: protocol error")
	ErrConfigDownload = errors.New("cloudhw: configuration download error")
	ErrHub            = errors.New("cloudhw: hub error")

	ErrClosed = errors.New("cloudhw: client closed")
)

// Error is what every handler-reported failure looks like. Message is the
// user-facing text; Cause carries the underlying error, if any.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels so callers can write errors.Is(err, ErrProtocol).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrConfigDownload:
		return e.Kind == KindConfigDownload
	case ErrHub:
		return e.Kind == KindHub
	}
	return false
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

const (
	msgControllerNotSet   = "ControllerName not set."
	msgErrorConnecting    = "Error connecting."
	msgNoResult           = "No Result returned from remote hardware."
	msgConfigDownloadFail = "Unable to download configuration."
	msgInvalidFrame       = "Invalid frame received from hub."
	msgConnectionLost     = "Connection to hub lost."
	msgSendFailed         = "Unable to send command to hub."
)

// HubError is reported by a Transport for errors raised by the hub itself
// (as opposed to the connection failing). It does not end the session.
type HubError struct {
	Message string
}

func (e *HubError) Error() string {
	return "hub: " + e.Message
}
