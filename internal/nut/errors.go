package nut

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Protocol error codes returned by upsd after "ERR ".
const (
	CodeDataStale          = "DATA-STALE"
	CodeDriverNotConnected = "DRIVER-NOT-CONNECTED"
	CodeUnknownUPS         = "UNKNOWN-UPS"
	CodeAccessDenied       = "ACCESS-DENIED"
	CodeUnknownCommand     = "UNKNOWN-COMMAND"
)

// ErrNotConnected is returned when a command is issued on a closed client.
var ErrNotConnected = errors.New("nut: not connected")

// ErrOutOfSync is returned when a reply does not belong to the command that
// was sent. The client is closed when it is returned.
var ErrOutOfSync = errors.New("nut: response out of sync")

// Sentinels usable with errors.Is against any *ProtocolError of the same code.
var (
	ErrDataStale          = &ProtocolError{Code: CodeDataStale}
	ErrDriverNotConnected = &ProtocolError{Code: CodeDriverNotConnected}
)

// ProtocolError is an "ERR <CODE> [detail]" response from upsd.
type ProtocolError struct {
	Code   string
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "ERR " + e.Code
	}
	return "ERR " + e.Code + " " + e.Detail
}

// Is matches any ProtocolError carrying the same code.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Code == e.Code
}

// Category tells the caller how to react to an error.
type Category int

const (
	// CategoryUnknown is anything we cannot place.
	CategoryUnknown Category = iota
	// CategoryTransient means the server is up but has no fresh data; retry
	// on the next cycle over the same connection.
	CategoryTransient
	// CategoryBroken means the session is unusable and must be replaced.
	CategoryBroken
	// CategoryProtocol is any other ERR response; the connection is fine.
	CategoryProtocol
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryBroken:
		return "broken"
	case CategoryProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Categorize classifies err for the reconnect logic.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		if pe.Code == CodeDataStale || pe.Code == CodeDriverNotConnected {
			return CategoryTransient
		}
		return CategoryProtocol
	}

	switch {
	case errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrOutOfSync),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED):
		return CategoryBroken
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return CategoryBroken
	}

	return CategoryUnknown
}

// IsTransient reports whether err is a temporary "no data" condition.
func IsTransient(err error) bool { return Categorize(err) == CategoryTransient }

// IsBroken reports whether err means the session must be discarded.
func IsBroken(err error) bool { return Categorize(err) == CategoryBroken }

// IsProtocol reports whether err is a non-transient ERR response.
func IsProtocol(err error) bool { return Categorize(err) == CategoryProtocol }
