// Package nut implements the client side of the Network UPS Tools (upsd)
// line protocol.
package nut

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultPort is the IANA-registered upsd port.
const DefaultPort = 3493

// DefaultTimeout bounds each command round-trip unless configured otherwise.
const DefaultTimeout = 5 * time.Second

// Config holds the connection parameters for a single upsd session.
// An empty Username or Password is omitted from the handshake entirely.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Timeout bounds every command round-trip. Zero disables the deadline.
	Timeout time.Duration
}

// Address returns the host:port dial address.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Session is a live upsd session.
type Session interface {
	// Version is the cheap liveness probe (VER).
	Version(ctx context.Context) (string, error)
	// ListVars returns every variable of the named UPS unit.
	ListVars(ctx context.Context, ups string) (map[string]string, error)
	// ListUPS returns the units known to the server, keyed by name with the
	// description as value.
	ListUPS(ctx context.Context) (map[string]string, error)
	Close() error
}
