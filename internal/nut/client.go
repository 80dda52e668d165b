package nut

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const logoutTimeout = time.Second

// Compile-time interface check.
var _ Session = (*Client)(nil)

// Client is a single upsd TCP session. Commands are serialised; it is safe
// for concurrent use but never pipelines.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

// Dial connects to upsd and performs the USERNAME/PASSWORD handshake for
// whichever credentials are non-empty.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("nut: host is required")
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}

	var d net.Dialer
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	conn, err := d.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("nut: dial %s: %w", cfg.Address(), err)
	}

	c := &Client{cfg: cfg, conn: conn, rd: bufio.NewReader(conn)}

	if cfg.Username != "" {
		if err := c.expectOK(ctx, "USERNAME "+quote(cfg.Username)); err != nil {
			_ = c.closeConn()
			return nil, fmt.Errorf("nut: username: %w", err)
		}
	}
	if cfg.Password != "" {
		if err := c.expectOK(ctx, "PASSWORD "+quote(cfg.Password)); err != nil {
			_ = c.closeConn()
			return nil, fmt.Errorf("nut: password: %w", err)
		}
	}

	return c, nil
}

// Version sends VER and returns the server banner.
func (c *Client) Version(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send(ctx, "VER"); err != nil {
		return "", err
	}
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	return line, nil
}

// ListVars sends LIST VAR <ups> and collects the VAR lines.
func (c *Client) ListVars(ctx context.Context, ups string) (map[string]string, error) {
	vars := make(map[string]string)
	err := c.list(ctx, "VAR "+ups, func(fields []string) error {
		// VAR <ups> <name> <value>
		if len(fields) < 4 || fields[0] != "VAR" {
			return fmt.Errorf("nut: malformed VAR line %q", strings.Join(fields, " "))
		}
		vars[fields[2]] = fields[3]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// ListUPS sends LIST UPS and returns name → description.
func (c *Client) ListUPS(ctx context.Context) (map[string]string, error) {
	units := make(map[string]string)
	err := c.list(ctx, "UPS", func(fields []string) error {
		// UPS <name> <description>
		if len(fields) < 2 || fields[0] != "UPS" {
			return fmt.Errorf("nut: malformed UPS line %q", strings.Join(fields, " "))
		}
		desc := ""
		if len(fields) > 2 {
			desc = fields[2]
		}
		units[fields[1]] = desc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// Close sends a best-effort LOGOUT and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if err := c.conn.SetDeadline(time.Now().Add(logoutTimeout)); err == nil {
		if _, err := c.conn.Write([]byte("LOGOUT\n")); err == nil {
			_, _ = c.rd.ReadString('\n')
		}
	}
	return c.closeConn()
}

// fail closes the socket and returns err. Later calls see ErrNotConnected.
func (c *Client) fail(err error) error {
	_ = c.closeConn()
	return err
}

func (c *Client) closeConn() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.rd = nil
	return err
}

// list runs a LIST <query> command, calling fn for every line between the
// BEGIN and END markers.
func (c *Client) list(ctx context.Context, query string, fn func([]string) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := "LIST " + query
	if err := c.send(ctx, cmd); err != nil {
		return err
	}

	begin, err := c.readLine()
	if err != nil {
		return err
	}
	if begin != "BEGIN "+cmd {
		return c.fail(fmt.Errorf("%w: got %q to %q", ErrOutOfSync, begin, cmd))
	}

	end := "END " + cmd
	var parseErr error
	for {
		line, err := c.readLine()
		if err != nil {
			if IsProtocol(err) || IsTransient(err) {
				// An ERR inside a list leaves the rest of the reply unframed.
				return c.fail(fmt.Errorf("%w: %v inside %q", ErrOutOfSync, err, cmd))
			}
			return err
		}
		if line == end {
			break
		}
		// Keep draining to END so the stream stays aligned.
		if parseErr == nil {
			parseErr = fn(splitFields(line))
		}
	}
	return parseErr
}

func (c *Client) expectOK(ctx context.Context, cmd string) error {
	if err := c.send(ctx, cmd); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		return fmt.Errorf("nut: unexpected response %q", line)
	}
	return nil
}

// send writes one command line. The caller must hold c.mu (or own c
// exclusively during Dial).
func (c *Client) send(ctx context.Context, cmd string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return c.fail(err)
	}
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return c.fail(err)
	}
	return nil
}

// readLine reads one response line and converts ERR responses to
// *ProtocolError. Any read error closes the client: a partial or late reply
// would otherwise be read as the answer to the next command.
func (c *Client) readLine() (string, error) {
	if c.rd == nil {
		return "", ErrNotConnected
	}
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return "", c.fail(err)
	}
	line = strings.TrimRight(line, "\r\n")

	if rest, ok := strings.CutPrefix(line, "ERR "); ok {
		code, detail, _ := strings.Cut(rest, " ")
		return "", &ProtocolError{Code: code, Detail: detail}
	}
	return line, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	var t time.Time
	if c.cfg.Timeout > 0 {
		t = time.Now().Add(c.cfg.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (t.IsZero() || d.Before(t)) {
		t = d
	}
	return t
}

// splitFields tokenises a response line, honouring double quotes with
// backslash escapes.
func splitFields(line string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		started bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
			started = true
		case r == ' ' && !inQuote:
			if started {
				fields = append(fields, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		fields = append(fields, cur.String())
	}
	return fields
}

func quote(s string) string {
	if !strings.ContainsAny(s, " \"\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
