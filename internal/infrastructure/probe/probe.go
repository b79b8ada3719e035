// Package probe checks whether an export endpoint accepts TCP connections
// before a network sink is activated.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout bounds a probe when the caller passes none.
const DefaultTimeout = 2 * time.Second

// ErrInvalidEndpoint is returned for endpoints that are not host:port.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Result describes one probe attempt. The result is advisory: a failed
// probe degrades export, it never stops the host.
type Result struct {
	Endpoint  string        `json:"endpoint"`
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Err       error         `json:"-"`
}

// Error returns the failure text, or "" when reachable.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Check dials endpoint over TCP within timeout and closes the connection
// immediately.
func Check(ctx context.Context, endpoint string, timeout time.Duration) Result {
	res := Result{Endpoint: endpoint, CheckedAt: time.Now()}

	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		res.Err = fmt.Errorf("%w %q: %v", ErrInvalidEndpoint, endpoint, err)
		return res
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	res.Latency = time.Since(res.CheckedAt)
	if err != nil {
		res.Err = fmt.Errorf("dial %s: %w", endpoint, err)
		return res
	}
	_ = conn.Close()

	res.Reachable = true
	return res
}
