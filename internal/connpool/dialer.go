package connpool

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// TCPDialFunc dials addr over TCP. When fromEnvironment is set the
// connection goes through the proxy named by the ALL_PROXY and NO_PROXY
// environment variables, if any.
func TCPDialFunc(timeout time.Duration, fromEnvironment bool) DialFunc {
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if !fromEnvironment {
		return func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	pd := proxy.FromEnvironmentUsing(d)
	return func(ctx context.Context, addr string) (net.Conn, error) {
		if cd, ok := pd.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", addr)
		}
		return pd.Dial("tcp", addr)
	}
}

// DialError is returned by Acquire when a new connection could not be
// opened. The caller treats the address as unreachable.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return "dial " + e.Addr + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error { return e.Err }
