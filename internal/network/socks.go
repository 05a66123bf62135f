// Package network holds the dialers used by the remote event sinks.
package network

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/proxy"
)

// NewSOCKS5Dialer creates a SOCKS5 proxy dialer.
func NewSOCKS5Dialer(host string, port int) (proxy.Dialer, error) {
	if host == "" {
		return nil, fmt.Errorf("SOCKS5 proxy host is empty")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid SOCKS5 proxy port %d", port)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for %s: %w", addr, err)
	}
	return dialer, nil
}

// ContextDialerFunc returns a context-aware dial function that goes through
// the SOCKS5 proxy at host:port. An empty host returns nil, which callers
// treat as a direct connection.
func ContextDialerFunc(host string, port int) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if host == "" {
		return nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer, err := NewSOCKS5Dialer(host, port)
		if err != nil {
			return nil, err
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}
}
