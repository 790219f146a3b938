package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/gorilla/websocket"
)

// dialer returns the WebSocket dialer for one attempt. Its network hooks
// run on the session goroutine and move the session through Resolving,
// Connecting and SecureHandshaking before the upgrade request is written.
func (s *Session) dialer() *websocket.Dialer {
	d := &websocket.Dialer{
		NetDialContext:    s.dialPlain,
		NetDialTLSContext: s.dialTLS,
		HandshakeTimeout:  s.config.HandshakeTimeout,
	}
	if s.config.Subprotocol != "" {
		d.Subprotocols = []string{s.config.Subprotocol}
	}
	return d
}

// dialPlain opens the TCP connection of a ws:// endpoint.
func (s *Session) dialPlain(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := s.dialTCP(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	s.enter(ctx, StateProtocolHandshaking)
	return conn, nil
}

// dialTLS opens the TCP connection of a wss:// endpoint and completes the
// TLS handshake with SNI set to the endpoint host.
func (s *Session) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := s.dialTCP(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	s.enter(ctx, StateSecureHandshaking)
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.Client(conn, s.config.tlsConfig(host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	s.enter(ctx, StateProtocolHandshaking)
	return tlsConn, nil
}

// dialTCP resolves the host and connects to the first address that accepts.
func (s *Session) dialTCP(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	s.enter(ctx, StateResolving)
	addrs, err := s.config.resolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	s.logger.Debug("resolved", "host", host, "addrs", addrs)

	s.enter(ctx, StateConnecting)
	var d net.Dialer
	var errs []error
	for _, a := range addrs {
		conn, err := d.DialContext(ctx, network, net.JoinHostPort(a, port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
