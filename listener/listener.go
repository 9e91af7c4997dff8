// Package listener provides the net.Listener wrappers used by the malja proxy:
// a listener that serves plain and TLS clients on the same port and a listener
// that survives recoverable accept errors.
package listener

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// DefaultTimeout bounds the initial peek and the TLS handshake of a new connection
const DefaultTimeout = 10 * time.Second

// peekedConn serves reads from the buffered reader so the peeked bytes are not lost
type peekedConn struct {
	net.Conn
	io.Reader
}

func (c *peekedConn) Read(b []byte) (int, error) {
	return c.Reader.Read(b)
}

// ProtocolMuxListener wraps net.Listener and inspects the first bytes of every connection.
// Connections that start with a TLS handshake record are terminated with TLSConfig
type ProtocolMuxListener struct {
	net.Listener
	TLSConfig *tls.Config
	Timeout   time.Duration
}

func NewProtocolMuxListener(listener net.Listener, tlsConfig *tls.Config) *ProtocolMuxListener {
	return &ProtocolMuxListener{
		Listener:  listener,
		TLSConfig: tlsConfig,
		Timeout:   DefaultTimeout,
	}
}

func (l *ProtocolMuxListener) timeout() time.Duration {
	if l.Timeout <= 0 {
		return DefaultTimeout
	}
	return l.Timeout
}

func (l *ProtocolMuxListener) Accept() (net.Conn, error) {
	raw, err := l.Listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting connection : %w", err)
	}

	reader := bufio.NewReader(raw)
	header, err := l.peek(raw, reader)
	if err != nil {
		raw.Close()
		return nil, err
	}

	conn := &peekedConn{Conn: raw, Reader: reader}
	if !isTLSRecord(header) || l.TLSConfig == nil {
		return conn, nil
	}
	return l.handshake(raw, conn)
}

func (l *ProtocolMuxListener) peek(raw net.Conn, reader *bufio.Reader) ([]byte, error) {
	if err := raw.SetReadDeadline(time.Now().Add(l.timeout())); err != nil {
		return nil, fmt.Errorf("setting read deadline for peek : %w", err)
	}
	header, peekErr := reader.Peek(5)
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clearing read deadline after peek : %w", err)
	}
	if peekErr != nil && !errors.Is(peekErr, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("peeking initial bytes : %w", peekErr)
	}
	return header, nil
}

func (l *ProtocolMuxListener) handshake(raw net.Conn, conn net.Conn) (net.Conn, error) {
	tlsConn := tls.Server(conn, l.TLSConfig)

	if err := raw.SetReadDeadline(time.Now().Add(l.timeout())); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("setting read deadline for handshake : %w", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("performing tls handshake : %w", err)
	}
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("clearing read deadline after handshake : %w", err)
	}
	return tlsConn, nil
}

// isTLSRecord reports whether the bytes start a TLS handshake record
func isTLSRecord(header []byte) bool {
	return len(header) >= 2 && header[0] == 0x16 && header[1] == 0x03
}

// ResilientListener wraps net.Listener so recoverable accept errors are logged and skipped.
// Only a closed listener stops Accept
type ResilientListener struct {
	net.Listener
	Logger  *slog.Logger
	OnError func(err error)
}

func NewResilientListener(listener net.Listener, logger *slog.Logger) *ResilientListener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ResilientListener{Listener: listener, Logger: logger}
}

func (l *ResilientListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		l.Logger.Warn("connection rejected", "error", err)
		if l.OnError != nil {
			l.OnError(err)
		}
	}
}
