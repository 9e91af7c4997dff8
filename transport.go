package malja

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	utls "github.com/refraction-networking/utls"
)

// dialTimeout bounds TCP connects to the origin, the request itself stays unbounded
const dialTimeout = 30 * time.Second

// certURLs are the URLs the CA certificate is served on
var certURLs = []string{"http://malja.cert/", "http://malja.cert"}

// maljaRoundTripper serves the CA certificate on malja.cert, every other request goes to base
type maljaRoundTripper struct {
	cert *x509.Certificate
	base http.RoundTripper
}

// newBaseTransport returns the upstream transport. TLS connections use a utls Chrome hello restricted to http/1.1
func newBaseTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		insecure := transport.TLSClientConfig != nil && transport.TLSClientConfig.InsecureSkipVerify
		return dialChromeTLS(ctx, dialer, network, addr, insecure)
	}
	return transport
}

func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string, insecure bool) (net.Conn, error) {
	tcpConn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	sniHost, _, err := net.SplitHostPort(addr)
	if err != nil {
		sniHost = addr
	}

	uConn := utls.UClient(tcpConn, &utls.Config{ServerName: sniHost, InsecureSkipVerify: insecure}, utls.HelloChrome_Auto)
	if err := uConn.BuildHandshakeState(); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("building handshake state : %w", err)
	}

	// HelloChrome_Auto ignores NextProtos and offers h2, the ALPN extension is rewritten before the handshake
	if !forceHTTP11(uConn.Extensions) {
		tcpConn.Close()
		return nil, errors.New("chrome hello has no ALPN extension")
	}

	if err := uConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("tls handshake with %s : %w", sniHost, err)
	}
	return uConn, nil
}

func forceHTTP11(extensions []utls.TLSExtension) bool {
	for _, ext := range extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			return true
		}
	}
	return false
}

// RoundTrip returns the CA certificate in .der format for malja.cert
func (m *maljaRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.cert != nil && slices.Contains(certURLs, req.URL.String()) {
		return m.certResponse(req), nil
	}

	// an empty User-Agent stops net/http from adding its own
	if _, ok := req.Header["User-Agent"]; !ok {
		req = req.Clone(req.Context())
		req.Header["User-Agent"] = []string{""}
	}
	return m.base.RoundTrip(req)
}

func (m *maljaRoundTripper) certResponse(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/x-x509-ca-cert")
	header.Set("Content-Disposition", `attachment; filename="malja-cert.der"`)

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusOK, http.StatusText(http.StatusOK)),
		StatusCode:    http.StatusOK,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(m.cert.Raw)),
		ContentLength: int64(len(m.cert.Raw)),
		Request:       req,
	}
}
