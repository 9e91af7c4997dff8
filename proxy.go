// Package malja provides an HTTP/HTTPS forward proxy that serves a cached offline page
// for page navigations when the network is unavailable.
//
// The proxy plays the host for an offline.Worker: Register runs the install phase once
// per worker version and stores the offline page in a SQLite backed cache store, and the
// proxy round tripper runs the navigation phase for every in scope request.
//
// The core functionality includes:
//   - HTTP/HTTPS proxy server with TLS certificate management
//   - Worker version lifecycle with install retries
//   - Offline fallback for navigations with navigation records
//   - Scope filtering through regex rules and an optional Lua script
package malja

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/martian"
	"github.com/google/martian/fifo"
	"github.com/google/uuid"
	"github.com/tfkr-ae/malja/core"
	"github.com/tfkr-ae/malja/domain"
	"github.com/tfkr-ae/malja/listener"
	"github.com/tfkr-ae/malja/offline"
	"github.com/tfkr-ae/malja/script"
)

// ErrNoRepository is returned by operations that need a repository when none is configured
var ErrNoRepository = errors.New("proxy has no repository")

// Repository defines the methods consumed by the proxy to interact with the SQLite backend.
type Repository interface {
	domain.CacheRepository
	domain.VersionRepository
	domain.NavigationRepository
	domain.StatsRepository
	domain.ConfigRepository
	domain.LogRepository
	Close() error
}

// Proxy coordinates the martian proxy, the offline worker and the database writes
type Proxy struct {
	martianProxy   *martian.Proxy
	ConfigDir      string            // The configuration directory
	Config         *Config           // The malja configuration
	Repo           Repository        // DB Repository Interface
	Logger         *slog.Logger      // Structured logger
	Modifiers      *fifo.Group       // Modifier group pipeline
	DBWriteChannel chan any          // Navigation records and logs waiting to be written
	Addr           string            // IP Address of the proxy
	Port           string            // Port of the proxy
	Origin         *url.URL          // Origin the offline path is resolved against
	Scope          *Scope            // Hosts and URLs the worker intercepts
	Script         *script.Filter    // Optional Lua filter applied after the scope
	SPKIHash       string            // SPKI Hash of the current certificate
	Cert           *x509.Certificate // CA certificate used for MITM
	TLSConfig      *tls.Config

	// OnNavigation is called for every navigation record before it is queued
	OnNavigation func(navigation *domain.Navigation)

	baseTransport http.RoundTripper
	storage       offline.Storage

	mu      sync.RWMutex
	worker  *offline.Worker
	version *domain.Version

	done      chan struct{}
	closeOnce sync.Once
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// New creates a new Proxy with the default configuration and applies the options.
func New(options ...func(*Proxy) error) (*Proxy, error) {
	cfg := DefaultConfig()
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, fmt.Errorf("parsing default origin : %w", err)
	}
	scope, err := NewScopeFromConfig(cfg.Scope, origin.Host)
	if err != nil {
		return nil, fmt.Errorf("building default scope : %w", err)
	}

	proxy := &Proxy{
		martianProxy:   martian.NewProxy(),
		Config:         cfg,
		Logger:         defaultLogger(),
		Modifiers:      fifo.NewGroup(),
		DBWriteChannel: make(chan any, 64),
		Addr:           cfg.ListenAddress,
		Port:           cfg.ListenPort,
		Origin:         origin,
		Scope:          scope,
		baseTransport:  newBaseTransport(),
		done:           make(chan struct{}),
	}
	proxy.martianProxy.SetRequestModifier(proxy)
	proxy.martianProxy.SetResponseModifier(proxy)

	if err := proxy.WithOptions(options...); err != nil {
		return nil, err
	}
	return proxy, nil
}

// AddRequestModifier appends modifier to the request side of the pipeline
func (proxy *Proxy) AddRequestModifier(modifier RequestModifierFunc) {
	proxy.Modifiers.AddRequestModifier(modifier.bind(proxy))
}

// AddResponseModifier appends modifier to the response side of the pipeline
func (proxy *Proxy) AddResponseModifier(modifier ResponseModifierFunc) {
	proxy.Modifiers.AddResponseModifier(modifier.bind(proxy))
}

// ModifyRequest runs the request pipeline. ErrSkipPipeline stops the pipeline silently, other errors are logged.
// Errors are never returned to martian so the request is forwarded unchanged
func (proxy *Proxy) ModifyRequest(req *http.Request) error {
	if err := proxy.Modifiers.ModifyRequest(req); err != nil && !errors.Is(err, ErrSkipPipeline) {
		proxy.Logger.ErrorContext(req.Context(), "modifying request", "url", req.URL.String(), "error", err)
	}
	return nil
}

// ModifyResponse runs the response pipeline, errors are handled like ModifyRequest
func (proxy *Proxy) ModifyResponse(res *http.Response) error {
	if err := proxy.Modifiers.ModifyResponse(res); err != nil && !errors.Is(err, ErrSkipPipeline) {
		proxy.Logger.Error("modifying response", "error", err)
	}
	return nil
}

// enqueue queues an item for WriteToDB, items are dropped when the channel is full
func (proxy *Proxy) enqueue(item any) {
	select {
	case proxy.DBWriteChannel <- item:
	default:
		proxy.Logger.Warn("db write channel full, dropping item", "type", fmt.Sprintf("%T", item))
	}
}

// WriteToDB drains DBWriteChannel until the proxy is closed
func (proxy *Proxy) WriteToDB() {
	for {
		select {
		case <-proxy.done:
			return
		case item := <-proxy.DBWriteChannel:
			proxy.write(item)
		}
	}
}

func (proxy *Proxy) write(item any) {
	if proxy.Repo == nil {
		return
	}
	switch castItem := item.(type) {
	case *domain.Navigation:
		if err := proxy.Repo.InsertNavigation(castItem); err != nil {
			proxy.Logger.Error("inserting navigation", "id", castItem.ID, "error", err)
		}
	case *domain.Log:
		if err := proxy.Repo.InsertLog(castItem); err != nil {
			proxy.Logger.Error("inserting log", "id", castItem.ID, "error", err)
		}
	default:
		proxy.Logger.Warn("unknown db item", "type", fmt.Sprintf("%T", item))
	}
}

// WriteLog queues a log entry for the database
func (proxy *Proxy) WriteLog(level string, message string, options ...core.LogOption) error {
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
	default:
		return fmt.Errorf("level should be either: DEBUG, INFO, WARN, ERROR, FATAL")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating new uuid : %w", err)
	}
	log := &domain.Log{
		ID:        id,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
	for _, option := range options {
		if err := option(log); err != nil {
			return fmt.Errorf("applying log option : %w", err)
		}
	}
	proxy.enqueue(log)
	return nil
}

// GetListener listens on address:port. Plain and TLS clients share the port and recoverable accept errors are skipped
func (proxy *Proxy) GetListener(address string, port string) (net.Listener, error) {
	rawListener, err := net.Listen("tcp", net.JoinHostPort(address, port))
	if err != nil {
		return nil, fmt.Errorf("setting up listener on address:port %s:%s : %w", address, port, err)
	}
	if _, actualPort, err := net.SplitHostPort(rawListener.Addr().String()); err == nil {
		port = actualPort
	}
	muxListener := listener.NewProtocolMuxListener(rawListener, proxy.TLSConfig)
	resilient := listener.NewResilientListener(muxListener, proxy.Logger)
	resilient.OnError = func(err error) {
		proxy.WriteLog("WARN", fmt.Sprintf("connection rejected : %v", err))
	}

	proxy.Addr = address
	proxy.Port = port
	proxy.Logger.Info("malja listening", "address", address, "port", port)
	return resilient, nil
}

// Handler returns the round tripper chain used for proxied requests
func (proxy *Proxy) Handler() http.RoundTripper {
	return &fallbackRoundTripper{
		proxy: proxy,
		base:  &maljaRoundTripper{cert: proxy.Cert, base: proxy.baseTransport},
	}
}

// Serve starts the DB writer and serves the proxy on listener until it is closed
func (proxy *Proxy) Serve(listener net.Listener) error {
	go proxy.WriteToDB()
	proxy.martianProxy.SetRoundTripper(proxy.Handler())
	return proxy.martianProxy.Serve(listener)
}

// Close stops the martian proxy and the DB writer
func (proxy *Proxy) Close() {
	proxy.closeOnce.Do(func() {
		proxy.martianProxy.Close()
		close(proxy.done)
	})
}
