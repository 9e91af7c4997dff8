package malja

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/martian"
	"github.com/google/uuid"
	"github.com/tfkr-ae/malja/core"
	"github.com/tfkr-ae/malja/offline"
	"github.com/tfkr-ae/malja/script"
)

var (
	// ErrSkipPipeline ends the modifier chain early. The request itself is still proxied
	ErrSkipPipeline = errors.New("skipping remaining modifiers")

	ErrMetadataNotFound  = errors.New("request metadata missing from context")
	ErrRequestIDNotFound = errors.New("request id missing from context")
)

// RequestModifierFunc modifies a proxied request with access to the owning *Proxy
type RequestModifierFunc func(proxy *Proxy, req *http.Request) error

// ResponseModifierFunc modifies a proxied response with access to the owning *Proxy
type ResponseModifierFunc func(proxy *Proxy, res *http.Response) error

// boundRequest satisfies martian.RequestModifier
type boundRequest func(req *http.Request) error

func (fn boundRequest) ModifyRequest(req *http.Request) error { return fn(req) }

// boundResponse satisfies martian.ResponseModifier
type boundResponse func(res *http.Response) error

func (fn boundResponse) ModifyResponse(res *http.Response) error { return fn(res) }

func (modifier RequestModifierFunc) bind(proxy *Proxy) boundRequest {
	return func(req *http.Request) error { return modifier(proxy, req) }
}

func (modifier ResponseModifierFunc) bind(proxy *Proxy) boundResponse {
	return func(res *http.Response) error { return modifier(proxy, res) }
}

// splitHostPort falls back to 443 or 80 depending on the scheme or req.TLS when the port is missing
func splitHostPort(req *http.Request, hostPort string) (string, string) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
		if req.URL.Scheme == "https" || req.TLS != nil {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host, port
}

// PreventLoopModifier skips requests made to malja's own listener address and port.
// localhost and 127.0.0.1 are treated as the same host
func PreventLoopModifier(proxy *Proxy, req *http.Request) error {
	host, port := splitHostPort(req, req.Host)
	if host == "localhost" {
		host = "127.0.0.1"
	}

	listenerAddr := proxy.Addr
	if listenerAddr == "localhost" {
		listenerAddr = "127.0.0.1"
	}

	if host == listenerAddr && port == proxy.Port {
		if ctx := martian.NewContext(req); ctx != nil {
			ctx.SkipRoundTrip()
		}
		return ErrSkipPipeline
	}
	return nil
}

// SkipConnectRequestModifier will skip processing for CONNECT requests
func SkipConnectRequestModifier(proxy *Proxy, req *http.Request) error {
	if req.Method == http.MethodConnect {
		return ErrSkipPipeline
	}
	return nil
}

// SetupRequestModifier sets the request ID, the request time, the metadata map and the request mode in the context
func SetupRequestModifier(proxy *Proxy, req *http.Request) error {
	*req = *core.ContextWithRequestTime(req, time.Now())
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating uuid for request : %w", err)
	}

	mode := offline.Mode(req)
	metadata := map[string]any{
		"mode": mode,
	}

	*req = *core.ContextWithRequestID(req, id)
	*req = *core.ContextWithMetadata(req, metadata)
	*req = *core.ContextWithMode(req, mode)
	return nil
}

// ScopeRequestModifier decides if the request can be intercepted by the offline worker.
// Out of scope requests get the skip flag and stop the pipeline. A failing script puts the request out of scope
func ScopeRequestModifier(proxy *Proxy, req *http.Request) error {
	inScope := proxy.Scope == nil || proxy.Scope.Matches(req)

	if inScope && proxy.Script != nil {
		mode, _ := core.ModeFromContext(req.Context())
		intercept, err := proxy.Script.Intercept(script.Request{
			Method: req.Method,
			Scheme: req.URL.Scheme,
			Host:   req.URL.Hostname(),
			Path:   req.URL.Path,
			Mode:   mode,
		})
		if err != nil {
			proxy.Logger.WarnContext(req.Context(), "scope script failed", "script", proxy.Script.Name, "url", req.URL.String(), "error", err)
			proxy.WriteLog("WARN", fmt.Sprintf("scope script %s failed : %v", proxy.Script.Name, err), core.LogWithContext(map[string]any{"url": req.URL.String()}))
			intercept = false
		}
		inScope = intercept
	}

	if metadata, ok := core.MetadataFromContext(req.Context()); ok {
		metadata["in_scope"] = inScope
	}

	if !inScope {
		*req = *core.ContextWithSkipFlag(req, true)
		return ErrSkipPipeline
	}

	*req = *core.ContextWithInterceptFlag(req, true)
	return nil
}

// ResponseFilterModifier will skip processing for responses to CONNECT requests, responses where the skip flag was set,
// or SkipRoundTrip is true. It will also add the response time to the context
func ResponseFilterModifier(proxy *Proxy, res *http.Response) error {
	if res.Request == nil || res.Request.Method == http.MethodConnect {
		return ErrSkipPipeline
	}
	if ctx := martian.NewContext(res.Request); ctx != nil && ctx.SkippingRoundTrip() {
		return ErrSkipPipeline
	}
	if skip, ok := core.SkipFlagFromContext(res.Request.Context()); ok && skip {
		return ErrSkipPipeline
	}
	res.Request = core.ContextWithResponseTime(res.Request, time.Now())
	return nil
}

// LogResponseModifier logs intercepted responses at debug level
func LogResponseModifier(proxy *Proxy, res *http.Response) error {
	ctx := res.Request.Context()
	requestID, ok := core.RequestIDFromContext(ctx)
	if !ok {
		return ErrRequestIDNotFound
	}
	metadata, ok := core.MetadataFromContext(ctx)
	if !ok {
		return ErrMetadataNotFound
	}

	var elapsed time.Duration
	requestTime, reqOk := core.RequestTimeFromContext(ctx)
	responseTime, resOk := core.ResponseTimeFromContext(ctx)
	if reqOk && resOk {
		elapsed = responseTime.Sub(requestTime)
	}

	proxy.Logger.DebugContext(ctx, "response",
		"id", requestID,
		"method", res.Request.Method,
		"url", res.Request.URL.String(),
		"status", res.StatusCode,
		"mode", metadata["mode"],
		"outcome", metadata["outcome"],
		"elapsed", elapsed,
	)
	return nil
}
