package malja

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/martian"
	"github.com/tfkr-ae/malja/core"
	"github.com/tfkr-ae/malja/offline"
	"github.com/tfkr-ae/malja/script"
)

func TestPreventLoopModifier(t *testing.T) {
	tests := []struct {
		name   string
		target string
		skip   bool
	}{
		{name: "should skip requests to the listener", target: "http://127.0.0.1:8080/path", skip: true},
		{name: "should treat localhost as 127.0.0.1", target: "http://localhost:8080/path", skip: true},
		{name: "should pass requests to other ports", target: "http://127.0.0.1:8081/path"},
		{name: "should default http to port 80", target: "http://127.0.0.1/path"},
		{name: "should pass requests to other hosts", target: "http://example.com:8080/path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy := &Proxy{Addr: "127.0.0.1", Port: "8080"}
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			ctx, remove, err := martian.TestContext(req, nil, nil)
			if err != nil {
				t.Fatalf("applying martian context : %v", err)
			}
			defer remove()

			err = PreventLoopModifier(proxy, req)
			if tt.skip {
				if !errors.Is(err, ErrSkipPipeline) {
					t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
				}
				if !ctx.SkippingRoundTrip() {
					t.Fatalf("\nwanted:\ntrue\ngot:\n%t", ctx.SkippingRoundTrip())
				}
				return
			}
			if err != nil {
				t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
			}
			if ctx.SkippingRoundTrip() {
				t.Fatalf("\nwanted:\nfalse\ngot:\n%t", ctx.SkippingRoundTrip())
			}
		})
	}

	t.Run("should not panic without a martian context", func(t *testing.T) {
		proxy := &Proxy{Addr: "127.0.0.1", Port: "8080"}
		req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/path", nil)
		if err := PreventLoopModifier(proxy, req); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
	})
}

func TestSkipConnectModifier(t *testing.T) {
	t.Run("should skip CONNECT requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodConnect, "https://example.com:443", nil)
		if err := SkipConnectRequestModifier(&Proxy{}, req); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
	})

	t.Run("should pass other methods", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
		if err := SkipConnectRequestModifier(&Proxy{}, req); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
	})
}

func TestSetupRequestModifier(t *testing.T) {
	t.Run("should set the id, time, metadata and mode on the same request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://example.com/page", nil)
		req.Header.Set("Accept", "text/html")
		original := req

		if err := SetupRequestModifier(&Proxy{}, req); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if req != original {
			t.Fatal("\nwanted:\nthe same request pointer\ngot:\na new request")
		}

		ctx := req.Context()
		if _, ok := core.RequestIDFromContext(ctx); !ok {
			t.Fatal("\nwanted:\nrequest id\ngot:\nmissing")
		}
		if _, ok := core.RequestTimeFromContext(ctx); !ok {
			t.Fatal("\nwanted:\nrequest time\ngot:\nmissing")
		}
		mode, ok := core.ModeFromContext(ctx)
		if !ok || mode != offline.ModeNavigate {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", offline.ModeNavigate, mode)
		}
		metadata, ok := core.MetadataFromContext(ctx)
		if !ok || metadata["mode"] != offline.ModeNavigate {
			t.Fatalf("\nwanted:\nmetadata with mode\ngot:\n%v", metadata)
		}
	})
}

func newTestFilter(t *testing.T, code string) *script.Filter {
	t.Helper()
	filter, err := script.New("test.lua", code, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("creating filter : %v", err)
	}
	return filter
}

func TestScopeRequestModifier(t *testing.T) {
	setup := func(t *testing.T, target string) *http.Request {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		if err := SetupRequestModifier(nil, req); err != nil {
			t.Fatalf("setting up request : %v", err)
		}
		return req
	}
	scopeFor := func(t *testing.T, origin string) *Scope {
		t.Helper()
		scope, err := NewScopeFromConfig(ScopeConfig{}, origin)
		if err != nil {
			t.Fatalf("creating scope : %v", err)
		}
		return scope
	}

	t.Run("should set the intercept flag for in scope requests", func(t *testing.T) {
		proxy := &Proxy{Scope: scopeFor(t, "app.example.com"), Logger: slog.New(slog.DiscardHandler)}
		req := setup(t, "http://app.example.com/page")

		if err := ScopeRequestModifier(proxy, req); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if intercept, _ := core.InterceptFlagFromContext(req.Context()); !intercept {
			t.Fatal("\nwanted:\nintercept flag\ngot:\nunset")
		}
		metadata, _ := core.MetadataFromContext(req.Context())
		if metadata["in_scope"] != true {
			t.Fatalf("\nwanted:\ntrue\ngot:\n%v", metadata["in_scope"])
		}
	})

	t.Run("should skip out of scope requests", func(t *testing.T) {
		proxy := &Proxy{Scope: scopeFor(t, "app.example.com"), Logger: slog.New(slog.DiscardHandler)}
		req := setup(t, "http://other.example.com/page")

		if err := ScopeRequestModifier(proxy, req); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
		if skip, _ := core.SkipFlagFromContext(req.Context()); !skip {
			t.Fatal("\nwanted:\nskip flag\ngot:\nunset")
		}
		if intercept, _ := core.InterceptFlagFromContext(req.Context()); intercept {
			t.Fatal("\nwanted:\nno intercept flag\ngot:\nset")
		}
	})

	t.Run("should let the script narrow the scope", func(t *testing.T) {
		proxy := &Proxy{
			Scope:  scopeFor(t, ""),
			Script: newTestFilter(t, `function intercept(r) return r.mode == "navigate" and r.path ~= "/admin" end`),
			Logger: slog.New(slog.DiscardHandler),
		}

		if err := ScopeRequestModifier(proxy, setup(t, "http://example.com/page")); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if err := ScopeRequestModifier(proxy, setup(t, "http://example.com/admin")); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
	})

	t.Run("should not run the script for out of scope requests", func(t *testing.T) {
		proxy := &Proxy{
			Scope:  scopeFor(t, "app.example.com"),
			Script: newTestFilter(t, `function intercept(r) return true end`),
			Logger: slog.New(slog.DiscardHandler),
		}
		if err := ScopeRequestModifier(proxy, setup(t, "http://other.example.com/")); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
	})

	t.Run("should treat script errors as out of scope", func(t *testing.T) {
		var buf bytes.Buffer
		proxy := &Proxy{
			Scope:          scopeFor(t, ""),
			Script:         newTestFilter(t, `function intercept(r) error("boom") end`),
			Logger:         slog.New(slog.NewTextHandler(&buf, nil)),
			DBWriteChannel: make(chan any, 1),
		}

		if err := ScopeRequestModifier(proxy, setup(t, "http://example.com/page")); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
		if !strings.Contains(buf.String(), "scope script failed") {
			t.Fatalf("\nwanted:\nwarning logged\ngot:\n%q", buf.String())
		}
		if len(proxy.DBWriteChannel) != 1 {
			t.Fatalf("\nwanted:\n1 queued log\ngot:\n%d", len(proxy.DBWriteChannel))
		}
	})
}

func TestResponseFilterModifier(t *testing.T) {
	t.Run("should skip responses to CONNECT requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodConnect, "https://example.com", nil)
		if err := ResponseFilterModifier(&Proxy{}, &http.Response{Request: req}); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
	})

	t.Run("should skip responses when the round trip was skipped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
		ctx, remove, err := martian.TestContext(req, nil, nil)
		if err != nil {
			t.Fatalf("applying martian context : %v", err)
		}
		defer remove()
		ctx.SkipRoundTrip()

		if err := ResponseFilterModifier(&Proxy{}, &http.Response{Request: req}); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
	})

	t.Run("should skip responses with the skip flag", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
		*req = *core.ContextWithSkipFlag(req, true)

		if err := ResponseFilterModifier(&Proxy{}, &http.Response{Request: req}); !errors.Is(err, ErrSkipPipeline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrSkipPipeline, err)
		}
	})

	t.Run("should timestamp other responses", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
		res := &http.Response{Request: req}

		if err := ResponseFilterModifier(&Proxy{}, res); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if _, ok := core.ResponseTimeFromContext(res.Request.Context()); !ok {
			t.Fatal("\nwanted:\nresponse time\ngot:\nmissing")
		}
	})
}

func TestLogResponseModifier(t *testing.T) {
	t.Run("should require the request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
		proxy := &Proxy{Logger: slog.New(slog.DiscardHandler)}
		if err := LogResponseModifier(proxy, &http.Response{Request: req}); !errors.Is(err, ErrRequestIDNotFound) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrRequestIDNotFound, err)
		}
	})

	t.Run("should log at debug level", func(t *testing.T) {
		var buf bytes.Buffer
		proxy := &Proxy{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

		req := httptest.NewRequest(http.MethodGet, "https://example.com/page", nil)
		if err := SetupRequestModifier(proxy, req); err != nil {
			t.Fatalf("setting up request : %v", err)
		}
		req = core.ContextWithResponseTime(req, time.Now())

		res := &http.Response{StatusCode: http.StatusOK, Request: req, Body: io.NopCloser(strings.NewReader(""))}
		if err := LogResponseModifier(proxy, res); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if !strings.Contains(buf.String(), "level=DEBUG") || !strings.Contains(buf.String(), "status=200") {
			t.Fatalf("\nwanted:\ndebug log with the status\ngot:\n%q", buf.String())
		}
	})
}

func TestModifierPipeline(t *testing.T) {
	t.Run("should swallow pipeline errors", func(t *testing.T) {
		var buf bytes.Buffer
		proxy, err := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
		if err != nil {
			t.Fatalf("creating proxy : %v", err)
		}
		calls := 0
		proxy.AddRequestModifier(func(p *Proxy, req *http.Request) error { return ErrSkipPipeline })
		proxy.AddRequestModifier(func(p *Proxy, req *http.Request) error {
			calls++
			return nil
		})

		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		if err := proxy.ModifyRequest(req); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if calls != 0 {
			t.Fatalf("\nwanted:\n0 calls after ErrSkipPipeline\ngot:\n%d", calls)
		}
		if buf.Len() != 0 {
			t.Fatalf("\nwanted:\nnothing logged\ngot:\n%q", buf.String())
		}
	})

	t.Run("should log other errors", func(t *testing.T) {
		var buf bytes.Buffer
		proxy, err := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
		if err != nil {
			t.Fatalf("creating proxy : %v", err)
		}
		proxy.AddResponseModifier(func(p *Proxy, res *http.Response) error { return errors.New("broken") })

		res := &http.Response{Request: httptest.NewRequest(http.MethodGet, "http://example.com", nil)}
		if err := proxy.ModifyResponse(res); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if !strings.Contains(buf.String(), "broken") {
			t.Fatalf("\nwanted:\nerror logged\ngot:\n%q", buf.String())
		}
	})
}
