package malja

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/tfkr-ae/malja/core"
	"github.com/tfkr-ae/malja/domain"
)

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading body : %v", err)
	}
	return string(body)
}

// navigation builds an intercepted navigation request the way the request pipeline leaves it
func navigation(t *testing.T, ctx context.Context, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("creating request : %v", err)
	}
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	if err := SetupRequestModifier(nil, req); err != nil {
		t.Fatalf("setting up request : %v", err)
	}
	return core.ContextWithInterceptFlag(req, true)
}

func recordNavigations(proxy *Proxy) *[]*domain.Navigation {
	var navigations []*domain.Navigation
	proxy.OnNavigation = func(navigation *domain.Navigation) {
		navigations = append(navigations, navigation)
	}
	return &navigations
}

func TestFallbackRoundTripper(t *testing.T) {
	t.Run("should pass through without an active worker", func(t *testing.T) {
		proxy, _, transport := setupTestProxy(t, siteHandler())
		recorded := recordNavigations(proxy)
		transport.setOffline(true)

		_, err := proxy.Handler().RoundTrip(navigation(t, t.Context(), proxy.Origin.String()+"/page"))
		if !errors.Is(err, errOffline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", errOffline, err)
		}
		if len(*recorded) != 0 {
			t.Fatalf("\nwanted:\nno navigation records\ngot:\n%d", len(*recorded))
		}
	})

	t.Run("should return the network response when online", func(t *testing.T) {
		proxy, _, _ := setupTestProxy(t, siteHandler())
		if _, err := proxy.Register(t.Context()); err != nil {
			t.Fatalf("registering : %v", err)
		}
		recorded := recordNavigations(proxy)

		req := navigation(t, t.Context(), proxy.Origin.String()+"/page")
		res, err := proxy.Handler().RoundTrip(req)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		defer res.Body.Close()

		if got := readBody(t, res); got != "online /page" {
			t.Fatalf("\nwanted:\nonline /page\ngot:\n%s", got)
		}
		if len(*recorded) != 1 || (*recorded)[0].Outcome != domain.OutcomeNetwork {
			t.Fatalf("\nwanted:\n1 network navigation\ngot:\n%v", *recorded)
		}
		requestID, _ := core.RequestIDFromContext(req.Context())
		if (*recorded)[0].ID != requestID {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", requestID, (*recorded)[0].ID)
		}
		metadata, _ := core.MetadataFromContext(req.Context())
		if metadata["outcome"] != string(domain.OutcomeNetwork) {
			t.Fatalf("\nwanted:\n%s\ngot:\n%v", domain.OutcomeNetwork, metadata["outcome"])
		}
	})

	t.Run("should serve the offline page when the network fails", func(t *testing.T) {
		proxy, _, transport := setupTestProxy(t, siteHandler())
		version, err := proxy.Register(t.Context())
		if err != nil {
			t.Fatalf("registering : %v", err)
		}
		recorded := recordNavigations(proxy)
		transport.setOffline(true)

		req := navigation(t, t.Context(), proxy.Origin.String()+"/any/other/page")
		res, err := proxy.Handler().RoundTrip(req)
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			t.Fatalf("\nwanted:\n%d\ngot:\n%d", http.StatusOK, res.StatusCode)
		}
		if got := readBody(t, res); got != offlinePage {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", offlinePage, got)
		}
		if res.Request != req {
			t.Fatalf("\nwanted:\nthe navigation request\ngot:\n%v", res.Request)
		}
		if len(*recorded) != 1 {
			t.Fatalf("\nwanted:\n1 navigation\ngot:\n%d", len(*recorded))
		}
		record := (*recorded)[0]
		if record.Outcome != domain.OutcomeOffline || record.VersionID != version.ID {
			t.Fatalf("\nwanted:\noffline for %v\ngot:\n%s for %v", version.ID, record.Outcome, record.VersionID)
		}
		if !strings.Contains(record.Error, errOffline.Error()) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%s", errOffline, record.Error)
		}
	})

	t.Run("should return the miss page when the offline page is gone", func(t *testing.T) {
		proxy, repo, transport := setupTestProxy(t, siteHandler())
		if _, err := proxy.Register(t.Context()); err != nil {
			t.Fatalf("registering : %v", err)
		}
		if err := repo.DeleteCache(proxy.Config.CacheName); err != nil {
			t.Fatalf("deleting cache : %v", err)
		}
		recorded := recordNavigations(proxy)
		transport.setOffline(true)

		res, err := proxy.Handler().RoundTrip(navigation(t, t.Context(), proxy.Origin.String()+"/page"))
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("\nwanted:\n%d\ngot:\n%d", http.StatusServiceUnavailable, res.StatusCode)
		}
		if got := readBody(t, res); got != missPage {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", missPage, got)
		}
		if len(*recorded) != 1 || (*recorded)[0].Outcome != domain.OutcomeMiss {
			t.Fatalf("\nwanted:\n1 miss navigation\ngot:\n%v", *recorded)
		}
	})

	t.Run("should not intercept requests without the intercept flag", func(t *testing.T) {
		proxy, _, transport := setupTestProxy(t, siteHandler())
		if _, err := proxy.Register(t.Context()); err != nil {
			t.Fatalf("registering : %v", err)
		}
		recorded := recordNavigations(proxy)
		transport.setOffline(true)

		req := navigation(t, t.Context(), proxy.Origin.String()+"/page")
		req = core.ContextWithInterceptFlag(req, false)
		if _, err := proxy.Handler().RoundTrip(req); !errors.Is(err, errOffline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", errOffline, err)
		}
		if len(*recorded) != 0 {
			t.Fatalf("\nwanted:\nno navigation records\ngot:\n%d", len(*recorded))
		}
	})

	t.Run("should not alter non navigation requests", func(t *testing.T) {
		proxy, _, transport := setupTestProxy(t, siteHandler())
		if _, err := proxy.Register(t.Context()); err != nil {
			t.Fatalf("registering : %v", err)
		}
		recorded := recordNavigations(proxy)
		transport.setOffline(true)

		req := navigation(t, t.Context(), proxy.Origin.String()+"/app.js")
		req.Header.Set("Sec-Fetch-Mode", "no-cors")
		if _, err := proxy.Handler().RoundTrip(req); !errors.Is(err, errOffline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", errOffline, err)
		}
		if len(*recorded) != 0 {
			t.Fatalf("\nwanted:\nno navigation records\ngot:\n%d", len(*recorded))
		}
	})

	t.Run("should not fall back for cancelled requests", func(t *testing.T) {
		proxy, _, transport := setupTestProxy(t, siteHandler())
		if _, err := proxy.Register(t.Context()); err != nil {
			t.Fatalf("registering : %v", err)
		}
		transport.setOffline(true)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if _, err := proxy.Handler().RoundTrip(navigation(t, ctx, proxy.Origin.String()+"/page")); !errors.Is(err, errOffline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", errOffline, err)
		}
	})
}
