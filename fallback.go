package malja

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/malja/core"
	"github.com/tfkr-ae/malja/domain"
	"github.com/tfkr-ae/malja/offline"
)

const missPage = `<!DOCTYPE html>
<html><head><title>Offline</title></head>
<body><h1>You are offline</h1><p>This page is not available right now.</p></body></html>
`

// fallbackRoundTripper hands intercepted navigations to the active worker, everything else goes to base
type fallbackRoundTripper struct {
	proxy *Proxy
	base  http.RoundTripper
}

// RoundTrip implements the http.RoundTripper interface
func (f *fallbackRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	intercept, _ := core.InterceptFlagFromContext(req.Context())
	worker, version := f.proxy.ActiveWorker()
	if !intercept || worker == nil || !offline.IsNavigation(req) {
		return f.base.RoundTrip(req)
	}

	var netErr error
	fetch := func(r *http.Request) (*http.Response, error) {
		res, err := f.base.RoundTrip(r)
		netErr = err
		return res, err
	}

	res, err := worker.Navigate(req.Context(), f.proxy.Storage(), req, fetch)

	navigation := &domain.Navigation{
		VersionID:   version.ID,
		URL:         req.URL.String(),
		RequestedAt: time.Now(),
	}
	if requestID, ok := core.RequestIDFromContext(req.Context()); ok {
		navigation.ID = requestID
	} else if id, idErr := uuid.NewV7(); idErr == nil {
		navigation.ID = id
	}
	if requestTime, ok := core.RequestTimeFromContext(req.Context()); ok {
		navigation.RequestedAt = requestTime
	}

	switch {
	case netErr == nil:
		navigation.Outcome = domain.OutcomeNetwork
	case err == nil:
		navigation.Outcome = domain.OutcomeOffline
		navigation.Error = netErr.Error()
		f.proxy.Logger.WarnContext(req.Context(), "serving offline page", "url", navigation.URL, "version", version.ID, "error", netErr)
	case errors.Is(err, offline.ErrCacheMiss):
		navigation.Outcome = domain.OutcomeMiss
		navigation.Error = netErr.Error()
		f.proxy.Logger.WarnContext(req.Context(), "offline page missing", "url", navigation.URL, "version", version.ID, "error", err)
		f.proxy.WriteLog("WARN", fmt.Sprintf("offline page missing for %s : %v", navigation.URL, err), core.LogWithReqResID(navigation.ID))
		res, err = missResponse(req), nil
	default:
		// context cancelled or the cache store failed, the error goes back to martian
		return nil, err
	}

	if metadata, ok := core.MetadataFromContext(req.Context()); ok {
		metadata["outcome"] = string(navigation.Outcome)
	}
	f.proxy.recordNavigation(navigation)
	return res, err
}

// missResponse is the minimal page returned when the network failed and the offline page is not cached
func missResponse(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(missPage)))
	header.Set("Cache-Control", "no-store")
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(missPage))),
		ContentLength: int64(len(missPage)),
		Request:       req,
	}
}

func (proxy *Proxy) recordNavigation(navigation *domain.Navigation) {
	if proxy.OnNavigation != nil {
		proxy.OnNavigation(navigation)
	}
	proxy.enqueue(navigation)
}
