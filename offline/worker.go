package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	DefaultCacheName   = "offline-page-cache-v1"
	DefaultOfflinePath = "/sw/"
)

// FetchFunc performs the real network fetch for a request
type FetchFunc func(req *http.Request) (*http.Response, error)

// Storage is the cache store host API
type Storage interface {
	// Open returns the named cache, creating it if it does not exist
	Open(ctx context.Context, name string) (Cache, error)
}

// Cache is a single named cache of request key to response
type Cache interface {
	// Add fetches the resource at key and stores the response under key. Nothing is stored when the fetch fails
	Add(ctx context.Context, key string) error
	// Match returns the stored response for key or ErrCacheMiss
	Match(ctx context.Context, key string) (*http.Response, error)
}

// Worker holds the configuration of one offline fallback version
type Worker struct {
	CacheName   string
	OfflinePath string
}

// NewWorker returns a Worker, empty values are replaced by DefaultCacheName and DefaultOfflinePath
func NewWorker(cacheName, offlinePath string) *Worker {
	if cacheName == "" {
		cacheName = DefaultCacheName
	}
	if offlinePath == "" {
		offlinePath = DefaultOfflinePath
	}
	return &Worker{CacheName: cacheName, OfflinePath: offlinePath}
}

// Install opens the cache store and adds the offline page to it.
// It returns once the page is stored or the attempt failed, failures are returned as *SetupError
func (w *Worker) Install(ctx context.Context, storage Storage) error {
	cache, err := storage.Open(ctx, w.CacheName)
	if err != nil {
		return &SetupError{CacheName: w.CacheName, Path: w.OfflinePath, Stage: StageOpen, Cause: err}
	}
	if err := cache.Add(ctx, w.OfflinePath); err != nil {
		return &SetupError{CacheName: w.CacheName, Path: w.OfflinePath, Stage: StageAdd, Cause: err}
	}
	return nil
}

// Navigate fetches the request from the network and returns the response as is.
// If the request is a navigation and the fetch fails, the cached offline page is returned instead.
// Requests that are not navigations, or whose context is done, get the fetch result unchanged
func (w *Worker) Navigate(ctx context.Context, storage Storage, req *http.Request, fetch FetchFunc) (*http.Response, error) {
	if !IsNavigation(req) {
		return fetch(req)
	}

	res, netErr := fetch(req)
	if netErr == nil {
		return res, nil
	}
	if ctx.Err() != nil || req.Context().Err() != nil {
		return nil, netErr
	}

	cache, err := storage.Open(ctx, w.CacheName)
	if err != nil {
		return nil, fmt.Errorf("opening cache %q after %w : %w", w.CacheName, netErr, err)
	}

	cached, err := cache.Match(ctx, w.OfflinePath)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, fmt.Errorf("%w : %s in %q after %w", ErrCacheMiss, w.OfflinePath, w.CacheName, netErr)
		}
		return nil, fmt.Errorf("matching %s in %q after %w : %w", w.OfflinePath, w.CacheName, netErr, err)
	}
	cached.Request = req
	return cached, nil
}
