package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var errOffline = errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")

// memStorage is an in memory Storage, Add serves the bodies in pages
type memStorage struct {
	pages   map[string]string
	caches  map[string]map[string]string
	openErr error
	opened  int
}

func newMemStorage(pages map[string]string) *memStorage {
	return &memStorage{pages: pages, caches: make(map[string]map[string]string)}
}

func (s *memStorage) Open(ctx context.Context, name string) (Cache, error) {
	s.opened++
	if s.openErr != nil {
		return nil, s.openErr
	}
	if _, ok := s.caches[name]; !ok {
		s.caches[name] = make(map[string]string)
	}
	return &memCache{entries: s.caches[name], pages: s.pages}, nil
}

type memCache struct {
	entries map[string]string
	pages   map[string]string
}

func (c *memCache) Add(ctx context.Context, key string) error {
	body, ok := c.pages[key]
	if !ok {
		return errOffline
	}
	c.entries[key] = body
	return nil
}

func (c *memCache) Match(ctx context.Context, key string) (*http.Response, error) {
	body, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func navigationRequest(path string) *http.Request {
	req := httptest.NewRequest("GET", "http://127.0.0.1:8000"+path, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	return req
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("reading body : %v", err)
	}
	return string(body)
}

func TestNewWorker(t *testing.T) {
	t.Run("should apply the defaults", func(t *testing.T) {
		w := NewWorker("", "")
		if w.CacheName != "offline-page-cache-v1" || w.OfflinePath != "/sw/" {
			t.Fatalf("\nwanted:\n%s %s\ngot:\n%s %s", DefaultCacheName, DefaultOfflinePath, w.CacheName, w.OfflinePath)
		}
	})
}

func TestWorkerInstall(t *testing.T) {
	t.Run("should store the offline page under its path", func(t *testing.T) {
		storage := newMemStorage(map[string]string{"/sw/": "<p>offline</p>"})
		w := NewWorker("", "")

		if err := w.Install(context.Background(), storage); err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if got := storage.caches[DefaultCacheName]["/sw/"]; got != "<p>offline</p>" {
			t.Fatalf("\nwanted:\n<p>offline</p>\ngot:\n%s", got)
		}
	})

	t.Run("should return a SetupError when the page cannot be fetched", func(t *testing.T) {
		storage := newMemStorage(map[string]string{})
		w := NewWorker("", "")

		err := w.Install(context.Background(), storage)

		var setupErr *SetupError
		if !errors.As(err, &setupErr) {
			t.Fatalf("\nwanted:\n*SetupError\ngot:\n%T", err)
		}
		if setupErr.Stage != StageAdd {
			t.Fatalf("\nwanted:\n%s\ngot:\n%s", StageAdd, setupErr.Stage)
		}
		if !errors.Is(err, errOffline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", errOffline, err)
		}
		if _, ok := storage.caches[DefaultCacheName]["/sw/"]; ok {
			t.Fatalf("\nwanted:\nno entry\ngot:\nentry for /sw/")
		}
	})

	t.Run("should return a SetupError when the store cannot be opened", func(t *testing.T) {
		storage := newMemStorage(map[string]string{"/sw/": "<p>offline</p>"})
		storage.openErr = errors.New("disk full")
		w := NewWorker("", "")

		err := w.Install(context.Background(), storage)

		var setupErr *SetupError
		if !errors.As(err, &setupErr) || setupErr.Stage != StageOpen {
			t.Fatalf("\nwanted:\nSetupError(open)\ngot:\n%v", err)
		}
	})
}

func TestWorkerNavigate(t *testing.T) {
	installed := func(t *testing.T) (*Worker, *memStorage) {
		t.Helper()
		storage := newMemStorage(map[string]string{"/sw/": "<p>offline</p>"})
		w := NewWorker("", "")
		if err := w.Install(context.Background(), storage); err != nil {
			t.Fatalf("installing : %v", err)
		}
		storage.opened = 0
		return w, storage
	}

	t.Run("should return the network response without consulting the cache", func(t *testing.T) {
		w, storage := installed(t)
		req := navigationRequest("/any/other/page")
		network := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("online"))}

		res, err := w.Navigate(context.Background(), storage, req, func(r *http.Request) (*http.Response, error) {
			return network, nil
		})
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if res != network {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", network, res)
		}
		if storage.opened != 0 {
			t.Fatalf("\nwanted:\n0 opens\ngot:\n%d", storage.opened)
		}
	})

	t.Run("should pass server errors through", func(t *testing.T) {
		w, storage := installed(t)
		network := &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(strings.NewReader("boom"))}

		res, err := w.Navigate(context.Background(), storage, navigationRequest("/"), func(r *http.Request) (*http.Response, error) {
			return network, nil
		})
		if err != nil || res != network {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v (%v)", network, res, err)
		}
	})

	t.Run("should return the offline page when the network fails", func(t *testing.T) {
		w, storage := installed(t)
		req := navigationRequest("/any/other/page")

		res, err := w.Navigate(context.Background(), storage, req, func(r *http.Request) (*http.Response, error) {
			return nil, errOffline
		})
		if err != nil {
			t.Fatalf("\nwanted:\nnil\ngot:\n%v", err)
		}
		if got := readBody(t, res); got != "<p>offline</p>" {
			t.Fatalf("\nwanted:\n<p>offline</p>\ngot:\n%s", got)
		}
		if res.Request != req {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", req, res.Request)
		}
	})

	t.Run("should not intercept requests that are not navigations", func(t *testing.T) {
		w, storage := installed(t)
		req := httptest.NewRequest("GET", "http://127.0.0.1:8000/app.js", nil)
		req.Header.Set("Sec-Fetch-Mode", "no-cors")

		res, err := w.Navigate(context.Background(), storage, req, func(r *http.Request) (*http.Response, error) {
			return nil, errOffline
		})
		if !errors.Is(err, errOffline) || res != nil {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v (%v)", errOffline, err, res)
		}
		if storage.opened != 0 {
			t.Fatalf("\nwanted:\n0 opens\ngot:\n%d", storage.opened)
		}
	})

	t.Run("should return ErrCacheMiss when the page was never installed", func(t *testing.T) {
		storage := newMemStorage(nil)
		w := NewWorker("", "")

		_, err := w.Navigate(context.Background(), storage, navigationRequest("/"), func(r *http.Request) (*http.Response, error) {
			return nil, errOffline
		})
		if !errors.Is(err, ErrCacheMiss) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", ErrCacheMiss, err)
		}
		if !errors.Is(err, errOffline) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", errOffline, err)
		}
	})

	t.Run("should not fall back when the request was cancelled", func(t *testing.T) {
		w, storage := installed(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := navigationRequest("/").WithContext(ctx)

		_, err := w.Navigate(ctx, storage, req, func(r *http.Request) (*http.Response, error) {
			return nil, context.Canceled
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("\nwanted:\n%v\ngot:\n%v", context.Canceled, err)
		}
		if storage.opened != 0 {
			t.Fatalf("\nwanted:\n0 opens\ngot:\n%d", storage.opened)
		}
	})

	t.Run("should report the open error with the network error", func(t *testing.T) {
		w, storage := installed(t)
		storage.openErr = errors.New("database is locked")

		_, err := w.Navigate(context.Background(), storage, navigationRequest("/"), func(r *http.Request) (*http.Response, error) {
			return nil, errOffline
		})
		if !errors.Is(err, storage.openErr) || !errors.Is(err, errOffline) {
			t.Fatalf("\nwanted:\nboth errors\ngot:\n%v", err)
		}
	})
}
