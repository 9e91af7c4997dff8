package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tfkr-ae/malja/db"
	"github.com/tfkr-ae/malja/domain"
	"github.com/tfkr-ae/malja/rawhttp"
)

// RepositoryStorage is a Storage backed by a domain.CacheRepository.
// Keys are paths resolved against Origin and fetched through Transport
type RepositoryStorage struct {
	Repo      domain.CacheRepository
	Transport http.RoundTripper
	Origin    *url.URL
}

var _ Storage = (*RepositoryStorage)(nil)

func NewStorage(repo domain.CacheRepository, transport http.RoundTripper, origin *url.URL) *RepositoryStorage {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &RepositoryStorage{Repo: repo, Transport: transport, Origin: origin}
}

func (s *RepositoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Repo.OpenCache(name); err != nil {
		return nil, fmt.Errorf("opening cache %q : %w", name, err)
	}
	return &repositoryCache{name: name, storage: s}, nil
}

type repositoryCache struct {
	name    string
	storage *RepositoryStorage
}

// resolve returns the absolute URL for key
func (c *repositoryCache) resolve(key string) (*url.URL, error) {
	ref, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("parsing key %q : %w", key, err)
	}
	if c.storage.Origin == nil {
		if !ref.IsAbs() {
			return nil, fmt.Errorf("resolving relative key %q without an origin", key)
		}
		return ref, nil
	}
	return c.storage.Origin.ResolveReference(ref), nil
}

func (c *repositoryCache) Add(ctx context.Context, key string) error {
	target, err := c.resolve(key)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request for %s : %w", target, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, br")

	res, err := c.storage.Transport.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("fetching %s : %w", target, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)
		return fmt.Errorf("%w : %s returned %d", ErrBadStatus, target, res.StatusCode)
	}

	if err := rawhttp.Decompress(res); err != nil {
		return fmt.Errorf("decoding %s : %w", target, err)
	}
	raw, err := rawhttp.DumpResponse(res)
	if err != nil {
		return fmt.Errorf("dumping %s : %w", target, err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading %s : %w", target, err)
	}

	entry := &domain.CachedResponse{
		CacheName:   c.name,
		Key:         key,
		Status:      res.Status,
		StatusCode:  res.StatusCode,
		ContentType: rawhttp.DetectContentType(res.Header, body),
		Raw:         raw,
		StoredAt:    time.Now(),
	}
	if err := c.storage.Repo.PutEntry(entry); err != nil {
		return fmt.Errorf("storing %s : %w", key, err)
	}
	return nil
}

func (c *repositoryCache) Match(ctx context.Context, key string) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := c.storage.Repo.MatchEntry(c.name, key)
	if err != nil {
		if errors.Is(err, db.ErrCacheEntryNotFound) || errors.Is(err, db.ErrCacheNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("matching %s : %w", key, err)
	}
	res, err := rawhttp.RebuildResponse(entry.Raw, nil)
	if err != nil {
		return nil, fmt.Errorf("rebuilding %s : %w", key, err)
	}
	return res, nil
}
