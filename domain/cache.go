package domain

import (
	"encoding/json"
	"time"
)

// RawField type is used for the raw HTTP response stored in a cache entry
//
// By default []byte MarshallJSON will encode the []byte value to base64
// MarshalJson is implemented for RawField to directly marshall the "string" bytes
type RawField []byte

// MarshalJSON implements the json.Marshaler interface. It marshals the raw bytes
// as a JSON string, bypassing the default base64 encoding for []byte.
func (r RawField) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}

	return json.Marshal(string(r))
}

// CacheRepository is the interface for the named cache stores.
// A cache store is addressed by name and maps a request key (the URL path) to a stored response.
type CacheRepository interface {
	// OpenCache creates the named cache store if it does not exist yet.
	// Opening an existing store is a no-op.
	OpenCache(name string) error

	// HasCache reports whether the named cache store exists.
	HasCache(name string) (bool, error)

	// GetCacheNames returns the names of all cache stores ordered by creation time.
	GetCacheNames() ([]string, error)

	// DeleteCache removes the named cache store and every entry it holds.
	// It returns an error if the store does not exist.
	DeleteCache(name string) error

	// PutEntry inserts or replaces the entry for entry.Key in entry.CacheName.
	// The cache store must exist.
	PutEntry(entry *CachedResponse) error

	// MatchEntry returns the entry stored under key in the named cache store.
	// It returns an error if there is no such entry.
	MatchEntry(cacheName string, key string) (*CachedResponse, error)

	// DeleteEntry removes the entry stored under key in the named cache store.
	DeleteEntry(cacheName string, key string) error

	// GetKeys returns the keys stored in the named cache store.
	GetKeys(cacheName string) ([]string, error)
}

// CachedResponse is a response held by a cache store.
type CachedResponse struct {
	CacheName   string    // Name of the cache store holding the entry
	Key         string    // Request key, the URL path the response was fetched from
	Status      string    // HTTP status text (e.g., "200 OK")
	StatusCode  int       // HTTP status code
	ContentType string    // Response content type
	Raw         RawField  // Complete raw HTTP response with a decoded body
	StoredAt    time.Time // When the entry was written
}
