package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheMiss is returned when the offline page is not in the cache store
	ErrCacheMiss = errors.New("offline page not cached")
	// ErrBadStatus is returned by Cache.Add when the offline page responds with a non 2xx status
	ErrBadStatus = errors.New("unexpected status")
)

// Install stages
const (
	StageOpen = "open"
	StageAdd  = "add"
)

// SetupError is returned when Install fails. The failed attempt writes nothing to the cache store
type SetupError struct {
	CacheName string
	Path      string
	Stage     string
	Cause     error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("offline: %s failed for %s in cache %q : %v", e.Stage, e.Path, e.CacheName, e.Cause)
}

func (e *SetupError) Unwrap() error { return e.Cause }
