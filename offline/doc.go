// Package offline implements the offline fallback for page navigations.
//
// A Worker has two operations. Install opens a named cache store and adds the
// offline page to it. Navigate lets a navigation go to the network and, when the
// network fetch fails, answers it with the cached offline page instead.
//
// The cache store is injected through the Storage interface; NewStorage adapts a
// domain.CacheRepository and an upstream http.RoundTripper into one.
package offline
