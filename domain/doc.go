// Package domain defines the core data structures of malja and the repository
// interfaces that persist them.
//
// It holds the cached offline responses, the worker versions that go through the
// install and activate lifecycle, the navigation records produced by the fallback
// interceptor and the application logs. The interfaces keep the proxy independent of
// the storage technology; the db package provides the SQLite implementation.
package domain
