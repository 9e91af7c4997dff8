package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogRepository persists the warnings and errors the proxy reports through Proxy.WriteLog.
type LogRepository interface {
	// InsertLog saves a new log entry.
	InsertLog(log *Log) error
	// GetLogs returns every log entry, oldest first.
	GetLogs() ([]*Log, error)
	// GetRecentLogs returns up to limit entries with one of the given levels, newest first.
	// No levels means every level, a limit of 0 means no limit.
	GetRecentLogs(limit int, levels ...string) ([]*Log, error)
}

// Log is a persisted log entry.
type Log struct {
	ID        uuid.UUID      // Unique identifier, a UUIDv7 so IDs sort by creation
	Timestamp time.Time      // When the entry was written
	Level     string         // DEBUG, INFO, WARN, ERROR or FATAL
	Message   string         // Log message
	Context   map[string]any // Structured fields, stored as JSON
	RequestID *uuid.UUID     // Request, and navigation record, the entry is about
}
