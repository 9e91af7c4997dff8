package core

import (
	"maps"

	"github.com/google/uuid"
	"github.com/tfkr-ae/malja/domain"
)

// LogOption customizes a log entry before it is queued
type LogOption func(log *domain.Log) error

// LogWithContext merges fields into the context map of the log entry
func LogWithContext(fields map[string]any) LogOption {
	return func(log *domain.Log) error {
		if log.Context == nil {
			log.Context = make(map[string]any, len(fields))
		}
		maps.Copy(log.Context, fields)
		return nil
	}
}

// LogWithReqResID links the log entry to a request, its response and the navigation record sharing the ID
func LogWithReqResID(id uuid.UUID) LogOption {
	return func(log *domain.Log) error {
		log.RequestID = &id
		return nil
	}
}
