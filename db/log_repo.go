package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tfkr-ae/malja/domain"
)

var _ domain.LogRepository = (*Repository)(nil)

type dbLog struct {
	ID        uuid.UUID      `db:"id"`
	Timestamp time.Time      `db:"timestamp"`
	Level     string         `db:"level"`
	Message   string         `db:"message"`
	Context   JSONMap        `db:"context"`
	RequestID sql.NullString `db:"request_id"` // NULL when the entry is not about a request
}

const logColumns = `id, timestamp, level, message, context, request_id`

func (l *dbLog) toDomain() *domain.Log {
	log := &domain.Log{
		ID:        l.ID,
		Timestamp: l.Timestamp,
		Level:     l.Level,
		Message:   l.Message,
		Context:   map[string]any(l.Context),
	}
	if l.RequestID.Valid {
		if id, err := uuid.Parse(l.RequestID.String); err == nil {
			log.RequestID = &id
		}
	}
	return log
}

// InsertLog saves a new log entry.
func (repo *Repository) InsertLog(log *domain.Log) error {
	row := &dbLog{
		ID:        log.ID,
		Timestamp: log.Timestamp,
		Level:     log.Level,
		Message:   log.Message,
		Context:   JSONMap(log.Context),
	}
	if log.RequestID != nil {
		row.RequestID = sql.NullString{String: log.RequestID.String(), Valid: true}
	}

	query := `INSERT INTO logs (` + logColumns + `)
	          VALUES (:id, :timestamp, :level, :message, :context, :request_id)`
	if _, err := repo.dbConn.NamedExec(query, row); err != nil {
		return fmt.Errorf("inserting log %s: %w", log.ID, err)
	}
	return nil
}

// GetLogs returns every log entry, oldest first.
func (repo *Repository) GetLogs() ([]*domain.Log, error) {
	return repo.selectLogs(`SELECT ` + logColumns + ` FROM logs ORDER BY timestamp, rowid`)
}

// GetRecentLogs returns up to limit entries with one of the given levels, newest first.
func (repo *Repository) GetRecentLogs(limit int, levels ...string) ([]*domain.Log, error) {
	query := `SELECT ` + logColumns + ` FROM logs`
	var args []any
	if len(levels) > 0 {
		upper := make([]string, len(levels))
		for i, level := range levels {
			upper[i] = strings.ToUpper(level)
		}
		in, inArgs, err := sqlx.In(` WHERE level IN (?)`, upper)
		if err != nil {
			return nil, fmt.Errorf("building level filter : %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` ORDER BY timestamp DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return repo.selectLogs(repo.dbConn.Rebind(query), args...)
}

func (repo *Repository) selectLogs(query string, args ...any) ([]*domain.Log, error) {
	var rows []*dbLog
	if err := repo.dbConn.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetching logs: %w", err)
	}

	logs := make([]*domain.Log, len(rows))
	for i, row := range rows {
		logs[i] = row.toDomain()
	}
	return logs, nil
}
