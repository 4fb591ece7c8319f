package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/assistant-bridge/internal/domain"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

const (
	busyMaxRetries = 3
	busyBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets readers proceed while a writer commits.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_mappings (
		integration TEXT NOT NULL,
		assistant_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		date_of_creation TIMESTAMP NOT NULL,
		PRIMARY KEY (integration, chat_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_mappings_assistant ON chat_mappings(integration, assistant_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertMapping creates or replaces the mapping for (integration, chatID).
func (s *SQLiteStore) UpsertMapping(ctx context.Context, integration, chatID, assistantID, threadID string) error {
	query := `
	INSERT INTO chat_mappings (integration, chat_id, assistant_id, thread_id, date_of_creation)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(integration, chat_id) DO UPDATE SET
		assistant_id = excluded.assistant_id,
		thread_id = excluded.thread_id,
		date_of_creation = excluded.date_of_creation`

	createdAt := s.now().UTC().Format(timeFormat)
	err := s.withRetry(ctx, "upsert mapping", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, integration, chatID, assistantID, threadID, createdAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert mapping %s/%s: %w", integration, chatID, err)
	}
	return nil
}

// GetMappingByChat returns the mapping for (integration, chatID), or nil if none exists.
func (s *SQLiteStore) GetMappingByChat(ctx context.Context, integration, chatID string) (*domain.ConversationMapping, error) {
	query := `
		SELECT integration, assistant_id, chat_id, thread_id, date_of_creation
		FROM chat_mappings WHERE integration = ? AND chat_id = ?`

	var mapping *domain.ConversationMapping
	err := s.withRetry(ctx, "get mapping", func(tx *sql.Tx) error {
		m, err := scanMapping(tx.QueryRowContext(ctx, query, integration, chatID))
		if errors.Is(err, sql.ErrNoRows) {
			mapping = nil
			return nil
		}
		if err != nil {
			return err
		}
		mapping = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get mapping %s/%s: %w", integration, chatID, err)
	}
	return mapping, nil
}

// ListMappingsByAssistant returns every mapping of integration bound to assistantID.
func (s *SQLiteStore) ListMappingsByAssistant(ctx context.Context, integration, assistantID string) ([]*domain.ConversationMapping, error) {
	query := `
		SELECT integration, assistant_id, chat_id, thread_id, date_of_creation
		FROM chat_mappings WHERE integration = ? AND assistant_id = ?`
	return s.list(ctx, query, integration, assistantID)
}

// ListMappings returns every mapping of integration, or of all integrations if empty.
func (s *SQLiteStore) ListMappings(ctx context.Context, integration string) ([]*domain.ConversationMapping, error) {
	if integration == "" {
		return s.list(ctx, `
			SELECT integration, assistant_id, chat_id, thread_id, date_of_creation
			FROM chat_mappings ORDER BY integration, chat_id`)
	}
	return s.list(ctx, `
		SELECT integration, assistant_id, chat_id, thread_id, date_of_creation
		FROM chat_mappings WHERE integration = ? ORDER BY chat_id`, integration)
}

// DeleteMapping removes the mapping for (integration, chatID).
func (s *SQLiteStore) DeleteMapping(ctx context.Context, integration, chatID string) error {
	query := `DELETE FROM chat_mappings WHERE integration = ? AND chat_id = ?`
	err := s.withRetry(ctx, "delete mapping", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, integration, chatID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Debug("DeleteMapping affected 0 rows", "integration", integration, "chat_id", chatID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete mapping %s/%s: %w", integration, chatID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*domain.ConversationMapping, error) {
	var mappings []*domain.ConversationMapping
	err := s.withRetry(ctx, "list mappings", func(tx *sql.Tx) error {
		mappings = nil
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				slog.Warn("failed to close mapping rows", "error", closeErr)
			}
		}()

		for rows.Next() {
			m, err := scanMapping(rows)
			if err != nil {
				return fmt.Errorf("scan mapping row: %w", err)
			}
			mappings = append(mappings, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return mappings, nil
}

// withRetry runs fn in its own transaction and commits it. SQLITE_BUSY and
// "database is locked" failures are retried with exponential backoff.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	var err error
	for i := 0; i < busyMaxRetries; i++ {
		err = s.inTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isConflict(err) || i == busyMaxRetries-1 {
			break
		}

		delay := busyBaseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrIO, err)
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*domain.ConversationMapping, error) {
	var m domain.ConversationMapping
	var createdAt string
	if err := row.Scan(&m.Integration, &m.AssistantID, &m.ChatID, &m.ThreadID, &createdAt); err != nil {
		return nil, err
	}
	m.CreatedAt = parseTimestamp(createdAt)
	if m.CreatedAt.IsZero() {
		slog.Warn("Unparseable mapping timestamp",
			"integration", m.Integration,
			"chat_id", m.ChatID,
			"value", createdAt,
		)
	}
	return &m, nil
}

// legacyTimeFormats are accepted for rows written by earlier deployments,
// which stored naive UTC datetimes.
var legacyTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(value string) time.Time {
	if t, err := time.Parse(timeFormat, value); err == nil {
		return t
	}
	for _, layout := range legacyTimeFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var _ Repository = (*SQLiteStore)(nil)
