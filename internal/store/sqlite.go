// ABOUTME: SQLite implementation of the Backend interface using modernc.org/sqlite
// ABOUTME: Stores conversation documents as JSON rows with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteLocationPrefix = "sqlite:conversations/"

// SQLiteBackend implements Backend using SQLite
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	b := &SQLiteBackend{
		db:     db,
		logger: logger,
	}

	if err := b.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite backend initialized", "path", path)
	return b, nil
}

// createSchema creates the database tables if they don't exist
func (b *SQLiteBackend) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			document   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_index (
			id        TEXT PRIMARY KEY,
			title     TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			location  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_index_timestamp
			ON conversation_index(timestamp DESC);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) LoadConversation(ctx context.Context, id string) (*Conversation, error) {
	var doc string
	err := b.db.QueryRowContext(ctx, `SELECT document FROM conversations WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal([]byte(doc), &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation: %w", err)
	}
	return &conv, nil
}

func (b *SQLiteBackend) SaveConversation(ctx context.Context, conv *Conversation) (string, error) {
	doc, err := json.Marshal(conv)
	if err != nil {
		return "", fmt.Errorf("encoding conversation: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO conversations (id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
	`, conv.ID, string(doc), conv.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("upserting conversation: %w", err)
	}
	return sqliteLocationPrefix + conv.ID, nil
}

func (b *SQLiteBackend) DeleteConversation(ctx context.Context, id string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) ConversationExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking conversation: %w", err)
	}
	return true, nil
}

func (b *SQLiteBackend) ListConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *SQLiteBackend) LoadIndex(ctx context.Context) ([]IndexEntry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, title, timestamp, location FROM conversation_index
		ORDER BY timestamp DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Title, &ts, &e.Location); err != nil {
			return nil, fmt.Errorf("scanning index entry: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing index timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveIndex replaces the whole index in one transaction.
func (b *SQLiteBackend) SaveIndex(ctx context.Context, entries []IndexEntry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_index`); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_index (id, title, timestamp, location) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing index insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Title, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Location); err != nil {
			return fmt.Errorf("inserting index entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
