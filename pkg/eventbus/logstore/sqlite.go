package logstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteWriter persists the log to SQLite, one table per partition.
// It is suitable for single-process production use.
type SQLiteWriter struct {
	db        *sql.DB
	mu        sync.RWMutex
	closed    bool
	compactor *Compactor
}

var _ Writer = (*SQLiteWriter)(nil)

// NewSQLiteWriter opens (or creates) a log store.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteWriter(path string, opts ...Option) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	for _, p := range []Partition{PartitionUnsent, PartitionSent} {
		if _, err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				ts INTEGER NOT NULL,
				data BLOB NOT NULL
			)
		`, p)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", p, err)
		}
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_sent_ts ON sent(ts)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	w := &SQLiteWriter{db: db}
	w.compactor = StartCompactor(w.FlushSentMessages, ResolveOptions(opts...))
	return w, nil
}

// PutMessage implements Writer.
func (w *SQLiteWriter) PutMessage(ctx context.Context, msg *message.Message) error {
	key := msg.Key()
	data, err := msg.MarshalJSON()
	if err != nil {
		return &WriteError{Op: "put", Key: key, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &WriteError{Op: "put", Key: key, Err: ErrStoreClosed}
	}

	// A key that already reached sent must not reappear in unsent.
	_, err = w.db.ExecContext(ctx, `
		INSERT INTO unsent (key, ts, data)
		SELECT ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM sent WHERE key = ?)
		ON CONFLICT(key) DO NOTHING
	`, key, msg.Timestamp().UnixMilli(), data, key)
	if err != nil {
		return &WriteError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// ConfirmMessageSent implements Writer.
func (w *SQLiteWriter) ConfirmMessageSent(ctx context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return &WriteError{Op: "confirm", Key: key, Err: ErrStoreClosed}
	}

	if err := w.confirm(ctx, key); err != nil {
		return &WriteError{Op: "confirm", Key: key, Err: err}
	}
	return nil
}

func (w *SQLiteWriter) confirm(ctx context.Context, key string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var ts int64
	var data []byte
	err = tx.QueryRowContext(ctx, `SELECT ts, data FROM unsent WHERE key = ?`, key).Scan(&ts, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read unsent: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM unsent WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete unsent: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sent (key, ts, data) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET ts = excluded.ts, data = excluded.data
	`, key, ts, data); err != nil {
		return fmt.Errorf("insert sent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Messages implements Writer.
func (w *SQLiteWriter) Messages(ctx context.Context) ([]*message.Message, error) {
	return w.list(ctx, `
		SELECT key, data FROM unsent
		UNION ALL
		SELECT key, data FROM sent
		ORDER BY key
	`)
}

// MessagesSent implements Writer.
func (w *SQLiteWriter) MessagesSent(ctx context.Context) ([]*message.Message, error) {
	return w.list(ctx, `SELECT key, data FROM sent ORDER BY key`)
}

// MessagesUnsent implements Writer.
func (w *SQLiteWriter) MessagesUnsent(ctx context.Context) ([]*message.Message, error) {
	return w.list(ctx, `SELECT key, data FROM unsent ORDER BY key`)
}

func (w *SQLiteWriter) list(ctx context.Context, query string) ([]*message.Message, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrStoreClosed
	}

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg, err := DecodeEntry(key, data)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// RecoverUnsentMessages implements Writer.
func (w *SQLiteWriter) RecoverUnsentMessages(ctx context.Context) ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrStoreClosed
	}

	rows, err := w.db.QueryContext(ctx, `SELECT key FROM unsent ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list unsent keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// FlushSentMessages implements Writer.
func (w *SQLiteWriter) FlushSentMessages(ctx context.Context, ageLimit time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrStoreClosed
	}

	res, err := w.db.ExecContext(ctx, `DELETE FROM sent WHERE ts < ?`, Cutoff(time.Now(), ageLimit))
	if err != nil {
		return 0, fmt.Errorf("flush sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flush sent: %w", err)
	}
	return int(n), nil
}

// Close implements Writer.
func (w *SQLiteWriter) Close() error {
	// Outside the lock: an in-flight sweep holds it until it returns.
	w.compactor.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	return w.db.Close()
}
