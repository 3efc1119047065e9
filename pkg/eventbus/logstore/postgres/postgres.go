// Package postgres implements logstore.Writer backed by PostgreSQL.
//
// It is meant to run next to a local SQLite log as a second, independent
// copy of the event history. The bus writes to both and unions their
// query results by event id.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/randalmurphal/eventbus/pkg/eventbus/logstore"
	"github.com/randalmurphal/eventbus/pkg/eventbus/message"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Writer implements logstore.Writer on two PostgreSQL tables.
type Writer struct {
	db        *sql.DB
	mu        sync.RWMutex
	closed    bool
	compactor *logstore.Compactor
}

// Compile-time check that Writer implements logstore.Writer.
var _ logstore.Writer = (*Writer)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(ctx context.Context, databaseURL string, opts ...logstore.Option) (*Writer, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an already migrated database handle. The Writer owns db
// and closes it on Close.
func NewWithDB(db *sql.DB, opts ...logstore.Option) *Writer {
	w := &Writer{db: db}
	w.compactor = logstore.StartCompactor(w.FlushSentMessages, logstore.ResolveOptions(opts...))
	return w
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// enter takes the read side of the close lock. Callers must call the
// returned release func.
func (w *Writer) enter() (func(), error) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil, logstore.ErrStoreClosed
	}
	return w.mu.RUnlock, nil
}

// PutMessage implements logstore.Writer.
func (w *Writer) PutMessage(ctx context.Context, msg *message.Message) error {
	key := msg.Key()
	data, err := msg.MarshalJSON()
	if err != nil {
		return &logstore.WriteError{Op: "put", Key: key, Err: err}
	}

	release, err := w.enter()
	if err != nil {
		return &logstore.WriteError{Op: "put", Key: key, Err: err}
	}
	defer release()

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO eventbus_unsent (key, ts, data)
		SELECT $1::text, $2::bigint, $3::text
		WHERE NOT EXISTS (SELECT 1 FROM eventbus_sent WHERE key = $1)
		ON CONFLICT (key) DO NOTHING`,
		key, msg.Timestamp().UnixMilli(), string(data))
	if err != nil {
		return &logstore.WriteError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// ConfirmMessageSent implements logstore.Writer. The move is a single
// statement, so it is atomic without an explicit transaction.
func (w *Writer) ConfirmMessageSent(ctx context.Context, key string) error {
	release, err := w.enter()
	if err != nil {
		return &logstore.WriteError{Op: "confirm", Key: key, Err: err}
	}
	defer release()

	_, err = w.db.ExecContext(ctx, `
		WITH moved AS (
			DELETE FROM eventbus_unsent WHERE key = $1 RETURNING key, ts, data
		)
		INSERT INTO eventbus_sent (key, ts, data)
		SELECT key, ts, data FROM moved
		ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return &logstore.WriteError{Op: "confirm", Key: key, Err: err}
	}
	return nil
}

// Messages implements logstore.Writer. Keys are ordered with COLLATE "C"
// so locale rules cannot reorder them.
func (w *Writer) Messages(ctx context.Context) ([]*message.Message, error) {
	return w.list(ctx, `
		SELECT key, data FROM eventbus_unsent
		UNION ALL
		SELECT key, data FROM eventbus_sent
		ORDER BY key COLLATE "C"`)
}

// MessagesSent implements logstore.Writer.
func (w *Writer) MessagesSent(ctx context.Context) ([]*message.Message, error) {
	return w.list(ctx, `SELECT key, data FROM eventbus_sent ORDER BY key COLLATE "C"`)
}

// MessagesUnsent implements logstore.Writer.
func (w *Writer) MessagesUnsent(ctx context.Context) ([]*message.Message, error) {
	return w.list(ctx, `SELECT key, data FROM eventbus_unsent ORDER BY key COLLATE "C"`)
}

func (w *Writer) list(ctx context.Context, query string) ([]*message.Message, error) {
	release, err := w.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg, err := logstore.DecodeEntry(key, []byte(data))
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

// RecoverUnsentMessages implements logstore.Writer.
func (w *Writer) RecoverUnsentMessages(ctx context.Context) ([]string, error) {
	release, err := w.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := w.db.QueryContext(ctx, `SELECT key FROM eventbus_unsent ORDER BY key COLLATE "C"`)
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

// FlushSentMessages implements logstore.Writer.
func (w *Writer) FlushSentMessages(ctx context.Context, ageLimit time.Duration) (int, error) {
	release, err := w.enter()
	if err != nil {
		return 0, err
	}
	defer release()

	res, err := w.db.ExecContext(ctx, `DELETE FROM eventbus_sent WHERE ts < $1`,
		logstore.Cutoff(time.Now(), ageLimit))
	if err != nil {
		return 0, fmt.Errorf("flush sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flush sent: %w", err)
	}
	return int(n), nil
}

// Close implements logstore.Writer.
func (w *Writer) Close() error {
	w.compactor.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.db.Close()
}
