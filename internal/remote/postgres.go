package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"buddyband/internal/retry"
)

const notifyChannel = "records_changed"

// PostgresBackend keeps documents in a single jsonb table and announces
// changes with NOTIFY, the collection name as payload. All watchers share
// one LISTEN connection, opened by the first Watch.
type PostgresBackend struct {
	db    *sql.DB
	log   *zap.Logger
	feeds *hub

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewPostgresBackend builds a backend on a pgx-backed *sql.DB.
func NewPostgresBackend(db *sql.DB, log *zap.Logger) *PostgresBackend {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PostgresBackend{
		db:     db,
		log:    log,
		feeds:  newHub(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// EnsureSchema creates the records table when missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			doc        JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, key)
		)
	`)
	return err
}

// Load returns every document of the collection ordered by key.
func (b *PostgresBackend) Load(ctx context.Context, collection string) (Snapshot, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key, doc FROM records WHERE collection = $1 ORDER BY key
	`, collection)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s: %w", collection, err)
	}
	defer rows.Close()

	snap := Snapshot{Collection: collection}
	for rows.Next() {
		var rec Record
		var doc []byte
		if err := rows.Scan(&rec.Key, &doc); err != nil {
			return Snapshot{}, err
		}
		rec.Data = json.RawMessage(doc)
		snap.Records = append(snap.Records, rec)
	}
	return snap, rows.Err()
}

// Get returns one document.
func (b *PostgresBackend) Get(ctx context.Context, collection, key string) (json.RawMessage, bool, error) {
	var doc []byte
	err := b.db.QueryRowContext(ctx, `
		SELECT doc FROM records WHERE collection = $1 AND key = $2
	`, collection, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(doc), true, nil
}

// Watch registers a change feed for collection until ctx is done.
func (b *PostgresBackend) Watch(ctx context.Context, collection string) (<-chan Notice, error) {
	ch, err := b.feeds.add(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", collection, err)
	}
	b.once.Do(func() { go b.listen() })
	return ch, nil
}

// listen holds the shared LISTEN connection, reconnecting with backoff
// until Close.
func (b *PostgresBackend) listen() {
	defer close(b.done)
	var backoff retry.Backoff
	for {
		err := b.listenOnce(b.ctx, backoff.Reset)
		if b.ctx.Err() != nil {
			return
		}
		b.log.Warn("postgres listener lost", zap.Error(err))
		b.feeds.broadcast(Notice{Err: err})
		if !backoff.Wait(b.ctx) {
			return
		}
	}
}

// listenOnce runs one LISTEN session. connected is called once the
// connection is listening.
func (b *PostgresBackend) listenOnce(ctx context.Context, connected func()) error {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	connected()
	// Notices sent while no connection was listening are gone.
	b.feeds.broadcast(Notice{})

	return conn.Raw(func(dc any) error {
		pc, ok := dc.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		for {
			n, err := pc.Conn().WaitForNotification(ctx)
			if err != nil {
				return err
			}
			b.feeds.notify(n.Payload, Notice{})
		}
	})
}

// Update merges fields into the document with jsonb concatenation and
// notifies listeners when the transaction commits.
func (b *PostgresBackend) Update(ctx context.Context, collection, key string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (collection, key, doc)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, key) DO UPDATE SET
			doc = records.doc || EXCLUDED.doc,
			updated_at = NOW()
	`, collection, key, string(patch)); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection); err != nil {
		return fmt.Errorf("notify %s: %w", collection, err)
	}
	return tx.Commit()
}

// Close stops the listener and ends every change feed. The pool is owned
// by the caller.
func (b *PostgresBackend) Close() error {
	b.cancel()
	b.once.Do(func() { close(b.done) })
	<-b.done
	b.feeds.close()
	return nil
}
