package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outbox_messages (
	id              TEXT PRIMARY KEY,
	topic           TEXT NOT NULL,
	msg_key         TEXT NOT NULL DEFAULT '',
	payload         BLOB NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	next_attempt_at INTEGER NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	delivered_at    INTEGER
);
CREATE INDEX IF NOT EXISTS outbox_messages_due ON outbox_messages (status, next_attempt_at);
`

// SQLiteStore is a durable local spool. Times are stored as Unix nanoseconds
// so that due-ness is a plain integer comparison.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the spool database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox database %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY between the enqueueing engines and the dispatcher.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize outbox schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type messageRow struct {
	ID            string        `db:"id"`
	Topic         string        `db:"topic"`
	Key           string        `db:"msg_key"`
	Payload       []byte        `db:"payload"`
	Attempts      int           `db:"attempts"`
	Status        string        `db:"status"`
	NextAttemptAt int64         `db:"next_attempt_at"`
	LastError     string        `db:"last_error"`
	CreatedAt     int64         `db:"created_at"`
	DeliveredAt   sql.NullInt64 `db:"delivered_at"`
}

func toRow(m *Message) messageRow {
	r := messageRow{
		ID:            m.ID,
		Topic:         m.Topic,
		Key:           m.Key,
		Payload:       m.Payload,
		Attempts:      m.Attempts,
		Status:        string(m.Status),
		NextAttemptAt: m.NextAttemptAt.UnixNano(),
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt.UnixNano(),
	}
	if m.DeliveredAt != nil {
		r.DeliveredAt = sql.NullInt64{Int64: m.DeliveredAt.UnixNano(), Valid: true}
	}
	return r
}

func (r messageRow) message() Message {
	m := Message{
		ID:            r.ID,
		Topic:         r.Topic,
		Key:           r.Key,
		Payload:       r.Payload,
		Attempts:      r.Attempts,
		Status:        Status(r.Status),
		NextAttemptAt: time.Unix(0, r.NextAttemptAt).UTC(),
		LastError:     r.LastError,
		CreatedAt:     time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.DeliveredAt.Valid {
		at := time.Unix(0, r.DeliveredAt.Int64).UTC()
		m.DeliveredAt = &at
	}
	return m
}

func (s *SQLiteStore) Enqueue(ctx context.Context, msg *Message) error {
	const q = `
		INSERT INTO outbox_messages
			(id, topic, msg_key, payload, attempts, status, next_attempt_at, last_error, created_at, delivered_at)
		VALUES
			(:id, :topic, :msg_key, :payload, :attempts, :status, :next_attempt_at, :last_error, :created_at, :delivered_at)
	`
	if _, err := s.db.NamedExecContext(ctx, q, toRow(msg)); err != nil {
		return fmt.Errorf("failed to enqueue %s message: %w", msg.Topic, err)
	}
	return nil
}

func (s *SQLiteStore) Due(ctx context.Context, now time.Time, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM outbox_messages
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?
	`, string(StatusPending), now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read due outbox messages: %w", err)
	}
	return toMessages(rows), nil
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = ?, attempts = attempts + 1, last_error = '', delivered_at = ?
		WHERE id = ?
	`, string(StatusDelivered), at.UnixNano(), id)
	return checkUpdated(res, err, id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string, dead bool) error {
	status := StatusPending
	if dead {
		status = StatusDead
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?
		WHERE id = ?
	`, string(status), attempts, next.UnixNano(), lastErr, id)
	return checkUpdated(res, err, id)
}

func (s *SQLiteStore) List(ctx context.Context, status Status) ([]Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM outbox_messages
		WHERE ? = '' OR status = ?
		ORDER BY created_at, id
	`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox messages: %w", err)
	}
	return toMessages(rows), nil
}

func toMessages(rows []messageRow) []Message {
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = r.message()
	}
	return out
}

func checkUpdated(res sql.Result, err error, id string) error {
	if err != nil {
		return fmt.Errorf("failed to update outbox message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update outbox message %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrMessageNotFound)
	}
	return nil
}
