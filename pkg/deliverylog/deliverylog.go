// Package deliverylog persists the outcome of every notification send.
package deliverylog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// AllChats matches every chat in CountSince.
const AllChats = "*"

// Log records and queries delivery outcomes.
type Log interface {
	// Record stores a delivery record, assigning an ID and timestamp if unset.
	Record(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error)
	// Recent returns the latest records, newest first.
	Recent(ctx context.Context, limit int) ([]models.DeliveryRecord, error)
	// Query returns records matching q, newest first.
	Query(ctx context.Context, q models.DeliveryQuery) ([]models.DeliveryRecord, error)
	// CountSince counts sent messages for a chat (or AllChats) since a given time.
	CountSince(ctx context.Context, chatID string, since time.Time) (int64, error)
	// Stats returns per-day counts grouped by status.
	Stats(ctx context.Context) ([]models.DeliveryStat, error)
	// Cleanup deletes records older than before.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	// Close releases resources.
	Close() error
}

// SQLiteLog implements Log with a SQLite database.
type SQLiteLog struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS deliveries (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	transport TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_chat_time ON deliveries(chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at);
`

// New opens (or creates) the delivery log at dbPath and runs auto-migration.
func New(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open delivery log: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate delivery log: %w", err)
	}

	return &SQLiteLog{db: db}, nil
}

// Record stores a delivery record.
func (l *SQLiteLog) Record(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, message_id, chat_id, transport, status, error, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MessageID, rec.ChatID, rec.Transport, string(rec.Status), rec.Error, rec.Attempts, rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("record delivery: %w", err)
	}
	return rec, nil
}

// Recent returns the latest limit records, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	return l.Query(ctx, models.DeliveryQuery{Limit: limit})
}

// Query returns records matching q, newest first. A non-positive limit
// defaults to 100.
func (l *SQLiteLog) Query(ctx context.Context, q models.DeliveryQuery) ([]models.DeliveryRecord, error) {
	query := `SELECT id, message_id, chat_id, transport, status, error, attempts, created_at
		FROM deliveries WHERE 1=1`
	var args []any

	if q.ChatID != "" {
		query += " AND chat_id = ?"
		args = append(args, q.ChatID)
	}
	if q.Status != "" {
		query += " AND status = ?"
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, q.Since.UTC())
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var records []models.DeliveryRecord
	for rows.Next() {
		var r models.DeliveryRecord
		var status string
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ChatID, &r.Transport, &status, &r.Error, &r.Attempts, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		r.Status = models.DeliveryStatus(status)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountSince counts messages sent to chatID since a given time. Failed and
// rejected sends are not counted.
func (l *SQLiteLog) CountSince(ctx context.Context, chatID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM deliveries WHERE status = ? AND created_at >= ?`
	args := []any{string(models.DeliverySent), since.UTC()}
	if chatID != AllChats {
		query += ` AND chat_id = ?`
		args = append(args, chatID)
	}

	var n int64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}

// Stats returns per-day counts grouped by status, newest day first.
func (l *SQLiteLog) Stats(ctx context.Context) ([]models.DeliveryStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT date(substr(created_at, 1, 10)) AS day, status, COUNT(*)
		 FROM deliveries GROUP BY day, status ORDER BY day DESC, status`)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	defer rows.Close()

	var stats []models.DeliveryStat
	for rows.Next() {
		var s models.DeliveryStat
		var day sql.NullString
		var status string
		if err := rows.Scan(&day, &status, &s.Count); err != nil {
			return nil, fmt.Errorf("scan delivery stat: %w", err)
		}
		s.Day = day.String
		s.Status = models.DeliveryStatus(status)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records created before the cutoff.
func (l *SQLiteLog) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delivery cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
