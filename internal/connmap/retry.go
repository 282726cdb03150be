package connmap

import (
	"context"
	"sync"
	"time"

	"contentsync/internal/dbx"
)

// Op is a queued mutation kind.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Retry is one deferred remote mutation.
type Retry struct {
	ID      int64
	GID     string
	Op      Op
	Payload Payload
	Created time.Time
}

// RetryQueue persists mutations whose origin node was unreachable.
type RetryQueue interface {
	Enqueue(ctx context.Context, r Retry) error
	List(ctx context.Context) ([]Retry, error)
	Delete(ctx context.Context, id int64) error
}

// SQLQueue stores retries in the connmap_retries table.
type SQLQueue struct {
	db     dbx.DBTX
	driver string
}

func NewSQLQueue(db dbx.DBTX, driver string) *SQLQueue {
	return &SQLQueue{db: db, driver: driver}
}

func (q *SQLQueue) q(query string) string {
	return dbx.Rebind(q.driver, query)
}

func (q *SQLQueue) Enqueue(ctx context.Context, r Retry) error {
	_, err := q.db.ExecContext(ctx, q.q(`
		INSERT INTO connmap_retries
			(gid, op, dest_node_id, content_id, remote_addr, edit_url, site_url, display_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.GID, string(r.Op), r.Payload.NodeID, r.Payload.ContentID,
		r.Payload.Address, r.Payload.EditURL, r.Payload.SiteURL, r.Payload.DisplayURL,
		time.Now().UTC())
	return err
}

func (q *SQLQueue) List(ctx context.Context) ([]Retry, error) {
	rows, err := q.db.QueryContext(ctx, q.q(`
		SELECT id, gid, op, dest_node_id, content_id, remote_addr, edit_url, site_url, display_url, created_at
		FROM connmap_retries ORDER BY id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Retry
	for rows.Next() {
		var r Retry
		var op string
		if err := rows.Scan(&r.ID, &r.GID, &op,
			&r.Payload.NodeID, &r.Payload.ContentID, &r.Payload.Address,
			&r.Payload.EditURL, &r.Payload.SiteURL, &r.Payload.DisplayURL,
			&r.Created); err != nil {
			return nil, err
		}
		r.Op = Op(op)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *SQLQueue) Delete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, q.q(`DELETE FROM connmap_retries WHERE id = ?`), id)
	return err
}

var _ RetryQueue = (*SQLQueue)(nil)
var _ RetryQueue = (*MemoryQueue)(nil)

// MemoryQueue is the in-memory RetryQueue used by tests and the
// archive-only CLI mode.
type MemoryQueue struct {
	mu     sync.Mutex
	nextID int64
	items  []Retry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{nextID: 1}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, r Retry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	r.ID = q.nextID
	q.nextID++
	if r.Created.IsZero() {
		r.Created = time.Now().UTC()
	}
	q.items = append(q.items, r)
	return nil
}

func (q *MemoryQueue) List(ctx context.Context) ([]Retry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Retry, len(q.items))
	copy(out, q.items)
	return out, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.items {
		if r.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return nil
}
