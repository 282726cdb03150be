package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"contentsync/internal/common"
	"contentsync/internal/dbx"
	"contentsync/internal/gid"
)

// Registry stores established peer connections.
type Registry interface {
	// Add inserts or replaces the connection for its address.
	Add(ctx context.Context, conn *Connection) error

	// ByAddress finds a connection; the address is canonicalized first.
	ByAddress(ctx context.Context, address string) (*Connection, error)

	// ByLogin finds the connection presenting the given login.
	ByLogin(ctx context.Context, login string) (*Connection, error)

	// List returns all connections.
	List(ctx context.Context) ([]*Connection, error)

	// Remove drops the connection for an address.
	Remove(ctx context.Context, address string) error
}

// SQLRegistry persists connections with the secret sealed at rest.
type SQLRegistry struct {
	db     *sql.DB
	driver string
	key    []byte
}

// NewSQLRegistry returns a registry over an open handle. key is the
// 32-byte sealing key for stored secrets.
func NewSQLRegistry(db *sql.DB, driver string, key []byte) *SQLRegistry {
	return &SQLRegistry{db: db, driver: driver, key: key}
}

func (r *SQLRegistry) q(query string) string {
	return dbx.Rebind(r.driver, query)
}

func (r *SQLRegistry) Add(ctx context.Context, conn *Connection) error {
	sealed, err := SealSecret(r.key, conn.Secret)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.q(
		`insert into connections (address, login, secret, added_at) values (?, ?, ?, ?)
		 on conflict (address) do update set login = excluded.login,
		 secret = excluded.secret, added_at = excluded.added_at`),
		gid.CanonicalAddr(conn.Address), conn.Login, sealed, conn.AddedAt)
	if err != nil {
		return fmt.Errorf("add connection: %w", err)
	}
	return nil
}

func (r *SQLRegistry) scan(row *sql.Row) (*Connection, error) {
	c := &Connection{}
	var sealed []byte
	if err := row.Scan(&c.ID, &c.Address, &c.Login, &sealed, &c.AddedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connection: %w", common.ErrNotFound)
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	secret, err := OpenSecret(r.key, sealed)
	if err != nil {
		return nil, err
	}
	c.Secret = secret
	return c, nil
}

func (r *SQLRegistry) ByAddress(ctx context.Context, address string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx, r.q(
		`select id, address, login, secret, added_at from connections where address=?`),
		gid.CanonicalAddr(address))
	return r.scan(row)
}

func (r *SQLRegistry) ByLogin(ctx context.Context, login string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx, r.q(
		`select id, address, login, secret, added_at from connections where login=?`), login)
	return r.scan(row)
}

func (r *SQLRegistry) List(ctx context.Context) ([]*Connection, error) {
	rows, err := r.db.QueryContext(ctx, r.q(
		`select id, address, login, secret, added_at from connections order by address`))
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*Connection
	for rows.Next() {
		c := &Connection{}
		var sealed []byte
		if err := rows.Scan(&c.ID, &c.Address, &c.Login, &sealed, &c.AddedAt); err != nil {
			return nil, err
		}
		secret, err := OpenSecret(r.key, sealed)
		if err != nil {
			return nil, err
		}
		c.Secret = secret
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRegistry) Remove(ctx context.Context, address string) error {
	res, err := r.db.ExecContext(ctx, r.q(
		`delete from connections where address=?`), gid.CanonicalAddr(address))
	if err != nil {
		return fmt.Errorf("remove connection: %w", err)
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return fmt.Errorf("connection %s: %w", address, common.ErrNotFound)
	}
	return nil
}

// MemoryRegistry is the in-memory Registry used by tests.
type MemoryRegistry struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{conns: make(map[string]*Connection)}
}

func (r *MemoryRegistry) Add(ctx context.Context, conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *conn
	c.Address = gid.CanonicalAddr(c.Address)
	r.conns[c.Address] = &c
	return nil
}

func (r *MemoryRegistry) ByAddress(ctx context.Context, address string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[gid.CanonicalAddr(address)]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", address, common.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRegistry) ByLogin(ctx context.Context, login string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.Login == login {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("connection for login %q: %w", login, common.ErrNotFound)
}

func (r *MemoryRegistry) List(ctx context.Context) ([]*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRegistry) Remove(ctx context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := gid.CanonicalAddr(address)
	if _, ok := r.conns[addr]; !ok {
		return fmt.Errorf("connection %s: %w", address, common.ErrNotFound)
	}
	delete(r.conns, addr)
	return nil
}
