package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contentsync/internal/common"
	"contentsync/internal/dbx"
	"contentsync/internal/model"
)

// SQL implements Store on top of database/sql. Queries are written with
// '?' placeholders and rebound per driver, so the same code serves the
// SQLite and Postgres backends.
type SQL struct {
	db     *sql.DB
	driver string
}

// NewSQL returns a Store over an open database handle. driver is the
// database/sql driver name ("sqlite3" or "pgx").
func NewSQL(db *sql.DB, driver string) *SQL {
	return &SQL{db: db, driver: driver}
}

func (s *SQL) q(query string) string {
	return dbx.Rebind(s.driver, query)
}

func (s *SQL) Get(ctx context.Context, nodeID, id int64) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`select id, name, title, type, status, content, excerpt, parent_id, created, modified
		 from posts where node_id=? and id=?`), nodeID, id)

	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	if err := s.loadMeta(ctx, nodeID, p); err != nil {
		return nil, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (*model.Post, error) {
	p := &model.Post{}
	err := r.Scan(&p.ID, &p.Name, &p.Title, &p.Type, &p.Status,
		&p.Content, &p.Excerpt, &p.ParentID, &p.Created, &p.Modified)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQL) loadMeta(ctx context.Context, nodeID int64, p *model.Post) error {
	rows, err := s.db.QueryContext(ctx, s.q(
		`select key, value from post_meta where node_id=? and post_id=?`), nodeID, p.ID)
	if err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		p.SetMeta(k, v)
	}
	return rows.Err()
}

func (s *SQL) Create(ctx context.Context, nodeID int64, post *model.Post) (int64, error) {
	var id int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row := tx.QueryRowContext(ctx, s.q(
			`insert into posts (node_id, name, title, type, status, content, excerpt, parent_id, created, modified)
			 values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) returning id`),
			nodeID, post.Name, post.Title, post.Type, post.Status,
			post.Content, post.Excerpt, post.ParentID, post.Created, post.Modified)
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		return s.writeMeta(ctx, tx, nodeID, id, post.Meta)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQL) writeMeta(ctx context.Context, tx dbx.DBTX, nodeID, id int64, meta map[string]string) error {
	for k, v := range meta {
		_, err := tx.ExecContext(ctx, s.q(
			`insert into post_meta (node_id, post_id, key, value) values (?, ?, ?, ?)
			 on conflict (node_id, post_id, key) do update set value = excluded.value`),
			nodeID, id, k, v)
		if err != nil {
			return fmt.Errorf("write meta %q: %w", k, err)
		}
	}
	return nil
}

func (s *SQL) Update(ctx context.Context, nodeID int64, post *model.Post) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, s.q(
			`update posts set name=?, title=?, type=?, status=?, content=?, excerpt=?, parent_id=?, modified=?
			 where node_id=? and id=?`),
			post.Name, post.Title, post.Type, post.Status, post.Content,
			post.Excerpt, post.ParentID, post.Modified, nodeID, post.ID)
		if err != nil {
			return fmt.Errorf("update post: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ra == 0 {
			return fmt.Errorf("post %d on node %d: %w", post.ID, nodeID, common.ErrNotFound)
		}
		// replace the meta bag wholesale; Update owns the full object
		if _, err := tx.ExecContext(ctx, s.q(
			`delete from post_meta where node_id=? and post_id=?`), nodeID, post.ID); err != nil {
			return fmt.Errorf("clear meta: %w", err)
		}
		return s.writeMeta(ctx, tx, nodeID, post.ID, post.Meta)
	})
}

func (s *SQL) Delete(ctx context.Context, nodeID, id int64, permanent bool) error {
	if !permanent {
		res, err := s.db.ExecContext(ctx, s.q(
			`update posts set status='trash' where node_id=? and id=?`), nodeID, id)
		if err != nil {
			return fmt.Errorf("trash post: %w", err)
		}
		ra, _ := res.RowsAffected()
		if ra == 0 {
			return fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
		}
		return nil
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, s.q(
			`delete from posts where node_id=? and id=?`), nodeID, id)
		if err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		ra, _ := res.RowsAffected()
		if ra == 0 {
			return fmt.Errorf("post %d on node %d: %w", id, nodeID, common.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, s.q(
			`delete from post_meta where node_id=? and post_id=?`), nodeID, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(
			`delete from post_terms where node_id=? and post_id=?`), nodeID, id)
		return err
	})
}

func (s *SQL) FindByName(ctx context.Context, nodeID int64, name, typ string) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`select id, name, title, type, status, content, excerpt, parent_id, created, modified
		 from posts where node_id=? and name=? and type=? and status != 'trash'`), nodeID, name, typ)

	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("post %q (%s) on node %d: %w", name, typ, nodeID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("find by name: %w", err)
	}
	if err := s.loadMeta(ctx, nodeID, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQL) FindByMeta(ctx context.Context, nodeID int64, key, value string) ([]*model.Post, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`select p.id, p.name, p.title, p.type, p.status, p.content, p.excerpt, p.parent_id, p.created, p.modified
		 from posts p join post_meta m on m.node_id = p.node_id and m.post_id = p.id
		 where p.node_id=? and m.key=? and m.value=? order by p.id`), nodeID, key, value)
	if err != nil {
		return nil, fmt.Errorf("find by meta: %w", err)
	}
	defer rows.Close()

	return s.collect(ctx, nodeID, rows)
}

func (s *SQL) collect(ctx context.Context, nodeID int64, rows *sql.Rows) ([]*model.Post, error) {
	var out []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range out {
		if err := s.loadMeta(ctx, nodeID, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQL) List(ctx context.Context, nodeID int64, f Filter) ([]*model.Post, error) {
	query := `select id, name, title, type, status, content, excerpt, parent_id, created, modified
	          from posts where node_id=?`
	args := []any{nodeID}
	if f.Type != "" {
		query += ` and type=?`
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += ` and status=?`
		args = append(args, f.Status)
	}
	if f.Search != "" {
		query += ` and (name like ? or title like ?)`
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}
	query += ` order by id`
	if f.Limit > 0 {
		query += ` limit ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	return s.collect(ctx, nodeID, rows)
}

func (s *SQL) SetMeta(ctx context.Context, nodeID, id int64, key, value string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.writeMeta(ctx, tx, nodeID, id, map[string]string{key: value})
	})
}

func (s *SQL) DeleteMeta(ctx context.Context, nodeID, id int64, key string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`delete from post_meta where node_id=? and post_id=? and key=?`), nodeID, id, key)
	if err != nil {
		return fmt.Errorf("delete meta %q: %w", key, err)
	}
	return nil
}

func (s *SQL) TermsOf(ctx context.Context, nodeID, id int64) (map[string][]model.Term, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`select pt.taxonomy, pt.term_id from post_terms pt
		 where pt.node_id=? and pt.post_id=? order by pt.term_id`), nodeID, id)
	if err != nil {
		return nil, fmt.Errorf("terms of post: %w", err)
	}
	defer rows.Close()

	type row struct {
		taxonomy string
		termID   int64
	}
	var assigned []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.taxonomy, &r.termID); err != nil {
			return nil, err
		}
		assigned = append(assigned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string][]model.Term)
	for _, r := range assigned {
		t, err := s.Term(ctx, nodeID, r.termID)
		if err != nil {
			return nil, err
		}
		out[r.taxonomy] = append(out[r.taxonomy], *t)
	}
	return out, nil
}

func (s *SQL) TermsOfTaxonomy(ctx context.Context, nodeID int64, taxonomy string) ([]model.Term, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`select id from terms where node_id=? and taxonomy=? order by id`), nodeID, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("terms of taxonomy: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Term, 0, len(ids))
	for _, id := range ids {
		t, err := s.Term(ctx, nodeID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *SQL) Term(ctx context.Context, nodeID, termID int64) (*model.Term, error) {
	t := &model.Term{}
	var parentID int64
	err := s.db.QueryRowContext(ctx, s.q(
		`select id, name, slug, taxonomy, parent_id from terms where node_id=? and id=?`),
		nodeID, termID).Scan(&t.ID, &t.Name, &t.Slug, &t.Taxonomy, &parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("term %d on node %d: %w", termID, nodeID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("get term: %w", err)
	}
	if parentID != 0 {
		parent, err := s.Term(ctx, nodeID, parentID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		t.Parent = parent
	}
	return t, nil
}

func (s *SQL) EnsureTerm(ctx context.Context, nodeID int64, term model.Term) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(
		`select id from terms where node_id=? and taxonomy=? and slug=?`),
		nodeID, term.Taxonomy, term.Slug).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup term: %w", err)
	}

	var parentID int64
	if term.Parent != nil {
		parentID, err = s.EnsureTerm(ctx, nodeID, *term.Parent)
		if err != nil {
			return 0, err
		}
	}

	err = s.db.QueryRowContext(ctx, s.q(
		`insert into terms (node_id, name, slug, taxonomy, parent_id) values (?, ?, ?, ?, ?) returning id`),
		nodeID, term.Name, term.Slug, term.Taxonomy, parentID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert term: %w", err)
	}
	return id, nil
}

func (s *SQL) AssignTerms(ctx context.Context, nodeID, id int64, taxonomy string, termIDs []int64) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, s.q(
			`delete from post_terms where node_id=? and post_id=? and taxonomy=?`),
			nodeID, id, taxonomy); err != nil {
			return fmt.Errorf("clear term assignments: %w", err)
		}
		for _, tid := range termIDs {
			if _, err := tx.ExecContext(ctx, s.q(
				`insert into post_terms (node_id, post_id, taxonomy, term_id) values (?, ?, ?, ?)`),
				nodeID, id, taxonomy, tid); err != nil {
				return fmt.Errorf("assign term %d: %w", tid, err)
			}
		}
		return nil
	})
}
