// Package store defines the boundary toward the underlying content
// persistence, together with SQLite, Postgres and in-memory
// implementations. Every operation is node-scoped: one store serves all
// nodes of the local cluster.
package store

import (
	"context"

	"contentsync/internal/model"
)

// Filter narrows List results.
type Filter struct {
	Type   string
	Status string
	// Search matches against name and title, implementation-defined.
	Search string
	Limit  int
}

// Store is the persistence contract the synchronization engines depend on.
// Lookups that find nothing return common.ErrNotFound; callers must check.
type Store interface {
	// Get loads one object with its meta bag.
	Get(ctx context.Context, nodeID, id int64) (*model.Post, error)

	// Create persists a new object including its meta bag and returns
	// the assigned id.
	Create(ctx context.Context, nodeID int64, post *model.Post) (int64, error)

	// Update overwrites an existing object's fields and meta bag.
	Update(ctx context.Context, nodeID int64, post *model.Post) error

	// Delete removes an object. permanent=false moves it to trash
	// (status "trash"); permanent=true erases it and its meta.
	Delete(ctx context.Context, nodeID, id int64, permanent bool) error

	// FindByName locates an object by (name, type).
	FindByName(ctx context.Context, nodeID int64, name, typ string) (*model.Post, error)

	// FindByMeta lists objects carrying the exact meta key/value pair.
	FindByMeta(ctx context.Context, nodeID int64, key, value string) ([]*model.Post, error)

	// List returns objects matching the filter.
	List(ctx context.Context, nodeID int64, f Filter) ([]*model.Post, error)

	// SetMeta writes one meta value.
	SetMeta(ctx context.Context, nodeID, id int64, key, value string) error

	// DeleteMeta removes one meta key. Removing an absent key is not an
	// error.
	DeleteMeta(ctx context.Context, nodeID, id int64, key string) error

	// TermsOf returns the terms assigned to an object, grouped by
	// taxonomy, with parent chains inlined.
	TermsOf(ctx context.Context, nodeID, id int64) (map[string][]model.Term, error)

	// TermsOfTaxonomy returns every term of a taxonomy with parent
	// chains inlined.
	TermsOfTaxonomy(ctx context.Context, nodeID int64, taxonomy string) ([]model.Term, error)

	// Term loads one term with its parent chain.
	Term(ctx context.Context, nodeID, termID int64) (*model.Term, error)

	// EnsureTerm creates the term (and any missing ancestors) unless a
	// term with the same slug already exists in the taxonomy, and
	// returns its id either way.
	EnsureTerm(ctx context.Context, nodeID int64, term model.Term) (int64, error)

	// AssignTerms attaches terms of one taxonomy to an object,
	// replacing previous assignments in that taxonomy.
	AssignTerms(ctx context.Context, nodeID, id int64, taxonomy string, termIDs []int64) error
}
