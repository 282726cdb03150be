// Package importer replays a prepared transfer set on a destination
// node: placeholders are re-internalized against the destination's own
// ids and URLs, content and assets are persisted, and the sync
// bookkeeping (status, connection registration, translation links) is
// updated afterward.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"contentsync/internal/assets"
	"contentsync/internal/common"
	"contentsync/internal/conflict"
	"contentsync/internal/gid"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/prepare"
	"contentsync/internal/store"
	"contentsync/internal/translation"
)

// AssetSource provides the binary file behind an asset reference.
type AssetSource interface {
	Open(ctx context.Context, ref *model.AssetRef) (io.ReadCloser, error)
}

// MapSource serves asset files from an in-memory map keyed by rel_path,
// as read back from a bundle archive.
type MapSource map[string][]byte

func (m MapSource) Open(ctx context.Context, ref *model.AssetRef) (io.ReadCloser, error) {
	data, ok := m[ref.RelPath]
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", ref.RelPath, common.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

// ConnectionRegistrar records this node as a linked copy in the root's
// connection map. The concrete implementation proxies to the origin node
// when the root lives elsewhere.
type ConnectionRegistrar interface {
	Register(ctx context.Context, node *nodectx.Node, rootGID string, localID int64) error
}

// Result is the outcome of one import batch. Already-persisted units
// stay persisted even when later units fail; delivery is at-least-once.
type Result struct {
	// Mapping is export-time id to destination id for every unit that
	// was written or matched.
	Mapping map[int64]int64
	// TermMapping is export-time term id to destination term id.
	TermMapping map[int64]int64
	// Failed maps export-time id to the failure message of units that
	// could not be persisted.
	Failed map[int64]string
	// Err carries the first failure, nil when the whole batch landed.
	Err error

	// connection registrations collected during the locked phase and
	// performed after release, so no network call holds the root lock
	pending []registration
}

type registration struct {
	rootGID string
	localID int64
}

func (r *Result) fail(id int64, err error) {
	if r.Err == nil {
		r.Err = err
	}
	r.Failed[id] = err.Error()
}

// Engine persists transfer sets.
type Engine struct {
	store        store.Store
	assets       assets.Store
	nodes        nodectx.Registry
	translations *translation.Registry
	connections  ConnectionRegistrar
	log          logging.Logger

	// one mutex per root GID: concurrent imports of different roots may
	// interleave, two imports of the same root never do
	mu    sync.Mutex
	roots map[string]*sync.Mutex
}

func New(st store.Store, as assets.Store, nodes nodectx.Registry, reg *translation.Registry, conns ConnectionRegistrar, log logging.Logger) *Engine {
	return &Engine{
		store:        st,
		assets:       as,
		nodes:        nodes,
		translations: reg,
		connections:  conns,
		log:          log,
		roots:        make(map[string]*sync.Mutex),
	}
}

func (e *Engine) rootLock(units []*model.PreparedUnit) *sync.Mutex {
	key := ""
	for _, u := range units {
		if u.IsRoot {
			key = u.GID
			break
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.roots[key]
	if !ok {
		m = &sync.Mutex{}
		e.roots[key] = m
	}
	return m
}

// Import replays units on node in the given order. decisions is the
// resolver's advice per export-time id; units without an entry insert.
// source provides asset bytes and may be nil when no unit carries one.
//
// A unit that fails to persist is recorded and the batch continues; the
// Result says which units landed and which did not.
func (e *Engine) Import(ctx context.Context, node *nodectx.Node, units []*model.PreparedUnit, decisions map[int64]conflict.Decision, source AssetSource) *Result {
	res := &Result{
		Mapping:     make(map[int64]int64),
		TermMapping: make(map[int64]int64),
		Failed:      make(map[int64]string),
	}

	lock := e.rootLock(units)
	lock.Lock()
	for _, unit := range units {
		if err := e.importUnit(ctx, node, unit, decisions[unit.ID], source, res); err != nil {
			e.log.Error(ctx, "unit failed", "id", unit.ID, "name", unit.Name, "err", err)
			res.fail(unit.ID, err)
		}
	}
	e.restoreHierarchy(ctx, node, units, res)
	e.linkTranslations(ctx, node, units, res)
	lock.Unlock()

	if e.connections != nil {
		for _, reg := range res.pending {
			if err := e.connections.Register(ctx, node, reg.rootGID, reg.localID); err != nil {
				e.log.Warn(ctx, "connection not registered", "gid", reg.rootGID, "err", err)
			}
		}
	}
	return res
}

func (e *Engine) importUnit(ctx context.Context, node *nodectx.Node, unit *model.PreparedUnit, d conflict.Decision, source AssetSource, res *Result) error {
	if d.NeedsChoice {
		return fmt.Errorf("name collision on %q (%s) needs an explicit action: %w",
			unit.Name, unit.Type, common.ErrValidation)
	}

	action := d.Action
	if action == "" {
		action = model.ActionInsert
	}

	switch action {
	case model.ActionSkip:
		if d.LocalID != 0 {
			res.Mapping[unit.ID] = d.LocalID
		}
		return nil
	case model.ActionTrash, model.ActionDelete:
		return e.applyTerminal(ctx, node, unit, action)
	case model.ActionInsert, model.ActionKeep, model.ActionReplace:
		return e.persistUnit(ctx, node, unit, action, d.LocalID, source, res)
	default:
		return fmt.Errorf("action %q: %w", action, common.ErrValidation)
	}
}

// applyTerminal trashes or permanently deletes the local copy carrying
// the unit's GID.
func (e *Engine) applyTerminal(ctx context.Context, node *nodectx.Node, unit *model.PreparedUnit, action model.Action) error {
	if unit.GID == "" {
		return fmt.Errorf("%s without a GID: %w", action, common.ErrValidation)
	}
	posts, err := e.store.FindByMeta(ctx, node.ID, common.MetaKeyGID, unit.GID)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		return fmt.Errorf("no local copy of %s: %w", unit.GID, common.ErrNotFound)
	}
	return e.store.Delete(ctx, node.ID, posts[0].ID, action == model.ActionDelete)
}

func (e *Engine) persistUnit(ctx context.Context, node *nodectx.Node, unit *model.PreparedUnit, action model.Action, localID int64, source AssetSource, res *Result) error {
	post := e.buildPost(node, unit, res)

	var newID int64
	switch {
	case action == model.ActionReplace && localID != 0:
		post.ID = localID
		if err := e.store.Update(ctx, node.ID, post); err != nil {
			return err
		}
		newID = localID
	default:
		id, err := e.store.Create(ctx, node.ID, post)
		if err != nil {
			return err
		}
		newID = id
	}
	res.Mapping[unit.ID] = newID

	if unit.Asset != nil {
		if err := e.copyAsset(ctx, unit.Asset, source); err != nil {
			e.log.Warn(ctx, "asset not copied", "path", unit.Asset.RelPath, "err", err)
		}
	}
	if err := e.attachTerms(ctx, node, unit, newID, res); err != nil {
		e.log.Warn(ctx, "terms not attached", "id", newID, "err", err)
	}
	return e.updateSyncStatus(ctx, node, unit, newID, res)
}

// buildPost assembles the destination row: placeholders resolved against
// everything imported earlier in this batch, dynamic tokens resolved to
// the destination's own URLs, meta refiltered.
func (e *Engine) buildPost(node *nodectx.Node, unit *model.PreparedUnit, res *Result) *model.Post {
	fromBatch := func(id int64) (int64, bool) {
		mapped, ok := res.Mapping[id]
		return mapped, ok
	}
	fromTermBatch := func(id int64) (int64, bool) {
		mapped, ok := res.TermMapping[id]
		return mapped, ok
	}
	internalize := func(s string) string {
		s = prepare.ReplaceContentPlaceholders(s, fromBatch)
		s = prepare.ReplaceTermPlaceholders(s, fromTermBatch)
		return prepare.Internalize(s, node)
	}

	post := &model.Post{
		Name:     unit.Name,
		Title:    unit.Title,
		Type:     unit.Type,
		Status:   unit.Status,
		Content:  internalize(unit.Content),
		Excerpt:  internalize(unit.Excerpt),
		Created:  unit.Created,
		Modified: unit.Modified,
		Meta:     make(map[string]string),
	}

	for key, value := range prepare.FilterMeta(unit.Meta) {
		post.Meta[key] = internalize(value)
	}
	if unit.ThumbnailID != 0 {
		if mapped, ok := res.Mapping[unit.ThumbnailID]; ok {
			post.Meta[prepare.MetaKeyThumbnail] = strconv.FormatInt(mapped, 10)
		}
	}
	if unit.Asset != nil {
		post.Meta[prepare.MetaKeyAttachedFile] = unit.Asset.RelPath
	}
	if unit.GID != "" {
		post.Meta[common.MetaKeyGID] = unit.GID
	}
	return post
}

func (e *Engine) copyAsset(ctx context.Context, ref *model.AssetRef, source AssetSource) error {
	if source == nil {
		return fmt.Errorf("no asset source: %w", common.ErrNotFound)
	}
	r, err := source.Open(ctx, ref)
	if err != nil {
		return err
	}
	defer r.Close()
	return e.assets.Put(ctx, ref.RelPath, r)
}

// attachTerms recreates the unit's assigned terms and its body-referenced
// terms, ancestors included, and records the term id remapping.
func (e *Engine) attachTerms(ctx context.Context, node *nodectx.Node, unit *model.PreparedUnit, newID int64, res *Result) error {
	for taxonomy, terms := range unit.Terms {
		ids := make([]int64, 0, len(terms))
		for _, term := range terms {
			id, err := e.store.EnsureTerm(ctx, node.ID, term)
			if err != nil {
				return err
			}
			res.TermMapping[term.ID] = id
			ids = append(ids, id)
		}
		if err := e.store.AssignTerms(ctx, node.ID, newID, taxonomy, ids); err != nil {
			return err
		}
	}
	for _, term := range unit.NestedTerms {
		id, err := e.store.EnsureTerm(ctx, node.ID, term)
		if err != nil {
			return err
		}
		res.TermMapping[term.ID] = id
	}
	return nil
}

// updateSyncStatus classifies the new copy. Landing back on its own
// origin makes it root; a GID whose local-cluster origin node does not
// exist here is an orphan and loses its sync meta; anything else is a
// linked copy registered in its root's connection map.
func (e *Engine) updateSyncStatus(ctx context.Context, node *nodectx.Node, unit *model.PreparedUnit, newID int64, res *Result) error {
	if unit.GID == "" {
		return nil
	}
	g, err := gid.Decode(unit.GID)
	if err != nil {
		return fmt.Errorf("unit %d: %w", unit.ID, err)
	}

	local := e.localOrigin(ctx, g)

	if local && g.OriginNodeID == node.ID && g.ContentID == newID {
		return e.store.SetMeta(ctx, node.ID, newID, common.MetaKeySyncStatus, string(model.StatusRoot))
	}

	if local {
		if _, err := e.nodes.Node(ctx, g.OriginNodeID); err != nil {
			if !errors.Is(err, common.ErrNotFound) {
				return err
			}
			// origin unknown on this cluster: the copy cannot link back
			e.log.Warn(ctx, "purging orphaned sync meta", "gid", unit.GID, "id", newID)
			if err := e.store.DeleteMeta(ctx, node.ID, newID, common.MetaKeyGID); err != nil {
				return err
			}
			return e.store.DeleteMeta(ctx, node.ID, newID, common.MetaKeySyncStatus)
		}
	}

	if err := e.store.SetMeta(ctx, node.ID, newID, common.MetaKeySyncStatus, string(model.StatusLinked)); err != nil {
		return err
	}
	res.pending = append(res.pending, registration{rootGID: unit.GID, localID: newID})
	return nil
}

// localOrigin reports whether the GID's origin lives on this cluster.
// Minted GIDs carry their origin's network address, so an address that
// matches one of our nodes still means "ours".
func (e *Engine) localOrigin(ctx context.Context, g gid.GID) bool {
	if !g.IsRemote() {
		return true
	}
	nodes, err := e.nodes.Nodes(ctx)
	if err != nil {
		return false
	}
	addr := gid.CanonicalAddr(g.NetworkAddr)
	for _, n := range nodes {
		if gid.CanonicalAddr(n.SiteURL) == addr {
			return true
		}
	}
	return false
}

// restoreHierarchy reattaches imported units to their projected parents
// and children. Raw ids are not portable, so both sides are located by
// name+type; a missing parent is logged, not an error.
func (e *Engine) restoreHierarchy(ctx context.Context, node *nodectx.Node, units []*model.PreparedUnit, res *Result) {
	for _, unit := range units {
		if unit.Hierarchy == nil {
			continue
		}
		newID, ok := res.Mapping[unit.ID]
		if !ok {
			continue
		}

		if p := unit.Hierarchy.Parent; p != nil {
			parent, err := e.store.FindByName(ctx, node.ID, p.Name, p.Type)
			if err != nil {
				e.log.Warn(ctx, "hierarchy parent not found",
					"name", p.Name, "type", p.Type)
			} else if err := e.reparent(ctx, node, newID, parent.ID); err != nil {
				e.log.Warn(ctx, "reparent failed", "id", newID, "err", err)
			}
		}

		for _, c := range unit.Hierarchy.Children {
			child, err := e.store.FindByName(ctx, node.ID, c.Name, c.Type)
			if err != nil {
				continue
			}
			if err := e.reparent(ctx, node, child.ID, newID); err != nil {
				e.log.Warn(ctx, "reparent failed", "id", child.ID, "err", err)
			}
		}
	}
}

func (e *Engine) reparent(ctx context.Context, node *nodectx.Node, id, parentID int64) error {
	post, err := e.store.Get(ctx, node.ID, id)
	if err != nil {
		return err
	}
	if post.ParentID == parentID {
		return nil
	}
	post.ParentID = parentID
	return e.store.Update(ctx, node.ID, post)
}

// linkTranslations wires imported siblings into one translation group
// using the accumulated id remapping. Siblings that did not travel in
// this batch are left to a later import.
func (e *Engine) linkTranslations(ctx context.Context, node *nodectx.Node, units []*model.PreparedUnit, res *Result) {
	provider := e.translations.Active(ctx, node)
	if provider == nil {
		return
	}

	for _, unit := range units {
		if unit.Language == nil || unit.Language.Code == "" {
			continue
		}
		newID, ok := res.Mapping[unit.ID]
		if !ok {
			continue
		}

		siblings := make(map[string]int64)
		for code, sibling := range unit.Language.Siblings {
			g, err := gid.Decode(sibling)
			if err != nil {
				continue
			}
			if mapped, ok := res.Mapping[g.ContentID]; ok {
				siblings[code] = mapped
			}
		}
		if err := provider.SetTranslations(ctx, node, newID, unit.Language.Code, siblings); err != nil {
			e.log.Warn(ctx, "translation linking failed", "id", newID, "err", err)
		}
	}
}
