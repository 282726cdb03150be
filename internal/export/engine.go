// Package export assembles transfer sets: the prepared root unit plus
// the closure of every object it references, ordered so dependencies
// precede their dependents.
package export

import (
	"context"
	"fmt"

	"contentsync/internal/assets"
	"contentsync/internal/common"
	"contentsync/internal/gid"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/prepare"
	"contentsync/internal/store"
	"contentsync/internal/translation"
)

// Engine walks reference closures and produces ordered unit slices.
type Engine struct {
	store        store.Store
	preparer     *prepare.Preparer
	translations *translation.Registry
	assets       assets.Store
	log          logging.Logger
}

func New(st store.Store, p *prepare.Preparer, reg *translation.Registry, as assets.Store, log logging.Logger) *Engine {
	return &Engine{store: st, preparer: p, translations: reg, assets: as, log: log}
}

// MarkRoot stamps the object as a synchronization root: a GID is minted
// on first use and the sync status is set. Returns the GID. Calling it
// again on an already-marked object is a no-op that returns the
// existing GID.
func (e *Engine) MarkRoot(ctx context.Context, node *nodectx.Node, id int64) (string, error) {
	post, err := e.store.Get(ctx, node.ID, id)
	if err != nil {
		return "", fmt.Errorf("mark root %d: %w", id, err)
	}

	g := post.MetaValue(common.MetaKeyGID)
	if g == "" {
		g = gid.Encode(node.ID, id, gid.CanonicalAddr(node.SiteURL))
		if err := e.store.SetMeta(ctx, node.ID, id, common.MetaKeyGID, g); err != nil {
			return "", fmt.Errorf("mark root %d: %w", id, err)
		}
	}
	if post.MetaValue(common.MetaKeySyncStatus) != string(model.StatusRoot) {
		if err := e.store.SetMeta(ctx, node.ID, id, common.MetaKeySyncStatus, string(model.StatusRoot)); err != nil {
			return "", fmt.Errorf("mark root %d: %w", id, err)
		}
	}
	return g, nil
}

// Export prepares the full transfer set for a root object. The root is
// marked first so its GID travels with the set. Dependencies appear
// before their dependents; the root is last and flagged IsRoot.
//
// Reference graphs may contain cycles (a reusable block embedding the
// post that embeds it). Ids are reserved before their unit is prepared,
// so a back-reference to an in-progress object resolves to the already
// reserved id and the walk terminates.
func (e *Engine) Export(ctx context.Context, node *nodectx.Node, rootID int64, cfg model.ExportConfig) ([]*model.PreparedUnit, error) {
	if _, err := e.MarkRoot(ctx, node, rootID); err != nil {
		return nil, err
	}

	w := &walker{engine: e, node: node, cfg: cfg, reserved: map[int64]bool{}}
	if err := w.walk(ctx, rootID, true); err != nil {
		return nil, err
	}
	return w.units, nil
}

type walker struct {
	engine   *Engine
	node     *nodectx.Node
	cfg      model.ExportConfig
	reserved map[int64]bool
	units    []*model.PreparedUnit
}

func (w *walker) walk(ctx context.Context, id int64, isRoot bool) error {
	if w.reserved[id] {
		return nil
	}
	w.reserved[id] = true

	unit, err := w.engine.preparer.Prepare(ctx, w.node, id, w.cfg)
	if err != nil {
		if !isRoot {
			// a dangling nested reference must not sink the transfer
			w.engine.log.Warn(ctx, "skipping unreachable nested object", "id", id, "err", err)
			return nil
		}
		return err
	}
	unit.IsRoot = isRoot

	if unit.ThumbnailID != 0 {
		if err := w.walk(ctx, unit.ThumbnailID, false); err != nil {
			return err
		}
	}
	if w.cfg.AppendNested {
		for _, nestedID := range unit.NestedIDs {
			if err := w.walk(ctx, nestedID, false); err != nil {
				return err
			}
		}
	}
	if w.cfg.Translations {
		if err := w.walkSiblings(ctx, unit); err != nil {
			return err
		}
	}

	w.units = append(w.units, unit)
	return nil
}

// walkSiblings pulls the unit's local sibling translations into the
// set; every walked object gets this, not just the root. Siblings are
// addressed by GID; only same-origin local ones can be exported from
// this node.
func (w *walker) walkSiblings(ctx context.Context, unit *model.PreparedUnit) error {
	if unit.Language == nil {
		return nil
	}
	for code, sibling := range unit.Language.Siblings {
		g, err := gid.Decode(sibling)
		if err != nil || g.OriginNodeID != w.node.ID {
			w.engine.log.Warn(ctx, "skipping non-local translation sibling",
				"code", code, "gid", sibling)
			continue
		}
		if err := w.walk(ctx, g.ContentID, false); err != nil {
			return err
		}
	}
	return nil
}
