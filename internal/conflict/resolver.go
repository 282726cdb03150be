// Package conflict decides what an incoming transfer set may do to the
// destination's existing content. Decisions are advisory: the importer
// re-validates before writing.
package conflict

import (
	"context"
	"errors"
	"fmt"

	"contentsync/internal/common"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/store"
)

// Decision is the proposed outcome for one incoming unit.
type Decision struct {
	// LocalID is the existing destination object the unit resolved to,
	// 0 when the unit matched nothing.
	LocalID int64
	Action  model.Action
	// NeedsChoice marks a bare name+type collision. Nothing decides
	// those automatically; the caller must supply an action.
	NeedsChoice bool
}

// Resolver matches incoming units against the destination catalog.
type Resolver struct {
	store store.Store
	log   logging.Logger
}

func New(st store.Store, log logging.Logger) *Resolver {
	return &Resolver{store: st, log: log}
}

// Resolve runs the two matching passes over the set and returns a
// decision per incoming export-time id.
//
// Pass one matches on GID: an existing copy is replaced when the
// incoming unit is the transfer root, otherwise the existing copy is
// authoritative and the unit is skipped. Pass two, for units without a
// GID match, surfaces name+type collisions; manual carries the caller's
// choice per incoming id for those. Units matching nothing insert.
//
// Two units resolving to the same existing GID count as one conflict:
// the first resolution wins and later ones skip to the same local id.
func (r *Resolver) Resolve(ctx context.Context, node *nodectx.Node, units []*model.PreparedUnit, manual map[int64]model.Action) (map[int64]Decision, error) {
	decisions := make(map[int64]Decision, len(units))
	resolvedGIDs := make(map[string]int64)

	for _, unit := range units {
		if _, done := decisions[unit.ID]; done {
			continue
		}
		d, err := r.resolveUnit(ctx, node, unit, manual, resolvedGIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve unit %d: %w", unit.ID, err)
		}
		decisions[unit.ID] = d
	}
	return decisions, nil
}

func (r *Resolver) resolveUnit(ctx context.Context, node *nodectx.Node, unit *model.PreparedUnit, manual map[int64]model.Action, resolvedGIDs map[string]int64) (Decision, error) {
	if unit.GID != "" {
		if localID, seen := resolvedGIDs[unit.GID]; seen {
			return Decision{LocalID: localID, Action: model.ActionSkip}, nil
		}
		localID, err := r.findByGID(ctx, node, unit.GID)
		if err != nil {
			return Decision{}, err
		}
		if localID != 0 {
			resolvedGIDs[unit.GID] = localID
			action := model.ActionSkip
			if unit.IsRoot {
				action = model.ActionReplace
			}
			return Decision{LocalID: localID, Action: action}, nil
		}
	}

	existing, err := r.store.FindByName(ctx, node.ID, unit.Name, unit.Type)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Decision{Action: model.ActionInsert}, nil
		}
		return Decision{}, err
	}

	if action, ok := manual[unit.ID]; ok {
		return Decision{LocalID: existing.ID, Action: action}, nil
	}
	r.log.Info(ctx, "name collision needs a caller decision",
		"name", unit.Name, "type", unit.Type, "local_id", existing.ID)
	return Decision{LocalID: existing.ID, NeedsChoice: true}, nil
}

func (r *Resolver) findByGID(ctx context.Context, node *nodectx.Node, g string) (int64, error) {
	posts, err := r.store.FindByMeta(ctx, node.ID, common.MetaKeyGID, g)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}
	if len(posts) > 1 {
		r.log.Warn(ctx, "multiple local copies share a GID, using the first",
			"gid", g, "count", len(posts))
	}
	return posts[0].ID, nil
}
