// Package nodectx models the "current node" of a multi-tenant cluster as
// an explicit value instead of ambient global state. Operations that need
// a specific node's data take a Node; the Switcher runs a function against
// another node as a scoped critical section with guaranteed restoration.
package nodectx

import (
	"context"
	"fmt"

	"contentsync/internal/common"
)

// Node describes one addressable content store of the local cluster.
type Node struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	SiteURL         string `json:"site_url"`
	UploadURL       string `json:"upload_url"`
	UploadDir       string `json:"upload_dir"`
	Theme           string `json:"theme"`
	DefaultLanguage string `json:"default_language"`
}

// Registry resolves cluster nodes by id.
type Registry interface {
	Node(ctx context.Context, id int64) (*Node, error)
	Nodes(ctx context.Context) ([]*Node, error)
}

// StaticRegistry is a fixed in-memory Registry, used by the daemon (nodes
// come from configuration) and by tests.
type StaticRegistry struct {
	nodes map[int64]*Node
}

// NewStaticRegistry builds a registry from a node list.
func NewStaticRegistry(nodes []*Node) *StaticRegistry {
	m := make(map[int64]*Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return &StaticRegistry{nodes: m}
}

func (r *StaticRegistry) Node(ctx context.Context, id int64) (*Node, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, common.ErrNotFound)
	}
	return n, nil
}

func (r *StaticRegistry) Nodes(ctx context.Context) ([]*Node, error) {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out, nil
}

// Switcher runs "switch to node" sections. The current node rides on the
// context, so each call chain sees its own stack: nesting layers contexts,
// restoration on every exit path (including panics) falls out of the
// caller keeping its own ctx, and concurrent sections never observe each
// other. Write serialization across roots is the importer's concern, not
// the switcher's.
type Switcher struct {
	registry Registry
}

// NewSwitcher returns a Switcher over the given registry.
func NewSwitcher(registry Registry) *Switcher {
	return &Switcher{registry: registry}
}

type currentNodeKey struct{}

// With resolves nodeID and runs fn with that node as current.
func (s *Switcher) With(ctx context.Context, nodeID int64, fn func(ctx context.Context, node *Node) error) error {
	node, err := s.registry.Node(ctx, nodeID)
	if err != nil {
		return err
	}
	return fn(context.WithValue(ctx, currentNodeKey{}, node), node)
}

// Current returns the innermost active node of this call chain, or nil
// outside any With section. Intended for diagnostics; operations receive
// their node explicitly.
func Current(ctx context.Context) *Node {
	n, _ := ctx.Value(currentNodeKey{}).(*Node)
	return n
}
