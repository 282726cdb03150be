// Package translation defines the pluggable boundary toward translation
// tooling. Concrete tool adapters are external; the core only needs to
// detect a tool, read language metadata, and link imported siblings.
package translation

import (
	"context"

	"contentsync/internal/model"
	"contentsync/internal/nodectx"
)

// Info is the language descriptor of one content object.
type Info struct {
	Code string
	Tool string
	Args map[string]string
}

// Provider adapts one translation tool.
type Provider interface {
	// Detect returns the tool name when the tool is active on the node,
	// or "" when it is not.
	Detect(ctx context.Context, node *nodectx.Node) string

	// LanguageInfo returns language metadata for an object.
	LanguageInfo(ctx context.Context, node *nodectx.Node, post *model.Post) (*Info, error)

	// Translations maps language code to the local id of each sibling
	// translation of an object.
	Translations(ctx context.Context, node *nodectx.Node, post *model.Post) (map[string]int64, error)

	// SetTranslations links id into the translation group for code,
	// together with the already-imported siblings (code -> local id).
	SetTranslations(ctx context.Context, node *nodectx.Node, id int64, code string, siblings map[string]int64) error
}

// Registry resolves the active provider for a node. Providers are
// statically composed at construction; there is no runtime dispatch by
// name.
type Registry struct {
	providers []Provider
}

// NewRegistry builds a registry trying providers in order.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Active returns the first provider whose tool is detected on the node,
// or nil when none is.
func (r *Registry) Active(ctx context.Context, node *nodectx.Node) Provider {
	for _, p := range r.providers {
		if p.Detect(ctx, node) != "" {
			return p
		}
	}
	return nil
}
