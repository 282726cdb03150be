package model

import "time"

// ExportConfig controls what the preparer pulls into a unit's closure.
type ExportConfig struct {
	// AppendNested exports every object referenced from the body.
	AppendNested bool `json:"append_nested"`
	// ResolveMenus rewrites navigation links to id-free custom links.
	ResolveMenus bool `json:"resolve_menus"`
	// Translations exports local sibling translations of the object.
	Translations bool `json:"translations"`
	// AllTerms exports the whole taxonomy when the object is a term
	// container, not only its own assigned terms.
	AllTerms bool `json:"all_terms"`
}

// Action is the per-unit import decision.
type Action string

const (
	ActionInsert  Action = "insert"
	ActionReplace Action = "replace"
	ActionSkip    Action = "skip"
	// ActionKeep inserts the unit as a new object without any attempt to
	// deduplicate against the name+type collision that produced it.
	ActionKeep   Action = "keep"
	ActionTrash  Action = "trash"
	ActionDelete Action = "delete"
)

// AssetRef describes the binary file attached to a unit.
type AssetRef struct {
	Filename string `json:"filename"`
	// RelPath is the path relative to the node's asset root, preserved
	// across nodes so imported files land in the same spot.
	RelPath string `json:"rel_path"`
	URL     string `json:"url"`
}

// Language describes a unit's language and its sibling translations.
type Language struct {
	Code string `json:"code"`
	Tool string `json:"tool,omitempty"`
	// Siblings maps a language code to the GID of the translation in
	// that language.
	Siblings map[string]string `json:"siblings,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
}

// NodeRef identifies an object by portable attributes. Raw ids are not
// portable across nodes, so hierarchy restoration matches on name+type.
type NodeRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Hierarchy is the tree-shape snapshot of a unit.
type Hierarchy struct {
	Parent   *NodeRef  `json:"parent,omitempty"`
	Children []NodeRef `json:"children,omitempty"`
}

// PreparedUnit is the self-contained, transfer-ready snapshot of one
// content object. Nested references and node-specific strings in the body
// are replaced by placeholders so the unit can be replayed on a node with
// different ids and a different domain. Units exist only for the duration
// of one transfer; they are serialized to the wire or an archive and then
// discarded.
type PreparedUnit struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Title    string    `json:"title"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`
	Content  string    `json:"content"`
	Excerpt  string    `json:"excerpt"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// GID of this unit. Minted for the transfer root when first marked
	// synced; nested units may have no GID of their own yet.
	GID string `json:"gid,omitempty"`
	// IsRoot marks the unit the transfer was initiated for.
	IsRoot bool `json:"is_root,omitempty"`

	Meta map[string]string `json:"meta,omitempty"`
	// Terms maps taxonomy name to the assigned terms, parents inlined.
	Terms map[string][]Term `json:"terms,omitempty"`

	Asset     *AssetRef  `json:"asset,omitempty"`
	Language  *Language  `json:"language,omitempty"`
	Hierarchy *Hierarchy `json:"hierarchy,omitempty"`

	// ThumbnailID is the export-time local id of the attached thumbnail,
	// 0 when none. The referenced object always travels with the set.
	ThumbnailID int64 `json:"thumbnail_id,omitempty"`
	// NestedIDs are export-time local ids of objects referenced from the
	// body whose matches were rewritten to placeholders.
	NestedIDs []int64 `json:"nested_ids,omitempty"`
	// NestedTerms are terms referenced from the body, parents inlined.
	NestedTerms []Term `json:"nested_terms,omitempty"`

	Config ExportConfig `json:"config"`
	Action Action       `json:"action,omitempty"`
}
