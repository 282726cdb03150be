package prepare

import "regexp"

// RefKind says what a nested-reference rule resolves to.
type RefKind int

const (
	// RefContent references another content object.
	RefContent RefKind = iota
	// RefTerm references a taxonomy term.
	RefTerm
)

// NestedRule matches references embedded in a body. Pattern must contain
// exactly one capture group holding the reference; the group may be a
// bare id, a JSON list of ids, or (with ByName) an object name. Matched
// ids are rewritten in place to placeholder form and recorded on the
// unit; unresolved matches are logged and left untouched.
type NestedRule struct {
	Name    string
	Pattern *regexp.Regexp
	Kind    RefKind
	// Type is the referenced content type for by-name lookups.
	Type string
	// ByName treats the captured group as an object name instead of ids.
	ByName bool
}

// DefaultRules covers the reference shapes the stock editor produces:
// reusable block refs, id-carrying image markup, and inline JSON filter
// fragments that reference content or term ids, including list forms.
func DefaultRules() []NestedRule {
	return []NestedRule{
		{
			Name:    "block-ref",
			Pattern: regexp.MustCompile(`"ref":\s*(\d+)`),
			Kind:    RefContent,
		},
		{
			Name:    "image-id",
			Pattern: regexp.MustCompile(`wp-image-(\d+)`),
			Kind:    RefContent,
		},
		{
			Name:    "content-filter",
			Pattern: regexp.MustCompile(`"(?:postId|post_in)":\s*(\[[\d,\s]*\]|\d+)`),
			Kind:    RefContent,
		},
		{
			Name:    "term-filter",
			Pattern: regexp.MustCompile(`"(?:termId|term_in|categoryId)":\s*(\[[\d,\s]*\]|\d+)`),
			Kind:    RefTerm,
		},
	}
}

// placeholderPattern matches content-id placeholders at import time.
var placeholderPattern = regexp.MustCompile(`\{\{(\d+)\}\}`)

// termPlaceholderPattern matches term-id placeholders at import time.
var termPlaceholderPattern = regexp.MustCompile(`\{\{term_(\d+)\}\}`)
