// Package prepare builds transfer-ready snapshots of content objects.
// The preparer walks one object, pulls its references into the unit,
// and externalizes everything node-specific so the unit can be replayed
// on a node with different ids and a different domain.
package prepare

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"contentsync/internal/cachex"
	"contentsync/internal/common"
	"contentsync/internal/gid"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/store"
	"contentsync/internal/translation"
)

// Options tunes a Preparer beyond its collaborators.
type Options struct {
	// Rules are the nested-reference rules; DefaultRules when nil.
	Rules []NestedRule
	// ExcludeMeta extends the built-in meta exclusion list.
	ExcludeMeta []string
	// Transforms maps meta key to its projection transform.
	Transforms map[string]MetaTransform
	// TaxonomyContainers maps a content type to the taxonomy it lists.
	// Objects of such a type export the whole taxonomy instead of their
	// own assigned terms.
	TaxonomyContainers map[string]string
}

// Preparer produces PreparedUnits. Safe for concurrent use; all state is
// set at construction.
type Preparer struct {
	store        store.Store
	log          logging.Logger
	translations *translation.Registry
	rules        []NestedRule
	excludeMeta  map[string]struct{}
	transforms   map[string]MetaTransform
	containers   map[string]string
}

// New builds a Preparer.
func New(st store.Store, log logging.Logger, reg *translation.Registry, opts Options) *Preparer {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	exclude := make(map[string]struct{}, len(opts.ExcludeMeta))
	for _, k := range opts.ExcludeMeta {
		exclude[k] = struct{}{}
	}
	transforms := opts.Transforms
	if transforms == nil {
		transforms = map[string]MetaTransform{}
	}
	containers := opts.TaxonomyContainers
	if containers == nil {
		containers = map[string]string{}
	}
	return &Preparer{
		store:        st,
		log:          log,
		translations: reg,
		rules:        rules,
		excludeMeta:  exclude,
		transforms:   transforms,
		containers:   containers,
	}
}

// Prepare snapshots one object. Only a failure to load the root object is
// fatal; every nested resolution failure is logged and absorbed.
func (p *Preparer) Prepare(ctx context.Context, node *nodectx.Node, id int64, cfg model.ExportConfig) (*model.PreparedUnit, error) {
	post, err := p.store.Get(ctx, node.ID, id)
	if err != nil {
		return nil, fmt.Errorf("prepare %d: %w", id, err)
	}

	unit := &model.PreparedUnit{
		ID:       post.ID,
		Name:     post.Name,
		Title:    post.Title,
		Type:     post.Type,
		Status:   post.Status,
		Excerpt:  post.Excerpt,
		Created:  post.Created,
		Modified: post.Modified,
		GID:      post.MetaValue(common.MetaKeyGID),
		Config:   cfg,
	}

	// One resolution cache per call; the same reference often occurs
	// several times in one body.
	lookups := cachex.NewRequest()

	body := post.Content
	if cfg.ResolveMenus {
		body = p.normalizeNavLinks(ctx, body)
	}
	body = p.extractNested(ctx, node, body, unit, lookups)
	body = Externalize(body, node)
	unit.Content = body
	unit.Excerpt = Externalize(post.Excerpt, node)

	unit.Meta = p.projectMeta(post.Meta)

	if thumb := post.MetaValue(MetaKeyThumbnail); thumb != "" {
		if tid, err := strconv.ParseInt(thumb, 10, 64); err == nil && tid > 0 {
			unit.ThumbnailID = tid
		}
	}

	if err := p.projectTerms(ctx, node, post, unit, cfg); err != nil {
		p.log.Warn(ctx, "term projection failed", "id", post.ID, "err", err)
	}

	p.projectAsset(post, node, unit)
	p.projectLanguage(ctx, node, post, unit)

	if cfg.AppendNested {
		if err := p.projectHierarchy(ctx, node, post, unit); err != nil {
			p.log.Warn(ctx, "hierarchy projection failed", "id", post.ID, "err", err)
		}
	}

	return unit, nil
}

// extractNested runs every rule against the body, rewriting resolved ids
// to placeholders and recording them on the unit. Each captured group may
// be a bare id, a JSON list, or a name.
func (p *Preparer) extractNested(ctx context.Context, node *nodectx.Node, body string, unit *model.PreparedUnit, lookups cachex.Cache) string {
	seenContent := make(map[int64]bool)
	seenTerm := make(map[int64]bool)

	for _, rule := range p.rules {
		body = replaceGroups(rule.Pattern, body, func(group string) string {
			if rule.ByName {
				return p.resolveByName(ctx, node, rule, group, unit, seenContent, lookups)
			}
			return p.resolveIDs(ctx, node, rule, group, unit, seenContent, seenTerm, lookups)
		})
	}
	return body
}

// resolveIDs rewrites every number inside group (a bare id or a JSON
// list) to its placeholder when the referenced object resolves.
func (p *Preparer) resolveIDs(ctx context.Context, node *nodectx.Node, rule NestedRule, group string, unit *model.PreparedUnit, seenContent, seenTerm map[int64]bool, lookups cachex.Cache) string {
	return numberPattern.ReplaceAllStringFunc(group, func(num string) string {
		id, err := strconv.ParseInt(num, 10, 64)
		if err != nil || id == 0 {
			return num
		}
		switch rule.Kind {
		case RefTerm:
			var term *model.Term
			if v, ok := lookups.Get("term:" + num); ok {
				term = v.(*model.Term)
			} else {
				term, err = p.store.Term(ctx, node.ID, id)
				if err != nil {
					p.log.Warn(ctx, "unresolved nested term", "rule", rule.Name, "term", id)
					return num
				}
				lookups.Set("term:"+num, term)
			}
			if !seenTerm[id] {
				seenTerm[id] = true
				unit.NestedTerms = append(unit.NestedTerms, *term)
			}
			return TermPlaceholder(id)
		default:
			if _, ok := lookups.Get("post:" + num); !ok {
				post, err := p.store.Get(ctx, node.ID, id)
				if err != nil {
					p.log.Warn(ctx, "unresolved nested reference", "rule", rule.Name, "id", id)
					return num
				}
				lookups.Set("post:"+num, post)
			}
			if !seenContent[id] {
				seenContent[id] = true
				unit.NestedIDs = append(unit.NestedIDs, id)
			}
			return ContentPlaceholder(id)
		}
	})
}

// resolveByName rewrites a (name, type) reference to the placeholder of
// the resolved object's id.
func (p *Preparer) resolveByName(ctx context.Context, node *nodectx.Node, rule NestedRule, name string, unit *model.PreparedUnit, seenContent map[int64]bool, lookups cachex.Cache) string {
	key := "name:" + rule.Type + ":" + name
	var post *model.Post
	if v, ok := lookups.Get(key); ok {
		post = v.(*model.Post)
	} else {
		var err error
		post, err = p.store.FindByName(ctx, node.ID, name, rule.Type)
		if err != nil {
			p.log.Warn(ctx, "unresolved named reference", "rule", rule.Name, "name", name, "type", rule.Type)
			return name
		}
		lookups.Set(key, post)
	}
	if !seenContent[post.ID] {
		seenContent[post.ID] = true
		unit.NestedIDs = append(unit.NestedIDs, post.ID)
	}
	return ContentPlaceholder(post.ID)
}

// projectTerms fills unit.Terms: taxonomy containers export their
// taxonomy wholesale, everything else exports assigned terms with
// parents inlined by the store.
func (p *Preparer) projectTerms(ctx context.Context, node *nodectx.Node, post *model.Post, unit *model.PreparedUnit, cfg model.ExportConfig) error {
	if taxonomy, ok := p.containers[post.Type]; ok && cfg.AllTerms {
		terms, err := p.store.TermsOfTaxonomy(ctx, node.ID, taxonomy)
		if err != nil {
			return err
		}
		if len(terms) > 0 {
			unit.Terms = map[string][]model.Term{taxonomy: terms}
		}
		return nil
	}

	terms, err := p.store.TermsOf(ctx, node.ID, post.ID)
	if err != nil {
		return err
	}
	if len(terms) > 0 {
		unit.Terms = terms
	}
	return nil
}

// projectAsset records the attached file of attachment-type objects. The
// "-scaled" variant suffix is stripped so the destination references the
// original file.
func (p *Preparer) projectAsset(post *model.Post, node *nodectx.Node, unit *model.PreparedUnit) {
	relPath := post.MetaValue(MetaKeyAttachedFile)
	if relPath == "" {
		return
	}
	canonical := stripScaledSuffix(relPath)
	unit.Asset = &model.AssetRef{
		Filename: baseName(canonical),
		RelPath:  canonical,
		URL:      strings.TrimSuffix(node.UploadURL, "/") + "/" + strings.TrimPrefix(canonical, "/"),
	}
}

// projectLanguage fills the language descriptor via the active provider,
// falling back to the node default when no tool is active.
func (p *Preparer) projectLanguage(ctx context.Context, node *nodectx.Node, post *model.Post, unit *model.PreparedUnit) {
	provider := p.translations.Active(ctx, node)
	if provider == nil {
		if node.DefaultLanguage != "" {
			unit.Language = &model.Language{Code: node.DefaultLanguage}
		}
		return
	}

	info, err := provider.LanguageInfo(ctx, node, post)
	if err != nil {
		p.log.Warn(ctx, "language lookup failed", "id", post.ID, "err", err)
		return
	}
	lang := &model.Language{Code: info.Code, Tool: info.Tool, Args: info.Args}

	siblings, err := provider.Translations(ctx, node, post)
	if err != nil {
		p.log.Warn(ctx, "translation lookup failed", "id", post.ID, "err", err)
	} else if len(siblings) > 0 {
		lang.Siblings = make(map[string]string, len(siblings))
		for code, sibID := range siblings {
			if sibID == post.ID {
				continue
			}
			lang.Siblings[code] = p.siblingGID(ctx, node, sibID)
		}
	}
	unit.Language = lang
}

// siblingGID returns the sibling's existing GID, or mints its local form.
func (p *Preparer) siblingGID(ctx context.Context, node *nodectx.Node, id int64) string {
	if post, err := p.store.Get(ctx, node.ID, id); err == nil {
		if g := post.MetaValue(common.MetaKeyGID); g != "" {
			return g
		}
	}
	return gid.Encode(node.ID, id, "")
}

// projectHierarchy records the parent and direct children as portable
// (id, name, type) references.
func (p *Preparer) projectHierarchy(ctx context.Context, node *nodectx.Node, post *model.Post, unit *model.PreparedUnit) error {
	h := &model.Hierarchy{}

	if post.ParentID != 0 {
		parent, err := p.store.Get(ctx, node.ID, post.ParentID)
		if err != nil {
			p.log.Warn(ctx, "parent not found", "id", post.ID, "parent", post.ParentID)
		} else {
			h.Parent = &model.NodeRef{ID: parent.ID, Name: parent.Name, Type: parent.Type}
		}
	}

	siblingsOfType, err := p.store.List(ctx, node.ID, store.Filter{Type: post.Type})
	if err != nil {
		return err
	}
	for _, candidate := range siblingsOfType {
		if candidate.ParentID == post.ID {
			h.Children = append(h.Children, model.NodeRef{
				ID: candidate.ID, Name: candidate.Name, Type: candidate.Type,
			})
		}
	}

	if h.Parent != nil || len(h.Children) > 0 {
		unit.Hierarchy = h
	}
	return nil
}

// normalizeNavLinks rewrites navigation-link blocks that point at a
// content id into id-free custom links carrying only label and URL, so
// imported navigation never dangles on a foreign id.
func (p *Preparer) normalizeNavLinks(ctx context.Context, body string) string {
	return navLinkPattern.ReplaceAllStringFunc(body, func(block string) string {
		attrs := navLinkAttrsPattern.FindStringSubmatch(block)
		if attrs == nil {
			return block
		}
		var link map[string]any
		if err := json.Unmarshal([]byte(attrs[1]), &link); err != nil {
			p.log.Warn(ctx, "unparseable navigation link", "err", err)
			return block
		}
		if _, hasID := link["id"]; !hasID {
			return block
		}
		custom := map[string]any{"kind": "custom"}
		if label, ok := link["label"]; ok {
			custom["label"] = label
		}
		if u, ok := link["url"]; ok {
			custom["url"] = u
		}
		encoded, err := json.Marshal(custom)
		if err != nil {
			return block
		}
		return "<!-- wp:navigation-link " + string(encoded) + " /-->"
	})
}
