package prepare

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"contentsync/internal/common"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/store"
	"contentsync/internal/translation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func testNode() *nodectx.Node {
	return &nodectx.Node{
		ID:              1,
		SiteURL:         "https://one.local",
		UploadURL:       "https://one.local/uploads",
		Theme:           "twentytwentyfive",
		DefaultLanguage: "en",
	}
}

type fixture struct {
	store    *store.Memory
	node     *nodectx.Node
	preparer *Preparer
	registry *translation.Registry
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := store.NewMemory()
	reg := translation.NewRegistry()
	return &fixture{
		store:    st,
		node:     testNode(),
		registry: reg,
		preparer: New(st, testLogger(), reg, opts),
	}
}

func (f *fixture) addPost(t *testing.T, p *model.Post) int64 {
	t.Helper()
	id, err := f.store.Create(context.Background(), f.node.ID, p)
	require.NoError(t, err)
	return id
}

func post(name, typ, content string) *model.Post {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Post{
		Name: name, Title: name, Type: typ, Status: "publish",
		Content: content, Created: now, Modified: now,
	}
}

func TestPrepare_RootNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.preparer.Prepare(context.Background(), f.node, 99, model.ExportConfig{})
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestPrepare_NestedReferenceExtraction(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	blockID := f.addPost(t, post("reusable", "wp_block", "block body"))
	rootID := f.addPost(t, post("root", "post",
		`<!-- wp:block {"ref":`+itoa(blockID)+`} /--> missing {"ref":7777777}`))

	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{AppendNested: true})
	require.NoError(t, err)

	// resolved reference rewritten in place, recorded once
	assert.Contains(t, unit.Content, `"ref":`+ContentPlaceholder(blockID))
	assert.Equal(t, []int64{blockID}, unit.NestedIDs)

	// unresolved reference left untouched
	assert.Contains(t, unit.Content, `"ref":7777777`)
}

func TestPrepare_FilterListExtraction(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	a := f.addPost(t, post("a", "post", "x"))
	b := f.addPost(t, post("b", "post", "y"))

	rootID := f.addPost(t, post("root", "post",
		`{"query":{"post_in":[`+itoa(a)+`,`+itoa(b)+`]}}`))

	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{AppendNested: true})
	require.NoError(t, err)

	assert.Contains(t, unit.Content,
		`"post_in":[`+ContentPlaceholder(a)+`,`+ContentPlaceholder(b)+`]`)
	assert.ElementsMatch(t, []int64{a, b}, unit.NestedIDs)
}

func TestPrepare_NestedTermExtraction(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	parent := model.Term{Name: "News", Slug: "news", Taxonomy: "category"}
	child := model.Term{Name: "Local", Slug: "local", Taxonomy: "category", Parent: &parent}
	termID, err := f.store.EnsureTerm(ctx, f.node.ID, child)
	require.NoError(t, err)

	rootID := f.addPost(t, post("root", "post", `{"termId":`+itoa(termID)+`}`))

	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{})
	require.NoError(t, err)

	assert.Contains(t, unit.Content, `"termId":`+TermPlaceholder(termID))
	require.Len(t, unit.NestedTerms, 1)
	// parent chain travels with the term
	require.NotNil(t, unit.NestedTerms[0].Parent)
	assert.Equal(t, "news", unit.NestedTerms[0].Parent.Slug)
}

func TestPrepare_DynamicStringSubstitution(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	enc := url.QueryEscape("https://one.local/uploads")
	body := `plain https://one.local/page encoded ` + enc +
		` double ` + url.QueryEscape(enc) + ` theme twentytwentyfive`
	rootID := f.addPost(t, post("root", "post", body))

	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{})
	require.NoError(t, err)

	assert.Contains(t, unit.Content, TokenSiteURL+"/page")
	assert.Contains(t, unit.Content, TokenUploadURLEnc)
	assert.Contains(t, unit.Content, TokenUploadURLEnc2)
	assert.Contains(t, unit.Content, TokenTheme)
	assert.NotContains(t, unit.Content, "one.local")
}

func TestPrepare_MetaProjection(t *testing.T) {
	f := newFixture(t, Options{
		ExcludeMeta: []string{"custom_excluded"},
		Transforms: map[string]MetaTransform{
			"price": func(key, value string) (string, bool) { return value + " EUR", true },
			"drop":  func(key, value string) (string, bool) { return "", false },
		},
	})
	ctx := context.Background()

	p := post("root", "post", "x")
	p.Meta = map[string]string{
		"keepme":          "v",
		"_edit_lock":      "12345:1",
		"custom_excluded": "v",
		"_oembed_abc":     "cached",
		"price":           "10",
		"drop":            "v",
		"empty":           "   ",
	}
	rootID := f.addPost(t, p)

	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{})
	require.NoError(t, err)

	assert.Equal(t, "v", unit.Meta["keepme"])
	assert.Equal(t, "10 EUR", unit.Meta["price"])
	assert.NotContains(t, unit.Meta, "_edit_lock")
	assert.NotContains(t, unit.Meta, "custom_excluded")
	assert.NotContains(t, unit.Meta, "_oembed_abc")
	assert.NotContains(t, unit.Meta, "drop")
	assert.NotContains(t, unit.Meta, "empty")
}

func TestPrepare_AssetProjection(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	p := post("photo", "attachment", "")
	p.Meta = map[string]string{MetaKeyAttachedFile: "2025/03/photo-scaled.jpg"}
	id := f.addPost(t, p)

	unit, err := f.preparer.Prepare(ctx, f.node, id, model.ExportConfig{})
	require.NoError(t, err)

	require.NotNil(t, unit.Asset)
	assert.Equal(t, "photo.jpg", unit.Asset.Filename)
	assert.Equal(t, "2025/03/photo.jpg", unit.Asset.RelPath)
	assert.Equal(t, "https://one.local/uploads/2025/03/photo.jpg", unit.Asset.URL)
}

func TestPrepare_ThumbnailRecorded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	thumbID := f.addPost(t, post("thumb", "attachment", ""))
	p := post("root", "post", "x")
	p.Meta = map[string]string{MetaKeyThumbnail: itoa(thumbID)}
	rootID := f.addPost(t, p)

	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{})
	require.NoError(t, err)
	assert.Equal(t, thumbID, unit.ThumbnailID)
}

func TestPrepare_LanguageFallback(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	rootID := f.addPost(t, post("root", "post", "x"))
	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{})
	require.NoError(t, err)

	require.NotNil(t, unit.Language)
	assert.Equal(t, "en", unit.Language.Code)
	assert.Empty(t, unit.Language.Tool)
}

func TestPrepare_LanguageFromProvider(t *testing.T) {
	st := store.NewMemory()
	provider := translation.NewStatic("polylang")
	reg := translation.NewRegistry(provider)
	preparer := New(st, testLogger(), reg, Options{})
	node := testNode()
	ctx := context.Background()

	rootID, err := st.Create(ctx, node.ID, post("root", "post", "x"))
	require.NoError(t, err)
	sibID, err := st.Create(ctx, node.ID, post("racine", "post", "x"))
	require.NoError(t, err)

	provider.SetLanguage(node.ID, rootID, "en")
	require.NoError(t, provider.SetTranslations(ctx, node, rootID, "en", map[string]int64{"fr": sibID}))

	unit, err := preparer.Prepare(ctx, node, rootID, model.ExportConfig{Translations: true})
	require.NoError(t, err)

	require.NotNil(t, unit.Language)
	assert.Equal(t, "en", unit.Language.Code)
	assert.Equal(t, "polylang", unit.Language.Tool)
	assert.Equal(t, "1-"+itoa(sibID), unit.Language.Siblings["fr"])
	assert.NotContains(t, unit.Language.Siblings, "en")
}

func TestPrepare_MenuNormalization(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	body := `<!-- wp:navigation-link {"id":5,"type":"page","label":"About","url":"https://one.local/about"} /-->` +
		`<!-- wp:navigation-link {"kind":"custom","label":"Ext","url":"https://other.example"} /-->`
	rootID := f.addPost(t, post("menu", "wp_navigation", body))

	unit, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{ResolveMenus: true})
	require.NoError(t, err)

	// id-carrying link became custom; id and type are gone
	assert.NotContains(t, unit.Content, `"id":5`)
	assert.NotContains(t, unit.Content, `"type":"page"`)
	assert.Contains(t, unit.Content, `"kind":"custom"`)
	assert.Contains(t, unit.Content, `"label":"About"`)
	// already-custom link untouched
	assert.Contains(t, unit.Content, `"label":"Ext"`)
}

func TestPrepare_HierarchyProjection(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	parentID := f.addPost(t, post("parent", "page", "x"))
	p := post("middle", "page", "x")
	p.ParentID = parentID
	midID := f.addPost(t, p)

	c := post("child", "page", "x")
	c.ParentID = midID
	f.addPost(t, c)

	unit, err := f.preparer.Prepare(ctx, f.node, midID, model.ExportConfig{AppendNested: true})
	require.NoError(t, err)

	require.NotNil(t, unit.Hierarchy)
	require.NotNil(t, unit.Hierarchy.Parent)
	assert.Equal(t, "parent", unit.Hierarchy.Parent.Name)
	require.Len(t, unit.Hierarchy.Children, 1)
	assert.Equal(t, "child", unit.Hierarchy.Children[0].Name)
}

func TestPrepare_TaxonomyContainerExportsWholeTaxonomy(t *testing.T) {
	f := newFixture(t, Options{TaxonomyContainers: map[string]string{"glossary": "topic"}})
	ctx := context.Background()

	for _, slug := range []string{"go", "sync"} {
		_, err := f.store.EnsureTerm(ctx, f.node.ID, model.Term{Name: slug, Slug: slug, Taxonomy: "topic"})
		require.NoError(t, err)
	}

	id := f.addPost(t, post("glossary", "glossary", "x"))

	unit, err := f.preparer.Prepare(ctx, f.node, id, model.ExportConfig{AllTerms: true})
	require.NoError(t, err)
	assert.Len(t, unit.Terms["topic"], 2)
}

// Prepared bodies must be deterministic so repeat exports are comparable.
func TestPrepare_Idempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	ref := f.addPost(t, post("ref", "post", "x"))
	rootID := f.addPost(t, post("root", "post",
		`see {"ref":`+itoa(ref)+`} at https://one.local/here`))

	first, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{AppendNested: true})
	require.NoError(t, err)
	second, err := f.preparer.Prepare(ctx, f.node, rootID, model.ExportConfig{AppendNested: true})
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.NestedIDs, second.NestedIDs)
}

// countingStore counts Get calls per id on top of the memory store.
type countingStore struct {
	*store.Memory
	gets map[int64]int
}

func (c *countingStore) Get(ctx context.Context, nodeID, id int64) (*model.Post, error) {
	c.gets[id]++
	return c.Memory.Get(ctx, nodeID, id)
}

func TestPrepare_RepeatedReferenceResolvedOnce(t *testing.T) {
	cs := &countingStore{Memory: store.NewMemory(), gets: map[int64]int{}}
	preparer := New(cs, testLogger(), translation.NewRegistry(), Options{})
	node := testNode()
	ctx := context.Background()

	ref, err := cs.Create(ctx, node.ID, post("ref", "post", "x"))
	require.NoError(t, err)
	body := `{"ref":` + itoa(ref) + `} and again {"ref":` + itoa(ref) + `}`
	rootID, err := cs.Create(ctx, node.ID, post("root", "post", body))
	require.NoError(t, err)

	unit, err := preparer.Prepare(ctx, node, rootID, model.ExportConfig{AppendNested: true})
	require.NoError(t, err)

	assert.Equal(t, []int64{ref}, unit.NestedIDs)
	assert.Equal(t, 1, cs.gets[ref])
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
