package translation

import (
	"context"
	"testing"

	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type undetected struct{ Static }

func (u *undetected) Detect(ctx context.Context, node *nodectx.Node) string { return "" }

func TestRegistry_Active(t *testing.T) {
	ctx := context.Background()
	node := &nodectx.Node{ID: 1}

	inactive := &undetected{}
	active := NewStatic("polylang")

	r := NewRegistry(inactive, active)
	got := r.Active(ctx, node)
	require.NotNil(t, got)
	assert.Equal(t, "polylang", got.Detect(ctx, node))

	empty := NewRegistry(inactive)
	assert.Nil(t, empty.Active(ctx, node))
}

func TestStatic_LanguageFallsBackToNodeDefault(t *testing.T) {
	ctx := context.Background()
	node := &nodectx.Node{ID: 1, DefaultLanguage: "en"}
	p := NewStatic("static")

	info, err := p.LanguageInfo(ctx, node, &model.Post{ID: 10})
	require.NoError(t, err)
	assert.Equal(t, "en", info.Code)

	p.SetLanguage(1, 10, "de")
	info, err = p.LanguageInfo(ctx, node, &model.Post{ID: 10})
	require.NoError(t, err)
	assert.Equal(t, "de", info.Code)
}

func TestStatic_SetTranslationsLinksGroup(t *testing.T) {
	ctx := context.Background()
	node := &nodectx.Node{ID: 2}
	p := NewStatic("static")

	require.NoError(t, p.SetTranslations(ctx, node, 50, "en", map[string]int64{"de": 51}))

	group := p.Group(2, 50)
	assert.Equal(t, int64(50), group["en"])
	assert.Equal(t, int64(51), group["de"])

	// the sibling sees the same group
	assert.Equal(t, group, p.Group(2, 51))
}
