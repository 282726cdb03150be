package gid

import (
	"errors"
	"testing"

	"contentsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		origin  int64
		content int64
		addr    string
		want    string
	}{
		{"local", 1, 10, "", "1-10"},
		{"remote", 1, 10, "example.com", "1-10-example.com"},
		{"remote with dash in host", 3, 42, "my-site.org", "3-42-my-site.org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.origin, tt.content, tt.addr))
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	g, err := Decode(Encode(1, 10, ""))
	require.NoError(t, err)
	assert.Equal(t, GID{OriginNodeID: 1, ContentID: 10}, g)

	g, err = Decode(Encode(5, 77, "my-site.org"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), g.OriginNodeID)
	assert.Equal(t, int64(77), g.ContentID)
	assert.Equal(t, "my-site.org", g.NetworkAddr)
}

func TestDecode_Malformed(t *testing.T) {
	for _, s := range []string{"", "abc", "1", "x-10", "1-y", "-1-10", "1-10-", "1.5-10"} {
		t.Run(s, func(t *testing.T) {
			g, err := Decode(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrMalformedGID))
			assert.True(t, g.IsZero())
		})
	}
}

func TestCanonicalAddr(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://www.example.com/", "example.com"},
		{"http://example.com", "example.com"},
		{"www.example.com/", "example.com"},
		{"example.com", "example.com"},
		{"https://sub.example.com/blog/", "sub.example.com/blog"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalAddr(tt.in), tt.in)
	}
}

func TestEqual_CanonicalizesAddress(t *testing.T) {
	a := GID{OriginNodeID: 1, ContentID: 10, NetworkAddr: "https://www.example.com/"}
	b := GID{OriginNodeID: 1, ContentID: 10, NetworkAddr: "example.com"}
	c := GID{OriginNodeID: 1, ContentID: 10, NetworkAddr: "other.com"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(GID{OriginNodeID: 2, ContentID: 10, NetworkAddr: "example.com"}))
}

func TestIsRemote(t *testing.T) {
	assert.False(t, GID{OriginNodeID: 1, ContentID: 2}.IsRemote())
	assert.True(t, GID{OriginNodeID: 1, ContentID: 2, NetworkAddr: "example.com"}.IsRemote())
}

func TestValidWire(t *testing.T) {
	assert.True(t, ValidWire("1-10"))
	assert.True(t, ValidWire("1-10-example.com"))
	assert.True(t, ValidWire("1-10-my-site.org/blog"))
	assert.False(t, ValidWire("1"))
	assert.False(t, ValidWire("a-b"))
	assert.False(t, ValidWire("1-10-"))
}
