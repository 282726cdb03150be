package cachex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_SetGetDelete(t *testing.T) {
	c := NewRequest()

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", 42)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestTTL_Expiry(t *testing.T) {
	c := NewTTL(20 * time.Millisecond)
	c.Set("remote:example.com/posts", "listing")

	v, ok := c.Get("remote:example.com/posts")
	require.True(t, ok)
	assert.Equal(t, "listing", v)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("remote:example.com/posts")
	assert.False(t, ok)
}
