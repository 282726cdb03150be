package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObfuscate_RoundTrip(t *testing.T) {
	for _, pw := range []string{"", "s3cret", "app password with spaces"} {
		got, err := Deobfuscate(Obfuscate(pw))
		require.NoError(t, err)
		assert.Equal(t, pw, got)
	}

	// obfuscated form never carries the plain text
	assert.NotContains(t, Obfuscate("s3cret"), "s3cret")
}

func TestDeobfuscate_Malformed(t *testing.T) {
	_, err := Deobfuscate("!!not-base64!!")
	assert.Error(t, err)
}

func TestSealOpenSecret(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")

	sealed, err := SealSecret(key, "wire-secret")
	require.NoError(t, err)

	got, err := OpenSecret(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "wire-secret", got)

	// wrong key fails
	other := make([]byte, 32)
	_, err = OpenSecret(other, sealed)
	assert.Error(t, err)

	_, err = OpenSecret(key, []byte("short"))
	assert.Error(t, err)
}
