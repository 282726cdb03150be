package remote

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// The wire credential is deliberately only obfuscated, not encrypted: the
// peer must recover the plain application password to validate it. Real
// confidentiality comes from TLS on the transport and from sealing the
// stored copy (below).

// Obfuscate encodes a plain application password for the wire.
func Obfuscate(password string) string {
	b := []byte(password)
	for i := range b {
		b[i] ^= 0x5a
	}
	return base64.StdEncoding.EncodeToString(b)
}

// Deobfuscate recovers the plain password from its wire form.
func Deobfuscate(obfuscated string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(obfuscated)
	if err != nil {
		return "", fmt.Errorf("malformed credential: %w", err)
	}
	for i := range b {
		b[i] ^= 0x5a
	}
	return string(b), nil
}

// SealSecret encrypts an obfuscated secret for storage. key must be 32
// bytes; the nonce is prepended to the ciphertext.
func SealSecret(key []byte, secret string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(secret), nil), nil
}

// OpenSecret decrypts a stored secret.
func OpenSecret(key, sealed []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("open secret: ciphertext too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(plain), nil
}
