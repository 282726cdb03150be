// Package remote implements the boundary toward peer installations: the
// connection registry, the credential codec, and the HTTP client speaking
// the peer envelope protocol.
package remote

import (
	"time"

	"contentsync/internal/gid"
)

// Connection is one established peer. Address is stored canonicalized;
// Secret holds the reversibly obfuscated application password as it is
// presented on the wire.
type Connection struct {
	ID      int64
	Address string
	Login   string
	Secret  string
	AddedAt time.Time
}

// NewConnection canonicalizes the address and obfuscates the plain
// application password.
func NewConnection(address, login, password string) *Connection {
	return &Connection{
		Address: gid.CanonicalAddr(address),
		Login:   login,
		Secret:  Obfuscate(password),
		AddedAt: time.Now().UTC(),
	}
}

// BaseURL is the https URL requests to this peer are built from.
func (c *Connection) BaseURL() string {
	return "https://" + c.Address
}
