// Package gid implements the global identifier codec. A GID names one
// synchronized content object across all connected installations as the
// triple (origin node id, content id, network address). The address segment
// is absent for objects whose origin is on the local network.
package gid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"contentsync/internal/common"
)

// GID is a decoded global identifier. The zero value is invalid.
type GID struct {
	OriginNodeID int64
	ContentID    int64
	// NetworkAddr is empty when the origin node lives on the local
	// network. It is stored as given; comparisons canonicalize it.
	NetworkAddr string
}

// wirePattern validates GIDs arriving over the wire before decoding.
var wirePattern = regexp.MustCompile(`^\d+-\d+(-[A-Za-z0-9.:/\-]+)?$`)

// Encode joins the triple into its canonical string form. The address
// segment is omitted when networkAddr is empty.
func Encode(originNodeID, contentID int64, networkAddr string) string {
	if networkAddr == "" {
		return fmt.Sprintf("%d-%d", originNodeID, contentID)
	}
	return fmt.Sprintf("%d-%d-%s", originNodeID, contentID, networkAddr)
}

// Decode parses s into a GID. Node and content ids are non-negative
// integers; the address segment, when present, may itself contain dashes,
// so only the first two dashes act as separators. Malformed input yields
// a zero GID and common.ErrMalformedGID, never a panic.
func Decode(s string) (GID, error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) < 2 {
		return GID{}, fmt.Errorf("%w: %q", common.ErrMalformedGID, s)
	}

	origin, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || origin < 0 {
		return GID{}, fmt.Errorf("%w: %q", common.ErrMalformedGID, s)
	}
	content, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || content < 0 {
		return GID{}, fmt.Errorf("%w: %q", common.ErrMalformedGID, s)
	}

	g := GID{OriginNodeID: origin, ContentID: content}
	if len(parts) == 3 {
		if parts[2] == "" {
			return GID{}, fmt.Errorf("%w: %q", common.ErrMalformedGID, s)
		}
		g.NetworkAddr = parts[2]
	}
	return g, nil
}

// ValidWire reports whether s matches the wire-format grammar. Handlers use
// this to reject malformed path parameters with a validation error before
// attempting a decode.
func ValidWire(s string) bool {
	return wirePattern.MatchString(s)
}

// CanonicalAddr normalizes a network address for comparison: the scheme,
// a leading "www." and any trailing slash are stripped.
func CanonicalAddr(addr string) string {
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "www.")
	return strings.TrimSuffix(addr, "/")
}

// String returns the canonical encoded form.
func (g GID) String() string {
	return Encode(g.OriginNodeID, g.ContentID, g.NetworkAddr)
}

// IsZero reports whether g is the invalid zero value.
func (g GID) IsZero() bool {
	return g == GID{}
}

// IsRemote reports whether the origin node lives on another network.
func (g GID) IsRemote() bool {
	return g.NetworkAddr != ""
}

// Equal reports whether two GIDs name the same object. Addresses are
// compared after canonicalization, so "https://www.example.com/" and
// "example.com" match.
func (g GID) Equal(o GID) bool {
	return g.OriginNodeID == o.OriginNodeID &&
		g.ContentID == o.ContentID &&
		CanonicalAddr(g.NetworkAddr) == CanonicalAddr(o.NetworkAddr)
}
