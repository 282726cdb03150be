// Package model holds the data types shared by the synchronization engines:
// content objects as stored, prepared units as transferred, link records,
// and distribution bookkeeping.
package model

import "time"

// Post is one content object with a fixed core schema plus an open meta
// bag. Dynamic behavior of the underlying CMS is never modeled through
// reflection; everything beyond the core schema lives in Meta.
type Post struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"` // slug, unique per (name, type) on a node
	Title    string            `json:"title"`
	Type     string            `json:"type"`
	Status   string            `json:"status"`
	Content  string            `json:"content"`
	Excerpt  string            `json:"excerpt"`
	ParentID int64             `json:"parent_id"`
	Created  time.Time         `json:"created"`
	Modified time.Time         `json:"modified"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// MetaValue returns the meta value for key, or "" when absent.
func (p *Post) MetaValue(key string) string {
	if p.Meta == nil {
		return ""
	}
	return p.Meta[key]
}

// SetMeta sets a meta value, allocating the bag on first use.
func (p *Post) SetMeta(key, value string) {
	if p.Meta == nil {
		p.Meta = make(map[string]string)
	}
	p.Meta[key] = value
}

// Term is one taxonomy term. Parent chains are inlined so an importing
// node can recreate the full ancestry without further lookups.
type Term struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Taxonomy string `json:"taxonomy"`
	Parent   *Term  `json:"parent,omitempty"`
}

// SyncStatus marks a content object's role in synchronization.
type SyncStatus string

const (
	// StatusRoot marks the canonical origin copy.
	StatusRoot SyncStatus = "root"
	// StatusLinked marks a copy imported from elsewhere.
	StatusLinked SyncStatus = "linked"
	// StatusNone is the unset state of ordinary objects.
	StatusNone SyncStatus = ""
)
