package prepare

import (
	"strings"

	"contentsync/internal/common"
)

// MetaTransform rewrites one meta value during projection. Returning
// ok=false drops the pair. Transforms are registered per meta key at
// construction; there is no runtime dispatch by event name.
type MetaTransform func(key, value string) (string, bool)

// Meta keys with structural meaning to the preparer.
const (
	MetaKeyThumbnail    = "_thumbnail_id"
	MetaKeyAttachedFile = "_attached_file"
)

// alwaysExcludedMeta are internal cache, lock and sync bookkeeping keys
// that must never travel: they describe node-local state, not content.
// The GID rides on the unit itself, not in the meta bag.
var alwaysExcludedMeta = map[string]struct{}{
	common.MetaKeyGID:         {},
	common.MetaKeySyncStatus:  {},
	common.MetaKeyConnections: {},
	"_edit_lock":              {},
	"_edit_last":              {},
	"_encloseme":              {},
	"_pingme":                 {},
	"_wp_old_slug":            {},
	"content_sync_legacy":     {},
	"_content_sync_cache":     {},
	"_content_sync_lock":      {},
	"content_sync_pending":    {},
}

// excludedMetaPrefixes covers keys belonging to inactive optional
// subsystems; they are projected only when the subsystem registered a
// transform claiming them.
var excludedMetaPrefixes = []string{"_oembed_", "_transient_"}

// projectMeta copies the meta bag through the exclusion rules and the
// per-key transforms. Empty values are skippable and dropped.
func (p *Preparer) projectMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		if _, excluded := alwaysExcludedMeta[key]; excluded {
			continue
		}
		if _, excluded := p.excludeMeta[key]; excluded {
			continue
		}
		if tr, ok := p.transforms[key]; ok {
			v, keep := tr(key, value)
			if !keep {
				continue
			}
			out[key] = v
			continue
		}
		if hasExcludedPrefix(key) {
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// FilterMeta applies the standing exclusion rules without any per-key
// transforms. The importer runs incoming meta through it again so a
// hand-crafted transfer set cannot smuggle bookkeeping keys in.
func FilterMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		if _, excluded := alwaysExcludedMeta[key]; excluded {
			continue
		}
		if hasExcludedPrefix(key) {
			continue
		}
		out[key] = value
	}
	return out
}

func hasExcludedPrefix(key string) bool {
	for _, prefix := range excludedMetaPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
