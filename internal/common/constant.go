package common

// Meta keys attached to synchronized content objects. These travel with an
// object through export and import, so both ends must agree on them.
const (
	// MetaKeyGID holds the object's global identifier.
	MetaKeyGID = "content_sync_gid"

	// MetaKeySyncStatus holds the SyncStatus string ("root" or "linked").
	// Absent on ordinary, non-synchronized objects.
	MetaKeySyncStatus = "content_sync_status"

	// MetaKeyConnections holds the JSON-encoded connection map. Only
	// meaningful on a root object at its origin node.
	MetaKeyConnections = "content_sync_connections"
)

// OriginHeader carries the caller's canonical network address on every
// peer-to-peer request so the callee can verify a bidirectional connection.
const OriginHeader = "Origin"

// Message prefixes for admin-triggered actions.
const (
	MsgSuccessPrefix = "success::"
	MsgErrorPrefix   = "error::"
)
