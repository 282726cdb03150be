package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// LinkRecord describes one linked copy of a root object on some node.
type LinkRecord struct {
	ContentID  int64  `json:"content_id"`
	EditURL    string `json:"edit_url"`
	SiteURL    string `json:"site_url"`
	DisplayURL string `json:"display_url"`
}

// ConnectionMap is the per-root registry of every node holding a linked
// copy. Local entries are keyed by node id; remote entries are keyed by
// network address and nest a second map keyed by the remote node id,
// because one remote installation can itself be a cluster.
type ConnectionMap struct {
	Local  map[int64]LinkRecord
	Remote map[string]map[int64]LinkRecord
}

// NewConnectionMap returns an empty, ready-to-use map.
func NewConnectionMap() *ConnectionMap {
	return &ConnectionMap{
		Local:  make(map[int64]LinkRecord),
		Remote: make(map[string]map[int64]LinkRecord),
	}
}

// SetLocal records a linked copy on a local node.
func (m *ConnectionMap) SetLocal(nodeID int64, rec LinkRecord) {
	if m.Local == nil {
		m.Local = make(map[int64]LinkRecord)
	}
	m.Local[nodeID] = rec
}

// SetRemote records a linked copy on a node of a remote network.
func (m *ConnectionMap) SetRemote(addr string, nodeID int64, rec LinkRecord) {
	if m.Remote == nil {
		m.Remote = make(map[string]map[int64]LinkRecord)
	}
	if m.Remote[addr] == nil {
		m.Remote[addr] = make(map[int64]LinkRecord)
	}
	m.Remote[addr][nodeID] = rec
}

// RemoveLocal drops a local entry, reporting whether it existed.
func (m *ConnectionMap) RemoveLocal(nodeID int64) bool {
	if _, ok := m.Local[nodeID]; !ok {
		return false
	}
	delete(m.Local, nodeID)
	return true
}

// RemoveRemote drops a remote entry, reporting whether it existed. An empty
// per-address map is removed with it.
func (m *ConnectionMap) RemoveRemote(addr string, nodeID int64) bool {
	nodes, ok := m.Remote[addr]
	if !ok {
		return false
	}
	if _, ok := nodes[nodeID]; !ok {
		return false
	}
	delete(nodes, nodeID)
	if len(nodes) == 0 {
		delete(m.Remote, addr)
	}
	return true
}

// Len counts all entries, local and remote.
func (m *ConnectionMap) Len() int {
	n := len(m.Local)
	for _, nodes := range m.Remote {
		n += len(nodes)
	}
	return n
}

// MarshalJSON flattens the map into the single-level wire form: local
// entries keyed by the node id string, remote entries keyed by address
// and nesting a node-id-keyed object.
func (m *ConnectionMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Local)+len(m.Remote))
	for id, rec := range m.Local {
		out[strconv.FormatInt(id, 10)] = rec
	}
	for addr, nodes := range m.Remote {
		nested := make(map[string]LinkRecord, len(nodes))
		for id, rec := range nodes {
			nested[strconv.FormatInt(id, 10)] = rec
		}
		out[addr] = nested
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the two-level structure. Keys that parse as
// integers are local node ids; anything else is a remote address.
func (m *ConnectionMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Local = make(map[int64]LinkRecord)
	m.Remote = make(map[string]map[int64]LinkRecord)
	for key, val := range raw {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			var rec LinkRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("connection map entry %q: %w", key, err)
			}
			m.Local[id] = rec
			continue
		}
		var nested map[string]LinkRecord
		if err := json.Unmarshal(val, &nested); err != nil {
			return fmt.Errorf("connection map entry %q: %w", key, err)
		}
		nodes := make(map[int64]LinkRecord, len(nested))
		for nk, rec := range nested {
			id, err := strconv.ParseInt(nk, 10, 64)
			if err != nil {
				return fmt.Errorf("connection map entry %q/%q: %w", key, nk, err)
			}
			nodes[id] = rec
		}
		m.Remote[key] = nodes
	}
	return nil
}

// RemoteAddrs lists remote addresses in stable order.
func (m *ConnectionMap) RemoteAddrs() []string {
	addrs := make([]string, 0, len(m.Remote))
	for a := range m.Remote {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}
