// Package connmap maintains the per-root registry of linked copies. The
// origin node owns the authoritative map; mutations for remote roots are
// proxied to the origin, and failures to reach it land on a retry queue
// for manual re-triggering.
package connmap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"contentsync/internal/common"
	"contentsync/internal/gid"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/remote"
	"contentsync/internal/store"
)

// Payload is the wire form of one link entry, used both for proxied
// mutations and for connection listings between peers.
type Payload struct {
	NodeID     int64  `json:"node_id"`
	ContentID  int64  `json:"content_id"`
	Address    string `json:"address,omitempty"`
	EditURL    string `json:"edit_url,omitempty"`
	SiteURL    string `json:"site_url,omitempty"`
	DisplayURL string `json:"display_url,omitempty"`
}

func (p Payload) record() model.LinkRecord {
	return model.LinkRecord{
		ContentID:  p.ContentID,
		EditURL:    p.EditURL,
		SiteURL:    p.SiteURL,
		DisplayURL: p.DisplayURL,
	}
}

// CheckResult is the outcome of one reconciliation run.
type CheckResult struct {
	Map *model.ConnectionMap
	// Warnings lists remote peers that could not be verified; their
	// entries were preserved as-is.
	Warnings []string
	// Dropped counts local entries removed because no live object backs
	// them anymore.
	Dropped int
}

// Service reads and mutates connection maps.
type Service struct {
	store   store.Store
	nodes   nodectx.Registry
	peers   remote.Registry
	sender  remote.Sender
	retries RetryQueue
	log     logging.Logger
}

// New builds a Service. retries may be nil when deferred remote
// mutations are not wanted (archive-only deployments).
func New(st store.Store, nodes nodectx.Registry, peers remote.Registry, sender remote.Sender, retries RetryQueue, log logging.Logger) *Service {
	return &Service{store: st, nodes: nodes, peers: peers, sender: sender, retries: retries, log: log}
}

// Get loads the stored map of a root object. An object with no stored
// map yields an empty one.
func (s *Service) Get(ctx context.Context, nodeID, rootID int64) (*model.ConnectionMap, error) {
	post, err := s.store.Get(ctx, nodeID, rootID)
	if err != nil {
		return nil, err
	}
	raw := post.MetaValue(common.MetaKeyConnections)
	if raw == "" {
		return model.NewConnectionMap(), nil
	}
	m := model.NewConnectionMap()
	if err := json.Unmarshal([]byte(raw), m); err != nil {
		return nil, fmt.Errorf("connection map of %d: %w", rootID, err)
	}
	return m, nil
}

func (s *Service) save(ctx context.Context, nodeID, rootID int64, m *model.ConnectionMap) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.store.SetMeta(ctx, nodeID, rootID, common.MetaKeyConnections, string(data))
}

// locate resolves a GID whose origin is on this cluster to its root row.
func (s *Service) locate(ctx context.Context, g gid.GID) (int64, int64, error) {
	posts, err := s.store.FindByMeta(ctx, g.OriginNodeID, common.MetaKeyGID, g.String())
	if err != nil {
		return 0, 0, err
	}
	for _, p := range posts {
		if p.MetaValue(common.MetaKeySyncStatus) == string(model.StatusRoot) {
			return g.OriginNodeID, p.ID, nil
		}
	}
	if len(posts) > 0 {
		return g.OriginNodeID, posts[0].ID, nil
	}
	return 0, 0, fmt.Errorf("root of %s: %w", g.String(), common.ErrNotFound)
}

// Add records a linked copy in the map of the root identified by g.
// p.Address distinguishes a copy on a local cluster node (empty) from a
// copy on a remote network. A remote root is mutated through its origin;
// when the origin cannot be reached the mutation is queued for retry.
func (s *Service) Add(ctx context.Context, g string, p Payload) error {
	return s.mutate(ctx, g, p, OpAdd)
}

// Remove drops a linked copy from the map of the root identified by g.
func (s *Service) Remove(ctx context.Context, g string, p Payload) error {
	return s.mutate(ctx, g, p, OpRemove)
}

func (s *Service) mutate(ctx context.Context, rawGID string, p Payload, op Op) error {
	g, err := gid.Decode(rawGID)
	if err != nil {
		return err
	}

	if g.IsRemote() && !s.localAddr(ctx, g.NetworkAddr) {
		return s.proxyMutation(ctx, g, p, op)
	}

	nodeID, rootID, err := s.locate(ctx, g)
	if err != nil {
		return err
	}
	m, err := s.Get(ctx, nodeID, rootID)
	if err != nil {
		return err
	}

	switch {
	case op == OpAdd && p.Address == "":
		m.SetLocal(p.NodeID, p.record())
	case op == OpAdd:
		m.SetRemote(p.Address, p.NodeID, p.record())
	case p.Address == "":
		m.RemoveLocal(p.NodeID)
	default:
		m.RemoveRemote(p.Address, p.NodeID)
	}
	return s.save(ctx, nodeID, rootID, m)
}

// connectionsPath escapes the GID segment; a network address may carry
// "/" and must stay one path segment on the wire.
func connectionsPath(rawGID string) string {
	return "/posts/" + url.PathEscape(rawGID) + "/connections"
}

func (s *Service) proxyMutation(ctx context.Context, g gid.GID, p Payload, op Op) error {
	conn, err := s.peers.ByAddress(ctx, g.NetworkAddr)
	if err != nil {
		return fmt.Errorf("no connection to %s: %w", g.NetworkAddr, err)
	}

	method := http.MethodPost
	if op == OpRemove {
		method = http.MethodDelete
	}
	_, err = s.sender.Send(ctx, conn, connectionsPath(g.String()), p, method)
	if err == nil {
		return nil
	}

	if s.retries != nil {
		if qerr := s.retries.Enqueue(ctx, Retry{GID: g.String(), Op: op, Payload: p}); qerr != nil {
			s.log.Error(ctx, "retry enqueue failed", "gid", g.String(), "err", qerr)
		} else {
			s.log.Warn(ctx, "origin unreachable, mutation queued", "gid", g.String(), "op", op)
		}
	}
	return err
}

// Flush replays every queued remote mutation, dropping the ones that
// land. It is invoked manually; nothing retries in the background.
func (s *Service) Flush(ctx context.Context) (int, error) {
	if s.retries == nil {
		return 0, nil
	}
	pending, err := s.retries.List(ctx)
	if err != nil {
		return 0, err
	}

	flushed := 0
	for _, r := range pending {
		g, err := gid.Decode(r.GID)
		if err != nil {
			s.log.Warn(ctx, "dropping malformed queued mutation", "gid", r.GID)
			if err := s.retries.Delete(ctx, r.ID); err != nil {
				return flushed, err
			}
			continue
		}
		if err := s.proxyDirect(ctx, g, r.Payload, r.Op); err != nil {
			s.log.Warn(ctx, "queued mutation still failing", "gid", r.GID, "err", err)
			continue
		}
		if err := s.retries.Delete(ctx, r.ID); err != nil {
			return flushed, err
		}
		flushed++
	}
	return flushed, nil
}

// proxyDirect is proxyMutation without re-enqueueing on failure.
func (s *Service) proxyDirect(ctx context.Context, g gid.GID, p Payload, op Op) error {
	conn, err := s.peers.ByAddress(ctx, g.NetworkAddr)
	if err != nil {
		return err
	}
	method := http.MethodPost
	if op == OpRemove {
		method = http.MethodDelete
	}
	_, err = s.sender.Send(ctx, conn, connectionsPath(g.String()), p, method)
	return err
}

// Check reconciles the stored map of a local root against ground truth.
// Local entries are recomputed by scanning every cluster node for live
// copies; entries with no backing object are dropped. Remote entries are
// verified against each peer; an unreachable peer's entries are kept
// untouched with a warning, never dropped on a timeout.
func (s *Service) Check(ctx context.Context, nodeID, rootID int64) (*CheckResult, error) {
	root, err := s.store.Get(ctx, nodeID, rootID)
	if err != nil {
		return nil, err
	}
	rawGID := root.MetaValue(common.MetaKeyGID)
	if rawGID == "" {
		return nil, fmt.Errorf("object %d is not synchronized: %w", rootID, common.ErrValidation)
	}

	stored, err := s.Get(ctx, nodeID, rootID)
	if err != nil {
		return nil, err
	}

	res := &CheckResult{Map: model.NewConnectionMap()}

	clusterNodes, err := s.nodes.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range clusterNodes {
		if n.ID == nodeID {
			continue
		}
		copies, err := s.store.FindByMeta(ctx, n.ID, common.MetaKeyGID, rawGID)
		if err != nil {
			return nil, err
		}
		for _, c := range copies {
			res.Map.SetLocal(n.ID, linkRecord(n, c.ID))
		}
	}
	res.Dropped = len(stored.Local) - len(res.Map.Local)
	if res.Dropped < 0 {
		res.Dropped = 0
	}

	for addr, nodes := range stored.Remote {
		live, err := s.remoteCopies(ctx, addr, rawGID)
		if err != nil {
			s.log.Warn(ctx, "peer unverifiable, keeping its entries",
				"addr", addr, "err", err)
			res.Warnings = append(res.Warnings, addr)
			for id, rec := range nodes {
				res.Map.SetRemote(addr, id, rec)
			}
			continue
		}
		for _, p := range live {
			res.Map.SetRemote(addr, p.NodeID, p.record())
		}
	}

	if err := s.save(ctx, nodeID, rootID, res.Map); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) remoteCopies(ctx context.Context, addr, rawGID string) ([]Payload, error) {
	conn, err := s.peers.ByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	raw, err := s.sender.Send(ctx, conn, connectionsPath(rawGID), nil, http.MethodGet)
	if err != nil {
		return nil, err
	}
	var out []Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("peer %s connection listing: %w", addr, err)
	}
	return out, nil
}

// Register implements the importer's bookkeeping hook: the freshly
// imported copy on node is recorded in its root's map, locally when the
// origin lives on this cluster, through the origin's API otherwise.
func (s *Service) Register(ctx context.Context, node *nodectx.Node, rootGID string, localID int64) error {
	g, err := gid.Decode(rootGID)
	if err != nil {
		return err
	}
	p := Payload{
		NodeID:     node.ID,
		ContentID:  localID,
		EditURL:    editURL(node, localID),
		SiteURL:    node.SiteURL,
		DisplayURL: displayURL(node, localID),
	}
	if g.IsRemote() && !s.localAddr(ctx, g.NetworkAddr) {
		// the callee keys this cluster's entries by our canonical address
		p.Address = gid.CanonicalAddr(node.SiteURL)
	}
	return s.Add(ctx, rootGID, p)
}

// localAddr reports whether addr names one of this cluster's own nodes.
// Minted GIDs always carry the origin's network address, so an address
// match is what separates "our root" from "a root owned elsewhere".
func (s *Service) localAddr(ctx context.Context, addr string) bool {
	nodes, err := s.nodes.Nodes(ctx)
	if err != nil {
		return false
	}
	addr = gid.CanonicalAddr(addr)
	for _, n := range nodes {
		if gid.CanonicalAddr(n.SiteURL) == addr {
			return true
		}
	}
	return false
}

func linkRecord(n *nodectx.Node, contentID int64) model.LinkRecord {
	return model.LinkRecord{
		ContentID:  contentID,
		EditURL:    editURL(n, contentID),
		SiteURL:    n.SiteURL,
		DisplayURL: displayURL(n, contentID),
	}
}

func editURL(n *nodectx.Node, id int64) string {
	return n.SiteURL + "/admin/content/" + strconv.FormatInt(id, 10) + "/edit"
}

func displayURL(n *nodectx.Node, id int64) string {
	return n.SiteURL + "/?p=" + strconv.FormatInt(id, 10)
}
