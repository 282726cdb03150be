// Package server exposes the peer synchronization API: a namespaced
// REST surface speaking the JSON envelope protocol, authenticated with
// HTTP Basic credentials plus a bidirectional connection check.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	restful "github.com/emicklei/go-restful/v3"

	"contentsync/internal/cachex"
	"contentsync/internal/common"
	"contentsync/internal/conflict"
	"contentsync/internal/connmap"
	"contentsync/internal/distribute"
	"contentsync/internal/export"
	"contentsync/internal/gid"
	"contentsync/internal/importer"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/remote"
	"contentsync/internal/store"
)

// Handler wires the sync engines to the REST routes.
type Handler struct {
	node     *nodectx.Node
	nodes    nodectx.Registry
	switcher *nodectx.Switcher
	store    store.Store
	exporter *export.Engine
	resolver *conflict.Resolver
	importer *importer.Engine
	conns    *connmap.Service
	dist     *distribute.Distributor
	tracker  *distribute.Tracker
	peers    remote.Registry
	sender   remote.Sender
	// listings caches the per-GID cluster connection scan; reconciling
	// peers poll it and tolerate staleness within the TTL.
	listings cachex.Cache
	log      logging.Logger
}

func NewHandler(node *nodectx.Node, nodes nodectx.Registry, sw *nodectx.Switcher, st store.Store, exp *export.Engine, res *conflict.Resolver, imp *importer.Engine, conns *connmap.Service, dist *distribute.Distributor, tracker *distribute.Tracker, peers remote.Registry, sender remote.Sender, log logging.Logger) *Handler {
	return &Handler{
		node:     node,
		nodes:    nodes,
		switcher: sw,
		store:    st,
		exporter: exp,
		resolver: res,
		importer: imp,
		conns:    conns,
		dist:     dist,
		tracker:  tracker,
		peers:    peers,
		sender:   sender,
		listings: cachex.NewTTL(cachex.RemoteObjectTTL),
		log:      log,
	}
}

// WebService assembles the peer API under the shared base path.
func (h *Handler) WebService() *restful.WebService {
	ws := new(restful.WebService)
	ws.Path(remote.BasePath).
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)
	ws.Filter(h.authFilter)

	ws.Route(ws.GET("/site_name").To(h.siteName))
	ws.Route(ws.GET("/check_auth").To(h.checkAuth))
	ws.Route(ws.POST("/add_connection").To(h.addConnection))

	ws.Route(ws.GET("/posts").To(h.listPosts))
	ws.Route(ws.GET("/posts/{id}").To(h.getPost))
	ws.Route(ws.POST("/posts/{id}/prepare").To(h.preparePost))

	ws.Route(ws.GET("/posts/{gid}/connections").To(h.getConnections))
	ws.Route(ws.POST("/posts/{gid}/connections").To(h.addConnectionEntry))
	ws.Route(ws.DELETE("/posts/{gid}/connections").To(h.removeConnectionEntry))

	ws.Route(ws.GET("/connected_posts").To(h.connectedPosts))

	ws.Route(ws.POST("/distribution/start").To(h.startDistribution))
	ws.Route(ws.GET("/distribution/items/{id}").To(h.distributionItem))
	ws.Route(ws.POST("/distribution/distribute-item").To(h.distributeItem))
	ws.Route(ws.POST("/distribution/update-item").To(h.updateItem))
	return ws
}

// writeSuccess emits a success envelope with outer HTTP 200.
func (h *Handler) writeSuccess(resp *restful.Response, message string, data any) {
	env, err := remote.Success(message, data)
	if err != nil {
		h.writeFailure(resp, "encode response: "+err.Error(), "", http.StatusInternalServerError)
		return
	}
	if err := resp.WriteAsJson(env); err != nil {
		h.log.Error(context.Background(), "response write failed", "err", err)
	}
}

// writeFailure emits an error envelope. The outer HTTP status stays 200;
// the envelope's inner status is what callers act on.
func (h *Handler) writeFailure(resp *restful.Response, message, machineCode string, status int) {
	if err := resp.WriteAsJson(remote.Failure(message, machineCode, status)); err != nil {
		h.log.Error(context.Background(), "response write failed", "err", err)
	}
}

// writeError maps the error taxonomy onto envelope statuses.
func (h *Handler) writeError(resp *restful.Response, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		h.writeFailure(resp, err.Error(), "", http.StatusNotFound)
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrMalformedGID):
		h.writeFailure(resp, err.Error(), "", http.StatusBadRequest)
	case errors.Is(err, common.ErrUnauthorized):
		h.writeFailure(resp, err.Error(), remote.CodeNotAuthorized, http.StatusUnauthorized)
	case errors.Is(err, common.ErrNotConnected):
		h.writeFailure(resp, err.Error(), remote.CodeNotConnected, http.StatusForbidden)
	default:
		h.writeFailure(resp, err.Error(), "", http.StatusInternalServerError)
	}
}

func (h *Handler) siteName(req *restful.Request, resp *restful.Response) {
	h.writeSuccess(resp, "site", map[string]any{
		"name":    h.node.Name,
		"node_id": h.node.ID,
		"address": gid.CanonicalAddr(h.node.SiteURL),
	})
}

func (h *Handler) checkAuth(req *restful.Request, resp *restful.Response) {
	h.writeSuccess(resp, "authenticated", map[string]bool{"ok": true})
}

type addConnectionRequest struct {
	Address  string `json:"address"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

// addConnection registers the caller as an outbound peer, so this node
// can call back for connection-map updates and status callbacks.
func (h *Handler) addConnection(req *restful.Request, resp *restful.Response) {
	var body addConnectionRequest
	if err := req.ReadEntity(&body); err != nil {
		h.writeFailure(resp, "unreadable body: "+err.Error(), "", http.StatusBadRequest)
		return
	}
	if body.Address == "" || body.Login == "" || body.Password == "" {
		h.writeFailure(resp, "address, login and password are required", "", http.StatusBadRequest)
		return
	}
	conn := remote.NewConnection(body.Address, body.Login, body.Password)
	if err := h.peers.Add(req.Request.Context(), conn); err != nil {
		h.writeError(resp, err)
		return
	}
	h.writeSuccess(resp, "connection added", map[string]string{"address": conn.Address})
}

func (h *Handler) listPosts(req *restful.Request, resp *restful.Response) {
	ctx := req.Request.Context()
	f := store.Filter{
		Type:   req.QueryParameter("type"),
		Status: req.QueryParameter("status"),
		Search: req.QueryParameter("search"),
	}
	if raw := req.QueryParameter("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeFailure(resp, "invalid limit", "", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}
	posts, err := h.store.List(ctx, h.node.ID, f)
	if err != nil {
		h.writeError(resp, err)
		return
	}
	h.writeSuccess(resp, "posts", posts)
}

func (h *Handler) getPost(req *restful.Request, resp *restful.Response) {
	id, err := strconv.ParseInt(req.PathParameter("id"), 10, 64)
	if err != nil {
		h.writeFailure(resp, "invalid id", "", http.StatusBadRequest)
		return
	}
	post, err := h.store.Get(req.Request.Context(), h.node.ID, id)
	if err != nil {
		h.writeError(resp, err)
		return
	}
	h.writeSuccess(resp, "post", post)
}

// preparePost builds the transfer set of one root object, so a peer can
// pull content instead of waiting for a push.
func (h *Handler) preparePost(req *restful.Request, resp *restful.Response) {
	id, err := strconv.ParseInt(req.PathParameter("id"), 10, 64)
	if err != nil {
		h.writeFailure(resp, "invalid id", "", http.StatusBadRequest)
		return
	}
	var cfg model.ExportConfig
	if err := req.ReadEntity(&cfg); err != nil {
		h.writeFailure(resp, "unreadable body: "+err.Error(), "", http.StatusBadRequest)
		return
	}
	units, err := h.exporter.Export(req.Request.Context(), h.node, id, cfg)
	if err != nil {
		h.writeError(resp, err)
		return
	}
	h.writeSuccess(resp, "prepared", units)
}

// getConnections lists the live copies of a GID across this cluster,
// which is also what a reconciling origin asks a peer for.
func (h *Handler) getConnections(req *restful.Request, resp *restful.Response) {
	ctx := req.Request.Context()
	rawGID := req.PathParameter("gid")
	if !gid.ValidWire(rawGID) {
		h.writeFailure(resp, "malformed gid", "", http.StatusBadRequest)
		return
	}
	if cached, ok := h.listings.Get(rawGID); ok {
		h.writeSuccess(resp, "connections", cached)
		return
	}

	clusterNodes, err := h.nodes.Nodes(ctx)
	if err != nil {
		h.writeError(resp, err)
		return
	}
	var out []connmap.Payload
	for _, n := range clusterNodes {
		copies, err := h.store.FindByMeta(ctx, n.ID, common.MetaKeyGID, rawGID)
		if err != nil {
			h.writeError(resp, err)
			return
		}
		for _, c := range copies {
			out = append(out, connmap.Payload{
				NodeID:    n.ID,
				ContentID: c.ID,
				SiteURL:   n.SiteURL,
			})
		}
	}
	h.listings.Set(rawGID, out)
	h.writeSuccess(resp, "connections", out)
}

func (h *Handler) addConnectionEntry(req *restful.Request, resp *restful.Response) {
	h.mutateConnections(req, resp, h.conns.Add, "connection recorded")
}

func (h *Handler) removeConnectionEntry(req *restful.Request, resp *restful.Response) {
	h.mutateConnections(req, resp, h.conns.Remove, "connection removed")
}

func (h *Handler) mutateConnections(req *restful.Request, resp *restful.Response, op func(context.Context, string, connmap.Payload) error, message string) {
	ctx := req.Request.Context()
	rawGID := req.PathParameter("gid")
	if !gid.ValidWire(rawGID) {
		h.writeFailure(resp, "malformed gid", "", http.StatusBadRequest)
		return
	}
	var p connmap.Payload
	if err := req.ReadEntity(&p); err != nil {
		h.writeFailure(resp, "unreadable body: "+err.Error(), "", http.StatusBadRequest)
		return
	}
	// a remote caller's entries are keyed under its own network address
	if p.Address == "" {
		p.Address = gid.CanonicalAddr(req.Request.Header.Get(common.OriginHeader))
	}
	if err := op(ctx, rawGID, p); err != nil {
		h.writeError(resp, err)
		return
	}
	h.listings.Delete(rawGID)
	h.writeSuccess(resp, message, nil)
}

// connectedPost is one synchronized object in a listing.
type connectedPost struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Title  string `json:"title"`
	Type   string `json:"type"`
	GID    string `json:"gid"`
	Status string `json:"status"`
}

func (h *Handler) connectedPosts(req *restful.Request, resp *restful.Response) {
	ctx := req.Request.Context()
	var out []connectedPost
	for _, status := range []model.SyncStatus{model.StatusRoot, model.StatusLinked} {
		posts, err := h.store.FindByMeta(ctx, h.node.ID, common.MetaKeySyncStatus, string(status))
		if err != nil {
			h.writeError(resp, err)
			return
		}
		for _, p := range posts {
			out = append(out, connectedPost{
				ID:     p.ID,
				Name:   p.Name,
				Title:  p.Title,
				Type:   p.Type,
				GID:    p.MetaValue(common.MetaKeyGID),
				Status: string(status),
			})
		}
	}
	h.writeSuccess(resp, "connected posts", out)
}

type startDistributionRequest struct {
	RootID       int64                    `json:"root_id"`
	Config       model.ExportConfig       `json:"config"`
	Destinations []distribute.Destination `json:"destinations"`
}

// itemSummary is the wire shape of one fan-out's progress.
type itemSummary struct {
	ID       string                      `json:"id"`
	RootID   int64                       `json:"root_id"`
	Status   model.DestStatus            `json:"status"`
	Statuses map[string]model.DestStatus `json:"statuses"`
	Errors   map[string]string           `json:"errors,omitempty"`
}

func summarize(item *model.DistributionItem) itemSummary {
	return itemSummary{
		ID:       item.ID,
		RootID:   item.RootID,
		Status:   item.Aggregate(),
		Statuses: item.Statuses(),
		Errors:   item.Errors(),
	}
}

// startDistribution exports a root and fans the prepared set out to the
// requested destinations. Local destinations finish before the response;
// remote ones stay started until the peer reports back.
func (h *Handler) startDistribution(req *restful.Request, resp *restful.Response) {
	ctx := req.Request.Context()
	var body startDistributionRequest
	if err := req.ReadEntity(&body); err != nil {
		h.writeFailure(resp, "unreadable body: "+err.Error(), "", http.StatusBadRequest)
		return
	}
	if body.RootID == 0 || len(body.Destinations) == 0 {
		h.writeFailure(resp, "root_id and destinations are required", "", http.StatusBadRequest)
		return
	}

	units, err := h.exporter.Export(ctx, h.node, body.RootID, body.Config)
	if err != nil {
		h.writeError(resp, err)
		return
	}
	item := h.dist.Distribute(ctx, units, body.Destinations)
	h.writeSuccess(resp, "distribution queued", summarize(item))
}

// distributionItem reports the progress of one fan-out. Items are pruned
// once every destination is terminal, so an unknown id means finished or
// never started.
func (h *Handler) distributionItem(req *restful.Request, resp *restful.Response) {
	item := h.tracker.Item(req.PathParameter("id"))
	if item == nil {
		h.writeFailure(resp, "unknown distribution item", "", http.StatusNotFound)
		return
	}
	h.writeSuccess(resp, "distribution item", summarize(item))
}

// distributeItem accepts an inbound transfer. The import cannot run
// inside the request without holding the origin's transfer call open for
// its whole duration, so the set is acknowledged immediately and the
// true outcome travels back through a separate update-item call.
func (h *Handler) distributeItem(req *restful.Request, resp *restful.Response) {
	var payload distribute.TransferPayload
	if err := req.ReadEntity(&payload); err != nil {
		h.writeFailure(resp, "unreadable body: "+err.Error(), "", http.StatusBadRequest)
		return
	}
	if payload.ItemID == "" || len(payload.Units) == 0 {
		h.writeFailure(resp, "item_id and units are required", "", http.StatusBadRequest)
		return
	}

	nodeID := payload.NodeID
	if nodeID == 0 {
		nodeID = h.node.ID
	}
	origin := gid.CanonicalAddr(req.Request.Header.Get(common.OriginHeader))

	go h.runImport(payload, nodeID, origin)
	h.writeSuccess(resp, "accepted", map[string]string{"item_id": payload.ItemID})
}

func (h *Handler) runImport(payload distribute.TransferPayload, nodeID int64, origin string) {
	ctx := context.Background()

	err := h.switcher.With(ctx, nodeID, func(ctx context.Context, node *nodectx.Node) error {
		decisions, err := h.resolver.Resolve(ctx, node, payload.Units, payload.Actions)
		if err != nil {
			return err
		}
		res := h.importer.Import(ctx, node, payload.Units, decisions, nil)
		return res.Err
	})

	update := distribute.StatusUpdate{
		ItemID:      payload.ItemID,
		Destination: payload.Destination,
		Status:      string(model.DestSuccess),
	}
	if err != nil {
		update.Status = string(model.DestFailed)
		update.Message = err.Error()
	}
	h.reportBack(ctx, origin, update)
}

// reportBack delivers the completion callback to the origin peer.
func (h *Handler) reportBack(ctx context.Context, origin string, update distribute.StatusUpdate) {
	if origin == "" {
		h.log.Warn(ctx, "no origin to report back to", "item", update.ItemID)
		return
	}
	conn, err := h.peers.ByAddress(ctx, origin)
	if err != nil {
		h.log.Error(ctx, "origin not registered, completion lost",
			"origin", origin, "item", update.ItemID)
		return
	}
	if _, err := h.sender.Send(ctx, conn, "/distribution/update-item", update, http.MethodPost); err != nil {
		h.log.Error(ctx, "completion callback failed",
			"origin", origin, "item", update.ItemID, "err", err)
	}
}

func (h *Handler) updateItem(req *restful.Request, resp *restful.Response) {
	var update distribute.StatusUpdate
	if err := req.ReadEntity(&update); err != nil {
		h.writeFailure(resp, "unreadable body: "+err.Error(), "", http.StatusBadRequest)
		return
	}
	if !h.tracker.Apply(update) {
		h.writeFailure(resp, "unknown distribution item "+update.ItemID, "", http.StatusNotFound)
		return
	}
	h.writeSuccess(resp, "status recorded", nil)
}
