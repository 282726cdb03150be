// Package distribute fans a prepared transfer set out to N destinations:
// other nodes of the local cluster, imported synchronously under a node
// switch, and remote peers, which accept the set over HTTP and report
// completion through a callback.
package distribute

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"contentsync/internal/conflict"
	"contentsync/internal/importer"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/remote"
)

// Destination is one fan-out target. Address empty means a node of the
// local cluster; otherwise the set travels to the peer at Address, and
// NodeID selects the node within that peer's cluster (0 for the peer's
// default).
type Destination struct {
	NodeID  int64
	Address string
	// Actions carries caller-supplied decisions for name collisions,
	// keyed by export-time id.
	Actions map[int64]model.Action
}

// Key is the destination's identity in status maps.
func (d Destination) Key() string {
	if d.Address != "" {
		return d.Address
	}
	return "node:" + strconv.FormatInt(d.NodeID, 10)
}

// TransferPayload is the wire form of one remote delivery.
type TransferPayload struct {
	ItemID string `json:"item_id"`
	// Destination echoes the key the peer must report back under.
	Destination string                 `json:"destination"`
	NodeID      int64                  `json:"node_id,omitempty"`
	Units       []*model.PreparedUnit  `json:"units"`
	Actions     map[int64]model.Action `json:"actions,omitempty"`
}

// StatusUpdate is the wire form of the completion callback.
type StatusUpdate struct {
	ItemID      string `json:"item_id"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
}

// Tracker holds in-flight distribution items so callbacks can find them.
type Tracker struct {
	mu    sync.Mutex
	items map[string]*model.DistributionItem
}

func NewTracker() *Tracker {
	return &Tracker{items: make(map[string]*model.DistributionItem)}
}

func (t *Tracker) add(item *model.DistributionItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[item.ID] = item
}

// Item returns a tracked item, or nil when the id is unknown.
func (t *Tracker) Item(id string) *model.DistributionItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.items[id]
}

// prune drops an item once every destination is terminal.
func (t *Tracker) prune(item *model.DistributionItem) {
	if !item.Done() {
		return
	}
	t.mu.Lock()
	delete(t.items, item.ID)
	t.mu.Unlock()
}

// Apply records a peer's completion callback, dropping the item from the
// tracker once every destination is terminal.
func (t *Tracker) Apply(u StatusUpdate) bool {
	t.mu.Lock()
	item, ok := t.items[u.ItemID]
	t.mu.Unlock()
	if !ok {
		return false
	}

	switch model.DestStatus(u.Status) {
	case model.DestFailed:
		item.SetError(u.Destination, u.Message)
	case model.DestSuccess, model.DestStarted, model.DestInit:
		item.SetStatus(u.Destination, model.DestStatus(u.Status))
	default:
		return false
	}

	t.prune(item)
	return true
}

// Distributor pushes transfer sets to destinations.
type Distributor struct {
	switcher *nodectx.Switcher
	resolver *conflict.Resolver
	importer *importer.Engine
	peers    remote.Registry
	sender   remote.Sender
	tracker  *Tracker
	source   importer.AssetSource
	log      logging.Logger
	workers  int
}

// Option tweaks a Distributor.
type Option func(*Distributor)

// WithWorkers bounds the fan-out concurrency. The default of 1 keeps
// destinations strictly sequential.
func WithWorkers(n int) Option {
	return func(d *Distributor) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithAssetSource supplies asset bytes to local imports.
func WithAssetSource(s importer.AssetSource) Option {
	return func(d *Distributor) { d.source = s }
}

func New(sw *nodectx.Switcher, res *conflict.Resolver, imp *importer.Engine, peers remote.Registry, sender remote.Sender, tracker *Tracker, log logging.Logger, opts ...Option) *Distributor {
	d := &Distributor{
		switcher: sw,
		resolver: res,
		importer: imp,
		peers:    peers,
		sender:   sender,
		tracker:  tracker,
		log:      log,
		workers:  1,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Distribute delivers units to every destination and returns the tracked
// item. Destination failures never propagate as errors; they are
// recorded on the item. Local destinations are terminal on return;
// remote ones stay started until the peer's callback arrives.
func (d *Distributor) Distribute(ctx context.Context, units []*model.PreparedUnit, dests []Destination) *model.DistributionItem {
	keys := make([]string, len(dests))
	byID := make(map[int64]*model.PreparedUnit, len(units))
	var rootID int64
	for _, u := range units {
		byID[u.ID] = u
		if u.IsRoot {
			rootID = u.ID
		}
	}
	for i, dest := range dests {
		keys[i] = dest.Key()
	}

	item := model.NewDistributionItem(rootID, byID, keys)
	d.tracker.add(item)

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, dest := range dests {
		wg.Add(1)
		sem <- struct{}{}
		go func(dest Destination) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, item, units, dest)
		}(dest)
	}
	wg.Wait()

	d.tracker.prune(item)
	return item
}

func (d *Distributor) deliver(ctx context.Context, item *model.DistributionItem, units []*model.PreparedUnit, dest Destination) {
	key := dest.Key()
	item.SetStatus(key, model.DestStarted)

	if dest.Address == "" {
		d.deliverLocal(ctx, item, units, dest)
		return
	}

	conn, err := d.peers.ByAddress(ctx, dest.Address)
	if err != nil {
		item.SetError(key, "no connection to "+dest.Address)
		return
	}
	payload := TransferPayload{
		ItemID:      item.ID,
		Destination: key,
		NodeID:      dest.NodeID,
		Units:       units,
		Actions:     dest.Actions,
	}
	if _, err := d.sender.SendTransfer(ctx, conn, "/distribution/distribute-item", payload, http.MethodPost); err != nil {
		d.log.Warn(ctx, "peer rejected transfer", "addr", dest.Address, "err", err)
		item.SetError(key, err.Error())
		return
	}
	// accepted; the peer reports completion via update-item
}

func (d *Distributor) deliverLocal(ctx context.Context, item *model.DistributionItem, units []*model.PreparedUnit, dest Destination) {
	key := dest.Key()
	err := d.switcher.With(ctx, dest.NodeID, func(ctx context.Context, node *nodectx.Node) error {
		decisions, err := d.resolver.Resolve(ctx, node, units, dest.Actions)
		if err != nil {
			return err
		}
		res := d.importer.Import(ctx, node, units, decisions, d.source)
		return res.Err
	})
	if err != nil {
		item.SetError(key, err.Error())
		return
	}
	item.SetStatus(key, model.DestSuccess)
}
