package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsync/internal/assets"
	"contentsync/internal/common"
	"contentsync/internal/conflict"
	"contentsync/internal/connmap"
	"contentsync/internal/distribute"
	"contentsync/internal/export"
	"contentsync/internal/importer"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/prepare"
	"contentsync/internal/remote"
	"contentsync/internal/store"
	"contentsync/internal/translation"
)

const (
	testLogin    = "peer"
	testPassword = "application-password"
	testOrigin   = "https://caller.example"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeSender) Send(ctx context.Context, conn *remote.Connection, path string, body any, method string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("%w: %s", common.ErrUnreachable, conn.Address)
	}
	f.calls = append(f.calls, method+" "+path)
	return json.RawMessage(`null`), nil
}

func (f *fakeSender) SendTransfer(ctx context.Context, conn *remote.Connection, path string, body any, method string) (json.RawMessage, error) {
	return f.Send(ctx, conn, path, body, method)
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	store   *store.Memory
	assets  *assets.Memory
	node    *nodectx.Node
	tracker *distribute.Tracker
	sender  *fakeSender
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemory()
	as := assets.NewMemory("https://one.local/uploads")
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	sender := &fakeSender{}

	node := &nodectx.Node{ID: 1, Name: "alpha", SiteURL: "https://one.local", UploadURL: "https://one.local/uploads", DefaultLanguage: "en"}
	second := &nodectx.Node{ID: 2, Name: "beta", SiteURL: "https://two.local", UploadURL: "https://two.local/uploads", DefaultLanguage: "en"}
	nodes := nodectx.NewStaticRegistry([]*nodectx.Node{node, second})
	switcher := nodectx.NewSwitcher(nodes)

	reg := translation.NewRegistry()
	preparer := prepare.New(st, log, reg, prepare.Options{})
	exporter := export.New(st, preparer, reg, as, log)
	resolver := conflict.New(st, log)

	peers := remote.NewMemoryRegistry()
	require.NoError(t, peers.Add(context.Background(), remote.NewConnection(testOrigin, testLogin, testPassword)))

	conns := connmap.New(st, nodes, peers, sender, connmap.NewMemoryQueue(), log)
	imp := importer.New(st, as, nodes, reg, conns, log)

	tracker := distribute.NewTracker()
	dist := distribute.New(switcher, resolver, imp, peers, sender, tracker, log)

	h := NewHandler(node, nodes, switcher, st, exporter, resolver, imp, conns, dist, tracker, peers, sender, log)

	container := restful.NewContainer()
	container.Add(h.WebService())
	srv := httptest.NewServer(container)
	t.Cleanup(srv.Close)

	return &fixture{store: st, assets: as, node: node, tracker: tracker, sender: sender, srv: srv}
}

type callOption func(*http.Request)

func noAuth() callOption {
	return func(r *http.Request) {
		r.Header.Del("Authorization")
	}
}

func withOrigin(origin string) callOption {
	return func(r *http.Request) {
		r.Header.Set(common.OriginHeader, origin)
	}
}

func (f *fixture) call(t *testing.T, method, path string, body any, opts ...callOption) *remote.Envelope {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, f.srv.URL+remote.BasePath+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.OriginHeader, testOrigin)
	req.SetBasicAuth(testLogin, remote.Obfuscate(testPassword))
	for _, o := range opts {
		o(req)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env remote.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return &env
}

func (f *fixture) addPost(t *testing.T, p *model.Post) int64 {
	t.Helper()
	id, err := f.store.Create(context.Background(), f.node.ID, p)
	require.NoError(t, err)
	return id
}

func post(name, typ, content string) *model.Post {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Post{
		Name: name, Title: name, Type: typ, Status: "publish",
		Content: content, Created: now, Modified: now,
	}
}

func machineCode(t *testing.T, env *remote.Envelope) string {
	t.Helper()
	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &data))
	return data["code"]
}

func TestAuth_MissingCredentials(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodGet, "/site_name", nil, noAuth())

	assert.False(t, env.OK())
	assert.Equal(t, http.StatusUnauthorized, env.Data.Status)
	assert.Equal(t, remote.CodeNotAuthorized, machineCode(t, env))
}

func TestAuth_WrongSecret(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodGet, "/site_name", nil, func(r *http.Request) {
		r.SetBasicAuth(testLogin, remote.Obfuscate("guess"))
	})

	assert.Equal(t, http.StatusUnauthorized, env.Data.Status)
	assert.Equal(t, remote.CodeNotAuthorized, machineCode(t, env))
}

func TestAuth_OriginMismatchRejected(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodGet, "/site_name", nil, withOrigin("https://stranger.example"))

	assert.False(t, env.OK())
	assert.Equal(t, http.StatusForbidden, env.Data.Status)
	assert.Equal(t, remote.CodeNotConnected, machineCode(t, env))
}

func TestAuth_CheckAuthSkipsOriginCheck(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodGet, "/check_auth", nil, withOrigin(""))

	assert.True(t, env.OK())
}

func TestSiteName(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodGet, "/site_name", nil)

	require.True(t, env.OK())
	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &data))
	assert.Equal(t, "alpha", data["name"])
	assert.Equal(t, "one.local", data["address"])
}

func TestAddConnection(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodPost, "/add_connection", map[string]string{
		"address": "https://three.example/", "login": "bob", "password": "pw",
	}, withOrigin(""))
	require.True(t, env.OK())

	env = f.call(t, http.MethodPost, "/add_connection", map[string]string{"address": "x"}, withOrigin(""))
	assert.Equal(t, http.StatusBadRequest, env.Data.Status)
}

func TestGetPost(t *testing.T) {
	f := newFixture(t)
	id := f.addPost(t, post("hello", "post", "body"))

	env := f.call(t, http.MethodGet, fmt.Sprintf("/posts/%d", id), nil)
	require.True(t, env.OK())

	var got model.Post
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	assert.Equal(t, "hello", got.Name)

	env = f.call(t, http.MethodGet, "/posts/999", nil)
	assert.Equal(t, http.StatusNotFound, env.Data.Status)

	env = f.call(t, http.MethodGet, "/posts/abc", nil)
	assert.Equal(t, http.StatusBadRequest, env.Data.Status)
}

func TestListPosts_Filtered(t *testing.T) {
	f := newFixture(t)
	f.addPost(t, post("one", "post", "x"))
	f.addPost(t, post("two", "page", "x"))

	env := f.call(t, http.MethodGet, "/posts?type=page", nil)
	require.True(t, env.OK())

	var got []*model.Post
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Name)
}

func TestPreparePost(t *testing.T) {
	f := newFixture(t)
	id := f.addPost(t, post("root", "post", "plain"))

	env := f.call(t, http.MethodPost, fmt.Sprintf("/posts/%d/prepare", id), model.ExportConfig{})
	require.True(t, env.OK())

	var units []*model.PreparedUnit
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &units))
	require.Len(t, units, 1)
	assert.True(t, units[0].IsRoot)
	assert.NotEmpty(t, units[0].GID)
}

func TestGetConnections_ListsClusterCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.addPost(t, post("shared", "post", "x"))
	g := "9-77-far.example"
	require.NoError(t, f.store.SetMeta(ctx, f.node.ID, id, common.MetaKeyGID, g))

	env := f.call(t, http.MethodGet, "/posts/"+g+"/connections", nil)
	require.True(t, env.OK())

	var got []connmap.Payload
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	require.Len(t, got, 1)
	assert.Equal(t, f.node.ID, got[0].NodeID)
	assert.Equal(t, id, got[0].ContentID)

	env = f.call(t, http.MethodGet, "/posts/not-a-gid/connections", nil)
	assert.Equal(t, http.StatusBadRequest, env.Data.Status)
}

func TestConnectionMutation_DefaultsAddressToOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.addPost(t, post("owned", "post", "x"))
	g := fmt.Sprintf("%d-%d-one.local", f.node.ID, id)
	require.NoError(t, f.store.SetMeta(ctx, f.node.ID, id, common.MetaKeyGID, g))

	env := f.call(t, http.MethodPost, "/posts/"+g+"/connections", connmap.Payload{
		NodeID: 4, ContentID: 42, SiteURL: "https://caller.example",
	})
	require.True(t, env.OK())

	raw, err := f.store.Get(ctx, f.node.ID, id)
	require.NoError(t, err)
	var cm model.ConnectionMap
	require.NoError(t, json.Unmarshal([]byte(raw.MetaValue(common.MetaKeyConnections)), &cm))
	require.Len(t, cm.Remote["caller.example"], 1)
}

func TestGetConnections_CacheInvalidatedByMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.addPost(t, post("cached", "post", "x"))
	g := fmt.Sprintf("%d-%d-one.local", f.node.ID, id)
	require.NoError(t, f.store.SetMeta(ctx, f.node.ID, id, common.MetaKeyGID, g))

	env := f.call(t, http.MethodGet, "/posts/"+g+"/connections", nil)
	require.True(t, env.OK())
	var got []connmap.Payload
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	require.Len(t, got, 1)

	// A copy added behind the handler's back stays invisible until
	// a mutation flushes the cached listing.
	other := f.addPost(t, post("cached-copy", "post", "x"))
	require.NoError(t, f.store.SetMeta(ctx, f.node.ID, other, common.MetaKeyGID, g))

	env = f.call(t, http.MethodGet, "/posts/"+g+"/connections", nil)
	require.True(t, env.OK())
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	assert.Len(t, got, 1)

	env = f.call(t, http.MethodPost, "/posts/"+g+"/connections", connmap.Payload{
		NodeID: 4, ContentID: 42, SiteURL: "https://caller.example", Address: "caller.example",
	})
	require.True(t, env.OK())

	env = f.call(t, http.MethodGet, "/posts/"+g+"/connections", nil)
	require.True(t, env.OK())
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	assert.Len(t, got, 2)
}

func TestConnectedPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.addPost(t, post("synced", "post", "x"))
	require.NoError(t, f.store.SetMeta(ctx, f.node.ID, id, common.MetaKeyGID, "1-1-one.local"))
	require.NoError(t, f.store.SetMeta(ctx, f.node.ID, id, common.MetaKeySyncStatus, string(model.StatusRoot)))
	f.addPost(t, post("plain", "post", "x"))

	env := f.call(t, http.MethodGet, "/connected_posts", nil)
	require.True(t, env.OK())

	var got []connectedPost
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "synced", got[0].Name)
	assert.Equal(t, "root", got[0].Status)
}

func TestStartDistribution_LocalDestination(t *testing.T) {
	f := newFixture(t)
	id := f.addPost(t, post("travels", "post", "content"))

	env := f.call(t, http.MethodPost, "/distribution/start", startDistributionRequest{
		RootID:       id,
		Destinations: []distribute.Destination{{NodeID: 2}},
	})
	require.True(t, env.OK())

	var got itemSummary
	require.NoError(t, json.Unmarshal(env.Data.ResponseData, &got))
	assert.Equal(t, model.DestSuccess, got.Status)

	ctx := context.Background()
	copied, err := f.store.FindByName(ctx, 2, "travels", "post")
	require.NoError(t, err)
	assert.Equal(t, "content", copied.Content)
}

func TestDistributeItem_ImportsAndReportsBack(t *testing.T) {
	f := newFixture(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	unit := &model.PreparedUnit{
		ID: 7, Name: "incoming", Title: "Incoming", Type: "post",
		Status: "publish", Content: "from afar", Created: now, Modified: now,
		GID: "9-7-caller.example", IsRoot: true,
	}

	env := f.call(t, http.MethodPost, "/distribution/distribute-item", distribute.TransferPayload{
		ItemID:      "item-1",
		Destination: "node:1",
		NodeID:      1,
		Units:       []*model.PreparedUnit{unit},
	})
	require.True(t, env.OK())

	// the import runs async; the completion callback is the last step
	require.Eventually(t, func() bool {
		return len(f.sender.sent()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.sender.sent(), "POST /distribution/update-item")

	got, err := f.store.FindByName(context.Background(), 1, "incoming", "post")
	require.NoError(t, err)
	assert.Equal(t, "from afar", got.Content)
}

func TestUpdateItem_UnknownItem(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodPost, "/distribution/update-item", distribute.StatusUpdate{
		ItemID: "ghost", Destination: "node:1", Status: "success",
	})
	assert.Equal(t, http.StatusNotFound, env.Data.Status)
}

func TestDistributionItem_Lookup(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, http.MethodGet, "/distribution/items/ghost", nil)
	assert.Equal(t, http.StatusNotFound, env.Data.Status)
}
