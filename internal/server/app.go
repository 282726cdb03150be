package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"contentsync/internal/assets"
	"contentsync/internal/config"
	"contentsync/internal/conflict"
	"contentsync/internal/connmap"
	"contentsync/internal/distribute"
	"contentsync/internal/export"
	"contentsync/internal/gid"
	"contentsync/internal/importer"
	"contentsync/internal/logging"
	"contentsync/internal/nodectx"
	"contentsync/internal/prepare"
	"contentsync/internal/remote"
	"contentsync/internal/store"
	"contentsync/internal/translation"
)

// App owns every service of the sync daemon and runs the HTTP server.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *Server
}

// NewApp wires the full service graph from configuration: store, node
// registry, engines, peer registry and the REST handler.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	st, db, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	clusterNodes := make([]*nodectx.Node, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		clusterNodes = append(clusterNodes, &nodectx.Node{
			ID:              n.ID,
			Name:            n.Name,
			SiteURL:         n.SiteURL,
			UploadURL:       n.UploadURL,
			UploadDir:       n.UploadDir,
			Theme:           n.Theme,
			DefaultLanguage: n.DefaultLanguage,
		})
	}
	nodes := nodectx.NewStaticRegistry(clusterNodes)
	node, err := nodes.Node(ctx, cfg.NodeID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("default node: %w", err)
	}
	switcher := nodectx.NewSwitcher(nodes)

	assetStore, err := assets.New(ctx, assets.Options{
		Backend: cfg.AssetBackend,
		Root:    cfg.AssetRoot,
		BaseURL: cfg.AssetBaseURL,
		S3: assets.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			BaseEndpoint:  cfg.S3BaseEndpoint,
			PublicBaseURL: cfg.AssetBaseURL,
		},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("asset backend: %w", err)
	}

	var translations *translation.Registry
	if cfg.TranslationTool != "" {
		translations = translation.NewRegistry(translation.NewStatic(cfg.TranslationTool))
	} else {
		translations = translation.NewRegistry()
	}

	preparer := prepare.New(st, logger, translations, prepare.Options{})
	exporter := export.New(st, preparer, translations, assetStore, logger)
	resolver := conflict.New(st, logger)

	peers := remote.NewSQLRegistry(db, cfg.StoreDriver, []byte(cfg.SecretKey))
	client := remote.NewClient(logger, gid.CanonicalAddr(node.SiteURL),
		remote.WithTransferTimeout(cfg.RequestTimeout))

	retries := connmap.NewSQLQueue(db, cfg.StoreDriver)
	conns := connmap.New(st, nodes, peers, client, retries, logger)

	imp := importer.New(st, assetStore, nodes, translations, conns, logger)

	tracker := distribute.NewTracker()
	distributor := distribute.New(switcher, resolver, imp, peers, client, tracker, logger,
		distribute.WithWorkers(cfg.Workers))

	handler := NewHandler(node, nodes, switcher, st, exporter, resolver, imp, conns, distributor, tracker, peers, client, logger)

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		server: NewServer(cfg.EndpointAddr, handler, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until the context is cancelled or a termination signal
// arrives, then closes the database handle.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "err", err)
	}
}
