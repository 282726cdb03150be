// Command cli administers a content sync installation from the shell:
// exporting and importing bundle archives, pushing roots to destinations,
// reconciling connection maps and managing peer connections. It works on
// the same database the daemon serves, so the daemon need not be running.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"contentsync/internal/assets"
	"contentsync/internal/common"
	"contentsync/internal/config"
	"contentsync/internal/conflict"
	"contentsync/internal/connmap"
	"contentsync/internal/distribute"
	"contentsync/internal/export"
	"contentsync/internal/gid"
	"contentsync/internal/importer"
	"contentsync/internal/logging"
	"contentsync/internal/model"
	"contentsync/internal/nodectx"
	"contentsync/internal/prepare"
	"contentsync/internal/remote"
	"contentsync/internal/store"
	"contentsync/internal/translation"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:: "+err.Error())
		os.Exit(1)
	}
}

// syncApp is the CLI's service graph, wired the same way the daemon
// wires its own.
type syncApp struct {
	cfg      *config.Config
	log      logging.Logger
	db       *sql.DB
	store    store.Store
	nodes    nodectx.Registry
	switcher *nodectx.Switcher
	exporter *export.Engine
	resolver *conflict.Resolver
	importer *importer.Engine
	conns    *connmap.Service
	dist     *distribute.Distributor
	peers    remote.Registry
}

func newApp(ctx context.Context) (*syncApp, error) {
	cfg := config.LoadConfig()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	st, db, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
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
	switcher := nodectx.NewSwitcher(nodes)

	as, err := assets.New(ctx, assets.Options{
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

	preparer := prepare.New(st, log, translations, prepare.Options{})
	exporter := export.New(st, preparer, translations, as, log)
	resolver := conflict.New(st, log)

	node, err := nodes.Node(ctx, cfg.NodeID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("default node: %w", err)
	}

	peers := remote.NewSQLRegistry(db, cfg.StoreDriver, []byte(cfg.SecretKey))
	client := remote.NewClient(log, gid.CanonicalAddr(node.SiteURL),
		remote.WithTransferTimeout(cfg.RequestTimeout))
	retries := connmap.NewSQLQueue(db, cfg.StoreDriver)
	conns := connmap.New(st, nodes, peers, client, retries, log)
	imp := importer.New(st, as, nodes, translations, conns, log)

	tracker := distribute.NewTracker()
	dist := distribute.New(switcher, resolver, imp, peers, client, tracker, log,
		distribute.WithWorkers(cfg.Workers))

	return &syncApp{
		cfg:      cfg,
		log:      log,
		db:       db,
		store:    st,
		nodes:    nodes,
		switcher: switcher,
		exporter: exporter,
		resolver: resolver,
		importer: imp,
		conns:    conns,
		dist:     dist,
		peers:    peers,
	}, nil
}

func (a *syncApp) Close() {
	a.db.Close()
}

// node resolves the --node flag, falling back to the configured default.
func (a *syncApp) node(ctx context.Context, id int64) (*nodectx.Node, error) {
	if id == 0 {
		id = a.cfg.NodeID
	}
	return a.nodes.Node(ctx, id)
}

var (
	flagNode         int64
	flagRoot         int64
	flagOut          string
	flagIn           string
	flagAppendNested bool
	flagTranslations bool
	flagResolveMenus bool
	flagAllTerms     bool
	flagTo           []string
)

var rootCmd = &cobra.Command{
	Use:           "contentsync",
	Short:         "Distributed content synchronization",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a root object and its closure to a bundle archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		node, err := app.node(ctx, flagNode)
		if err != nil {
			return err
		}
		cfg := model.ExportConfig{
			AppendNested: flagAppendNested,
			Translations: flagTranslations,
			ResolveMenus: flagResolveMenus,
			AllTerms:     flagAllTerms,
		}
		if err := app.exporter.ExportToArchive(ctx, node, flagRoot, cfg, flagOut); err != nil {
			return err
		}
		fmt.Printf("success:: object %d exported to %s\n", flagRoot, flagOut)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bundle archive into a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		node, err := app.node(ctx, flagNode)
		if err != nil {
			return err
		}
		arc, err := export.OpenArchive(flagIn)
		if err != nil {
			return err
		}
		decisions, err := app.resolver.Resolve(ctx, node, arc.Units, nil)
		if err != nil {
			return err
		}
		res := app.importer.Import(ctx, node, arc.Units, decisions, importer.MapSource(arc.Media))
		if res.Err != nil {
			return res.Err
		}
		for id, msg := range res.Failed {
			fmt.Printf("Warning: unit %d failed: %s\n", id, msg)
		}
		fmt.Printf("success:: imported %d objects to node %d\n", len(res.Mapping), node.ID)
		return nil
	},
}

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Push a root object to local nodes and remote peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		node, err := app.node(ctx, flagNode)
		if err != nil {
			return err
		}
		dests, err := parseDestinations(flagTo)
		if err != nil {
			return err
		}
		cfg := model.ExportConfig{
			AppendNested: flagAppendNested,
			Translations: flagTranslations,
			ResolveMenus: flagResolveMenus,
			AllTerms:     flagAllTerms,
		}
		units, err := app.exporter.Export(ctx, node, flagRoot, cfg)
		if err != nil {
			return err
		}
		item := app.dist.Distribute(ctx, units, dests)

		errs := item.Errors()
		for dest, status := range item.Statuses() {
			line := fmt.Sprintf("%s: %s", dest, status)
			if msg, ok := errs[dest]; ok {
				line += " (" + msg + ")"
			}
			fmt.Println(line)
		}
		if item.Aggregate() == model.DestFailed {
			return fmt.Errorf("distribution %s finished with failures", item.ID)
		}
		fmt.Printf("success:: distribution %s is %s\n", item.ID, item.Aggregate())
		return nil
	},
}

// parseDestinations reads "node:N" as a cluster node and anything else
// as a peer address.
func parseDestinations(raw []string) ([]distribute.Destination, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one --to destination is required")
	}
	dests := make([]distribute.Destination, 0, len(raw))
	for _, r := range raw {
		if rest, ok := strings.CutPrefix(r, "node:"); ok {
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid destination %q", r)
			}
			dests = append(dests, distribute.Destination{NodeID: id})
			continue
		}
		dests = append(dests, distribute.Destination{Address: gid.CanonicalAddr(r)})
	}
	return dests, nil
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Reconcile the connection map of a root object",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		node, err := app.node(ctx, flagNode)
		if err != nil {
			return err
		}
		res, err := app.conns.Check(ctx, node.ID, flagRoot)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(res.Map, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		for _, w := range res.Warnings {
			fmt.Println("Warning:", w)
		}
		if res.Dropped > 0 {
			fmt.Printf("Dropped %d dead local entries\n", res.Dropped)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List a node's synchronized objects and their sync role",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		node, err := app.node(ctx, flagNode)
		if err != nil {
			return err
		}
		total := 0
		for _, status := range []model.SyncStatus{model.StatusRoot, model.StatusLinked} {
			posts, err := app.store.FindByMeta(ctx, node.ID, common.MetaKeySyncStatus, string(status))
			if err != nil {
				return err
			}
			for _, p := range posts {
				fmt.Printf("%d\t%s\t%s\t%s\t%s\n",
					p.ID, p.Name, p.Type, status, p.MetaValue(common.MetaKeyGID))
				total++
			}
		}
		if total == 0 {
			fmt.Printf("node %d has no synchronized objects\n", node.ID)
		}
		return nil
	},
}

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage peer connections",
}

var connectionsAddCmd = &cobra.Command{
	Use:   "add <address> <login>",
	Short: "Register a peer, prompting for its application password",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		fmt.Print("Application password: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		conn := remote.NewConnection(args[0], args[1], string(secret))
		if err := app.peers.Add(ctx, conn); err != nil {
			return err
		}
		fmt.Printf("success:: connection to %s added\n", conn.Address)
		return nil
	},
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		conns, err := app.peers.List(ctx)
		if err != nil {
			return err
		}
		for _, c := range conns {
			fmt.Printf("%s\t%s\t%s\n", c.Address, c.Login, c.AddedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var connectionsRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Drop a registered peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.peers.Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("success:: connection removed")
		return nil
	},
}

var connectionsFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay queued connection-map mutations against their origins",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.conns.Flush(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("success:: %d queued mutations delivered\n", n)
		return nil
	},
}

func init() {
	// read by the config loader straight from os.Args; declared here so
	// cobra accepts it
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to JSON config file")

	exportCmd.Flags().Int64Var(&flagNode, "node", 0, "source node id (default: configured node)")
	exportCmd.Flags().Int64Var(&flagRoot, "root", 0, "root object id")
	exportCmd.Flags().StringVar(&flagOut, "out", "", "bundle file to write")
	exportCmd.Flags().BoolVar(&flagAppendNested, "append-nested", false, "include nested references")
	exportCmd.Flags().BoolVar(&flagTranslations, "translations", false, "include translation siblings")
	exportCmd.Flags().BoolVar(&flagResolveMenus, "resolve-menus", false, "rewrite menu links as custom")
	exportCmd.Flags().BoolVar(&flagAllTerms, "all-terms", false, "export whole taxonomies")
	_ = exportCmd.MarkFlagRequired("root")
	_ = exportCmd.MarkFlagRequired("out")

	importCmd.Flags().Int64Var(&flagNode, "node", 0, "destination node id (default: configured node)")
	importCmd.Flags().StringVar(&flagIn, "in", "", "bundle file to read")
	_ = importCmd.MarkFlagRequired("in")

	distributeCmd.Flags().Int64Var(&flagNode, "node", 0, "source node id (default: configured node)")
	distributeCmd.Flags().Int64Var(&flagRoot, "root", 0, "root object id")
	distributeCmd.Flags().StringSliceVar(&flagTo, "to", nil, `destination, "node:N" or a peer address (repeatable)`)
	distributeCmd.Flags().BoolVar(&flagAppendNested, "append-nested", false, "include nested references")
	distributeCmd.Flags().BoolVar(&flagTranslations, "translations", false, "include translation siblings")
	distributeCmd.Flags().BoolVar(&flagResolveMenus, "resolve-menus", false, "rewrite menu links as custom")
	distributeCmd.Flags().BoolVar(&flagAllTerms, "all-terms", false, "export whole taxonomies")
	_ = distributeCmd.MarkFlagRequired("root")

	checkCmd.Flags().Int64Var(&flagNode, "node", 0, "node id (default: configured node)")
	checkCmd.Flags().Int64Var(&flagRoot, "root", 0, "root object id")
	_ = checkCmd.MarkFlagRequired("root")

	statusCmd.Flags().Int64Var(&flagNode, "node", 0, "node id (default: configured node)")

	connectionsCmd.AddCommand(connectionsAddCmd, connectionsListCmd, connectionsRemoveCmd, connectionsFlushCmd)
	rootCmd.AddCommand(exportCmd, importCmd, distributeCmd, checkCmd, statusCmd, connectionsCmd)
}
