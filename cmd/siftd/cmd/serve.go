package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftengine/sift/internal/api"
	"github.com/siftengine/sift/internal/config"
	"github.com/siftengine/sift/internal/network"
	"github.com/siftengine/sift/internal/scheduler"
	"github.com/siftengine/sift/internal/snapshot"
	"github.com/siftengine/sift/internal/tasks"
)

func newServeCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the task scheduler and search runtime over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(dir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory to load a config file from")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, err := tasks.Open(cfg.TasksEnvPath())
	if err != nil {
		return fmt.Errorf("open task queue: %w", err)
	}
	defer queue.Close()

	registry, err := scheduler.OpenRegistry(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("open index registry: %w", err)
	}
	defer registry.Close()

	files, err := scheduler.OpenUpdateFileStore(cfg.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("open update file store: %w", err)
	}

	createDump, createSnapshot := snapshot.NewHooks(snapshot.Dependencies{
		Registry:     registry,
		Queue:        queue,
		UpdateFiles:  files,
		SnapshotsDir: cfg.Paths.SnapshotDir,
		DumpsDir:     cfg.Paths.DumpDir,
	})
	hooks := scheduler.Hooks{CreateDump: createDump, CreateSnapshot: createSnapshot}

	var cluster *network.Cluster
	if cfg.Network.Enabled {
		remotes := make(map[string]network.Remote, len(cfg.Network.Peers))
		for _, peer := range cfg.Network.Peers {
			remotes[peer] = network.Remote{URL: peer}
		}

		node, err := network.NewNode(network.NodeConfig{
			NodeID:   cfg.Network.Self,
			BindAddr: cfg.Network.Self,
			DataDir:  cfg.Network.RaftDir,
		}, network.Topology{Self: cfg.Network.Self, Remotes: remotes, Version: 1})
		if err != nil {
			return fmt.Errorf("start raft node: %w", err)
		}
		defer node.Shutdown()
		// Bootstrap is a no-op once raft state already exists on disk from a
		// prior run; only the very first start of the very first node needs it.
		_ = node.Bootstrap()

		client := network.NewExportClient()
		cluster = &network.Cluster{
			Node:    node,
			Shard:   network.HashShard,
			Indexes: registry,
			Client:  client,
			Logger:  slog.Default(),
		}
		hooks.NetworkTopologyChange = cluster.NewHook()
	}

	sched := scheduler.New(queue, registry, files, true, hooks)

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	server := api.NewServer(sched, queue, registry, files, int64(cfg.Search.MaxConcurrentSearches))
	httpServer := &http.Server{Addr: cfg.Server.Address, Handler: server.Handler()}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()

	slog.Info("siftd listening", slog.String("address", cfg.Server.Address))

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			slog.Error("scheduler stopped", slog.String("error", err.Error()))
		}
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}
