package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kvmesh/kvmesh-go/internal/cluster/membership"
	"github.com/kvmesh/kvmesh-go/internal/config"
	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/infra/buildinfo"
	"github.com/kvmesh/kvmesh-go/internal/infra/confloader"
	"github.com/kvmesh/kvmesh-go/internal/infra/shutdown"
	"github.com/kvmesh/kvmesh-go/internal/replication"
	"github.com/kvmesh/kvmesh-go/internal/server/httpserver"
	"github.com/kvmesh/kvmesh-go/internal/server/httpserver/handler"
	"github.com/kvmesh/kvmesh-go/internal/storage"
	"github.com/kvmesh/kvmesh-go/internal/storage/snapshot"
	"github.com/kvmesh/kvmesh-go/internal/telemetry/logger"
	"github.com/kvmesh/kvmesh-go/internal/telemetry/metric"
	"github.com/kvmesh/kvmesh-go/pkg/crypto/aead"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:    "kvmesh-server",
		Usage:   "budget-enforced encrypted key-value store with peer replication",
		Version: buildinfo.Version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "path to the YAML configuration file",
					},
				},
				Action: func(c *cli.Context) error {
					return serve(c.String("config"))
				},
			},
			{
				Name:  "backup",
				Usage: "trigger a backup snapshot on a running server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "server HTTP address",
						Value: config.DefaultHTTPAddr,
					},
				},
				Action: func(c *cli.Context) error {
					return triggerBackup(c.String("addr"))
				},
			},
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(c *cli.Context) error {
					fmt.Println("kvmesh-server " + buildinfo.String())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serve(configFile string) error {
	cfg := config.Default()
	loader := confloader.NewLoader(confloader.WithConfigFile(configFile))
	if err := loader.Load(cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Verify(); err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.SetDefault(log)

	log.Info("starting kvmesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", configFile)

	metrics := metric.NewSet()

	codec, err := buildCodec(cfg)
	if err != nil {
		return err
	}

	nodeID := cfg.Replication.NodeID
	if nodeID == "" {
		nodeID, err = domain.GenerateNodeID()
		if err != nil {
			return fmt.Errorf("generate node id: %w", err)
		}
		log.Info("generated node id", "node_id", nodeID)
	}

	engine, err := storage.New(storage.Config{
		MaxStorageBytes:    cfg.Storage.MaxStorageBytes,
		TombstoneRetention: cfg.Storage.TombstoneRetention,
		Codec:              codec,
		NodeID:             nodeID,
		Logger:             log,
		Metrics:            metrics,
	})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// An empty backup dir disables snapshotting entirely.
	var snapshots *snapshot.Manager
	if cfg.Storage.Backup.Dir != "" {
		snapshots, err = snapshot.NewManager(snapshot.Config{
			Dir:            cfg.Storage.Backup.Dir,
			RetentionCount: cfg.Storage.Backup.RetentionCount,
			RetentionDays:  cfg.Storage.Backup.RetentionDays,
			Codec:          snapshotCodec(cfg, codec),
			NodeID:         nodeID,
		})
		if err != nil {
			return fmt.Errorf("init backups: %w", err)
		}
		if cfg.Storage.Backup.RestoreOnStart {
			if err := restoreLatest(engine, snapshots, log); err != nil {
				return err
			}
		}
	}

	sh := shutdown.NewHandler(shutdownTimeout)
	sh.OnShutdown(func(ctx context.Context) error {
		log.Info("closing storage engine")
		return engine.Close()
	})

	// Replication stack. Health and membership exist even when
	// replication is disabled so the scheduler and handler always have
	// something to ask.
	health := replication.NewHealthTracker(cfg.Replication.FailureThreshold, metrics)

	var journal *replication.Journal
	if cfg.Replication.Enabled && cfg.Replication.JournalDir != "" {
		journal, err = replication.OpenJournal(cfg.Replication.JournalDir, log)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		sh.OnShutdown(func(ctx context.Context) error {
			log.Info("closing replication journal")
			return journal.Close()
		})
	}

	members, err := buildMembership(cfg, nodeID, log)
	if err != nil {
		return err
	}
	sh.OnShutdown(func(ctx context.Context) error {
		return members.Close()
	})

	transport := replication.NewHTTPTransport(cfg.Replication.PeerTimeout)

	if cfg.Replication.Enabled {
		coordinator := replication.NewCoordinator(replication.CoordinatorConfig{
			ReplicationFactor: cfg.Replication.ReplicationFactor,
			PeerTimeout:       cfg.Replication.PeerTimeout,
			Logger:            log,
			Metrics:           metrics,
		}, members, transport, health, journal)
		engine.SetMutationSink(coordinator.Enqueue)
		sh.OnShutdown(func(ctx context.Context) error {
			log.Info("draining replication coordinator")
			return coordinator.Shutdown(ctx)
		})
	}

	var backuper replication.Backuper
	if snapshots != nil {
		backuper = snapshots
	}
	scheduler := replication.NewSyncScheduler(replication.SchedulerConfig{
		SyncInterval:       cfg.Replication.SyncInterval,
		BackupInterval:     cfg.Storage.Backup.Interval,
		PeerTimeout:        cfg.Replication.PeerTimeout,
		PushMaxBytesPerSec: int64(cfg.Replication.PushMaxRateMBps) << 20,
		Logger:             log,
		Metrics:            metrics,
	}, engine, members, transport, health, journal, backuper)
	scheduler.Start()
	sh.OnShutdown(func(ctx context.Context) error {
		log.Info("stopping sync scheduler")
		scheduler.Stop()
		return nil
	})

	handlerCfg := handler.Config{
		NodeID:            nodeID,
		MaxStorageBytes:   cfg.Storage.MaxStorageBytes,
		ReplicationFactor: cfg.Replication.ReplicationFactor,
		Cluster:           health,
		Logger:            log,
	}
	if snapshots != nil {
		handlerCfg.Backups = snapshots
	}
	apiHandler := handler.New(engine, handlerCfg)
	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Handler: apiHandler,
		Metrics: metrics,
		Logger:  log,
	})
	server := httpserver.New(cfg.Server.HTTP.Addr, router)
	sh.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr)
		var err error
		if cfg.Server.HTTP.TLSCertFile != "" {
			err = server.ListenAndServeTLS(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
			sh.Trigger()
		}
	}()

	if configFile != "" {
		watcher, err := watchConfig(configFile, log)
		if err != nil {
			log.Warn("config watcher unavailable", "error", err)
		} else {
			sh.OnShutdown(func(ctx context.Context) error {
				return watcher.Close()
			})
		}
	}

	return sh.Wait()
}

// triggerBackup asks a running server to write a snapshot now.
func triggerBackup(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+addr+"/v1/backups", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact server at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("backup failed: server returned %s", resp.Status)
	}
	fmt.Println("backup written")
	return nil
}

// buildCodec constructs the value encryption codec from configuration.
func buildCodec(cfg *config.ServerConfig) (aead.Codec, error) {
	if !cfg.Security.EncryptionEnabled {
		return aead.Passthrough{}, nil
	}
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	switch cfg.Security.CipherSuite {
	case "aes-gcm":
		return aead.New(aead.SuiteAESGCM, key)
	case "chacha20-poly1305":
		return aead.New(aead.SuiteChaCha20, key)
	default: // auto
		return aead.ForHardware(key)
	}
}

// snapshotCodec returns the codec for backup files, nil when
// encryption is disabled so snapshots stay plaintext.
func snapshotCodec(cfg *config.ServerConfig, codec aead.Codec) aead.Codec {
	if !cfg.Security.EncryptionEnabled {
		return nil
	}
	return codec
}

// restoreLatest loads the newest valid snapshot into the engine.
// A missing snapshot is a clean first start, not an error.
func restoreLatest(engine *storage.Engine, snapshots *snapshot.Manager, log *slog.Logger) error {
	objects, info, err := snapshots.Load()
	if err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshots) {
			log.Info("no backup snapshot found, starting empty")
			return nil
		}
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if err := engine.LoadSnapshot(objects); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	log.Info("restored backup snapshot",
		"id", info.ID, "objects", info.ObjectCount, "created_at", info.CreatedAt)
	return nil
}

// buildMembership constructs the peer source. With replication
// disabled it returns an empty static membership.
func buildMembership(cfg *config.ServerConfig, nodeID string, log *slog.Logger) (membership.Membership, error) {
	if !cfg.Replication.Enabled {
		return membership.NewStatic(nil, nodeID)
	}

	m := cfg.Replication.Membership
	switch m.Mode {
	case "gossip":
		return membership.NewGossip(membership.GossipConfig{
			NodeID:          nodeID,
			BindAddr:        m.Gossip.BindAddr,
			BindPort:        m.Gossip.BindPort,
			ReplicationAddr: cfg.Replication.AdvertiseAddr,
			Seeds:           m.Gossip.Seeds,
			Logger:          log,
		})
	default: // static
		return membership.NewStatic(m.Peers, nodeID)
	}
}

// watchConfig reloads the log level when the config file changes.
// Other settings require a restart.
func watchConfig(path string, log *slog.Logger) (*confloader.Watcher, error) {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	watcher.OnChange(func(changed string) {
		cfg := config.Default()
		loader := confloader.NewLoader(confloader.WithConfigFile(changed))
		if err := loader.Load(cfg); err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	if err := watcher.Watch(path); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}
