// Command vaultd runs the custodial settlement vault behind its HTTP API.
//
// Usage:
//
//	vaultd --config config.yaml
//	vaultd --setup (interactive wizard, writes config.gen.yaml)
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/config"
	"github.com/vadiminshakov/vault/internal/api"
	"github.com/vadiminshakov/vault/internal/auth"
	"github.com/vadiminshakov/vault/internal/notify"
	"github.com/vadiminshakov/vault/internal/setup"
	"github.com/vadiminshakov/vault/internal/storage/badgerstore"
	"github.com/vadiminshakov/vault/internal/storage/eventlog"
	"github.com/vadiminshakov/vault/internal/storage/ledger"
	"github.com/vadiminshakov/vault/internal/storage/walstore"
	"github.com/vadiminshakov/vault/internal/transfer"
	"github.com/vadiminshakov/vault/internal/vault"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const broadcastBuffer = 64

func main() {
	cfg, err := config.Get(setup.RunTUI)
	if err != nil {
		log.Fatal(err)
	}

	level := zap.NewAtomicLevelAt(cfg.LogLevel)
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(ctx, cfg.Path, logger.Named("config"))
	if err != nil {
		logger.Fatal("failed to watch configuration", zap.Error(err))
	}
	// only the log level is applied live, everything else needs a restart
	watcher.OnConfigUpdate(func(c config.Config) {
		if c.LogLevel != level.Level() {
			level.SetLevel(c.LogLevel)
			logger.Info("log level changed", zap.Stringer("level", c.LogLevel))
		}
	})

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("vault stopped", zap.Error(err))
	}
	logger.Info("vault stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	kv, err := openLedger(cfg.Storage, logger)
	if err != nil {
		return err
	}
	store := ledger.New(kv)
	defer closeLogged(logger, "ledger", store.Close)

	stateStore, err := transfer.NewStateStore(cfg.TransferStateFile)
	if err != nil {
		return err
	}
	transferer, err := transfer.NewSimulated(stateStore, logger.Named("transfer"))
	if err != nil {
		return err
	}

	events, err := eventlog.NewWALStore(cfg.Storage.EventsDir())
	if err != nil {
		return err
	}
	defer closeLogged(logger, "event log", events.Close)

	wakeup := notify.NewBroadcaster(broadcastBuffer)
	sinks := notify.Fanout{notify.NewJournal(events, wakeup)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := notify.NewKafka(cfg.Kafka, logger.Named("kafka"))
		if err != nil {
			return err
		}
		defer closeLogged(logger, "kafka", publisher.Close)
		sinks = append(sinks, publisher)
		logger.Info("kafka notifications enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	v, err := vault.New(cfg.Vault, store, transferer, sinks, logger.Named("vault"))
	if err != nil {
		return err
	}
	// deferred last so pending notifications drain before the sinks close
	defer closeLogged(logger, "vault", v.Close)

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(cfg.ListenAddr, v, auth.New(cfg.MaxSkew), logger.Named("api"),
		api.WithEventStream(events, wakeup), api.WithCORS(cfg.CORSOrigins))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if cfg.TLS.Enabled() {
			return server.StartWithAutoTLS(gctx, cfg.TLS.Domains, cfg.TLS.CacheDir)
		}
		return server.Start(gctx)
	})

	logger.Info("vault started",
		zap.String("asset_a", cfg.Vault.AssetA.String()),
		zap.String("asset_b", cfg.Vault.AssetB.String()),
		zap.String("admin", cfg.Vault.Admin.String()),
		zap.String("backend", cfg.Storage.Backend))

	return g.Wait()
}

func openLedger(cfg config.Storage, logger *zap.Logger) (ledger.KV, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return badgerstore.Open(cfg.LedgerDir())
	case config.BackendWAL:
		return walstore.Open(cfg.LedgerDir(),
			walstore.WithSnapshotEvery(cfg.SnapshotEvery),
			walstore.WithLogger(logger.Named("walstore")))
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func closeLogged(logger *zap.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error("failed to close "+name, zap.Error(err))
	}
}
