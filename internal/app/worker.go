package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"newsradar/internal/alert"
	"newsradar/internal/broadcast"
	"newsradar/internal/cli"
	"newsradar/internal/config"
	"newsradar/internal/db"
	"newsradar/internal/documents"
	"newsradar/internal/eventstate"
	"newsradar/internal/fetch"
	"newsradar/internal/ingest"
	"newsradar/internal/kv"
	"newsradar/internal/logging"
	"newsradar/internal/organizer"
	"newsradar/internal/scheduler"
	"newsradar/internal/sweep"
	"newsradar/internal/yield"
)

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	scheduleTick := fs.Duration("schedule-tick", 30*time.Second, "Scheduler polling interval")
	organizeInterval := fs.Duration("organize-interval", 5*time.Second, "Organizer polling interval")
	canonicalizeInterval := fs.Duration("canonicalize-interval", 2*time.Minute, "Deferred canonicalization interval")
	sweepInterval := fs.Duration("sweep-interval", 20*time.Second, "Score/state-machine sweep interval")
	organizeBatch := fs.Int("organize-batch", 20, "Documents organized per tick")
	canonicalizeBatch := fs.Int("canonicalize-batch", 5, "Event pairs canonicalized per tick")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("worker failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid REDIS_URL: %v\n", err)
		return 2
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	kvStore := kv.New(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	hub := broadcast.NewHub(logger)
	go hub.Run()
	if cfg.NatsURL != "" {
		if bridge, err := broadcast.ConnectBridge(cfg.NatsURL, hub, logger); err != nil {
			logger.Warn().Err(err).Msg("nats bridge unavailable, running single-replica")
		} else {
			defer bridge.Close()
		}
	}

	ingestSvc := ingest.NewService(pool, logger)
	builder := documents.NewBuilder(pool, cfg.ChromeDPBinary, logger)

	fastJobs := make(chan scheduler.Job, 256)
	renderJobs := make(chan scheduler.Job, 64)
	deepJobs := make(chan scheduler.Job, 64)

	fastPool := fetch.NewPool("fast", ingestSvc, builder.HandleFetched, kvStore, logger)
	renderPool := fetch.NewPool("render", ingestSvc, builder.HandleFetched, kvStore, logger)
	deepPool := fetch.NewPool("deep", ingestSvc, builder.HandleFetched, kvStore, logger)

	sched := scheduler.New(pool, logger, fastJobs, renderJobs, deepJobs)
	organizerSvc := organizer.NewService(pool, hub, logger)
	alerter := alert.NewDispatcher(pool, kvStore, cfg.AlertWebhookURL, []byte(cfg.AlertHMACSecret), logger)
	yielder := yield.NewMonitor(pool, logger)
	hot, cold := cfg.SweepThresholds()
	fastGate, renderGate, quarantineTTL := cfg.GatingDurations()
	gating := eventstate.GatingConfig{
		HydratingFastTimeout:   fastGate,
		HydratingRenderTimeout: renderGate,
		QuarantineTTL:          quarantineTTL,
	}
	sweeper := sweep.NewService(pool, hub, alerter, yielder, cfg.LaneList(), sweep.Thresholds{Hot: hot, Cold: cold}, gating, logger)

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("loop", name).Msg("worker loop exited")
			}
		}()
	}

	run("scheduler", func() error { return sched.Run(ctx, *scheduleTick) })
	run("fetch-fast", func() error { fastPool.Run(ctx, fastJobs, cfg.FetchFastPoolSize); return nil })
	run("fetch-render", func() error { renderPool.Run(ctx, renderJobs, cfg.FetchRenderPoolSize); return nil })
	run("fetch-deep", func() error { deepPool.Run(ctx, deepJobs, cfg.FetchDeepPoolSize); return nil })
	run("organize", func() error {
		return pollLoop(ctx, *organizeInterval, logger, "organize", func() error {
			_, err := organizerSvc.OrganizePending(ctx, *organizeBatch)
			return err
		})
	})
	run("canonicalize", func() error {
		return pollLoop(ctx, *canonicalizeInterval, logger, "canonicalize", func() error {
			_, err := organizerSvc.CanonicalizePending(ctx, *canonicalizeBatch)
			return err
		})
	})
	run("sweep", func() error { return sweeper.Run(ctx, *sweepInterval) })

	logger.Info().Msg("worker started")
	wg.Wait()
	return 0
}

// pollLoop invokes fn every interval until ctx is cancelled, logging but not
// aborting the loop on a single failed pass.
func pollLoop(ctx context.Context, interval time.Duration, logger zerolog.Logger, name string, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(); err != nil {
				logger.Error().Err(err).Str("loop", name).Msg("poll pass failed")
			}
		}
	}
}
