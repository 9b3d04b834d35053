package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"newsradar/internal/alert"
	"newsradar/internal/broadcast"
	"newsradar/internal/cli"
	"newsradar/internal/config"
	"newsradar/internal/db"
	"newsradar/internal/eventstate"
	"newsradar/internal/feedback"
	"newsradar/internal/httpapi"
	"newsradar/internal/kv"
	"newsradar/internal/logging"
	"newsradar/internal/organizer"
	"newsradar/internal/sweep"
	"newsradar/internal/yield"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Host interface to bind (defaults to HTTP_HOST)")
	port := fs.Int("port", 0, "HTTP port (defaults to HTTP_PORT)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	natsURL := fs.String("nats-url", "", "NATS URL for cross-replica event bridging (defaults to NATS_URL, empty disables)")

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
	if *host == "" {
		*host = cfg.HTTPHost
	}
	if *port == 0 {
		*port = cfg.HTTPPort
	}
	if *natsURL == "" {
		*natsURL = cfg.NatsURL
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
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

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

	if *natsURL != "" {
		bridge, err := broadcast.ConnectBridge(*natsURL, hub, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats bridge unavailable, running single-replica")
		} else {
			defer bridge.Close()
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid REDIS_URL: %v\n", err)
		return 2
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	kvStore := kv.New(rdb)

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
	rescorer := sweep.NewService(pool, hub, alerter, yielder, cfg.LaneList(), sweep.Thresholds{Hot: hot, Cold: cold}, gating, logger)

	fb := feedback.NewService(pool, hub, organizerSvc, alerter, rescorer, cfg.FeedbackTokenHash, logger)

	srv := httpapi.NewServer(pool, logger, hub, fb, httpapi.Options{
		Host: *host, Port: *port,
		ReadTimeout: *readTimeout, WriteTimeout: *writeTimeout, ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
