package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"newsradar/internal/alert"
	"newsradar/internal/cli"
	"newsradar/internal/config"
	"newsradar/internal/db"
	"newsradar/internal/eventstate"
	"newsradar/internal/feedback"
	"newsradar/internal/kv"
	"newsradar/internal/logging"
	"newsradar/internal/organizer"
	"newsradar/internal/sweep"
	"newsradar/internal/yield"
)

func runFeedback(args []string) int {
	fs := flag.NewFlagSet("feedback", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	eventID := fs.String("event-id", "", "Target Event ID")
	actor := fs.String("actor", "", "Editor identity submitting this action")
	action := fs.String("action", "", "One of IGNORE, SNOOZE, PAUTAR, MERGE, SPLIT, NOT_NEWS")
	reason := fs.String("reason", "", "Optional free-text reason")
	targetEventID := fs.String("target-event-id", "", "Required for MERGE")
	documentIDs := fs.String("document-ids", "", "Comma-separated Document IDs, required for SPLIT")
	token := fs.String("token", "", "Editor token, required when FEEDBACK_TOKEN_HASH is configured")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *eventID == "" || *actor == "" || *action == "" {
		fmt.Fprintln(os.Stderr, "--event-id, --actor, and --action are required")
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid REDIS_URL: %v\n", err)
		return 2
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	kvStore := kv.New(rdb)

	organizerSvc := organizer.NewService(pool, nil, logger)
	alerter := alert.NewDispatcher(pool, kvStore, cfg.AlertWebhookURL, []byte(cfg.AlertHMACSecret), logger)
	yielder := yield.NewMonitor(pool, logger)
	hot, cold := cfg.SweepThresholds()
	fastGate, renderGate, quarantineTTL := cfg.GatingDurations()
	gating := eventstate.GatingConfig{
		HydratingFastTimeout:   fastGate,
		HydratingRenderTimeout: renderGate,
		QuarantineTTL:          quarantineTTL,
	}
	rescorer := sweep.NewService(pool, nil, alerter, yielder, cfg.LaneList(), sweep.Thresholds{Hot: hot, Cold: cold}, gating, logger)

	var docIDs []string
	if *documentIDs != "" {
		for _, part := range strings.Split(*documentIDs, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				docIDs = append(docIDs, trimmed)
			}
		}
	}

	svc := feedback.NewService(pool, nil, organizerSvc, alerter, rescorer, cfg.FeedbackTokenHash, logger)
	if err := svc.Submit(ctx, feedback.SubmitRequest{
		EventID: *eventID, Actor: *actor, Action: *action, Reason: *reason,
		TargetEventID: *targetEventID, DocumentIDs: docIDs, Token: *token,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Feedback rejected: %v\n", err)
		return 1
	}

	fmt.Println("recorded")
	return 0
}
