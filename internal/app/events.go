package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"newsradar/internal/cli"
	"newsradar/internal/config"
	"newsradar/internal/db"
)

func runEvents(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: newsradar events list|show [flags]")
		return 2
	}

	switch args[0] {
	case "list":
		return runEventsList(args[1:])
	case "show":
		return runEventsShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown events subcommand: %s\n", args[0])
		return 2
	}
}

func runEventsList(args []string) int {
	fs := flag.NewFlagSet("events list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	lane := fs.String("lane", "", "Filter by lane")
	query := fs.String("q", "", "Headline search query")
	hours := fs.Int("hours", 24*7, "Lookback window in hours (ignored when --q is set)")
	limit := fs.Int("limit", 25, "Maximum rows to return")

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	var rows []db.EventSummary
	if *query != "" {
		rows, err = pool.SearchEventsByHeadline(ctx, *query, *lane, *limit)
	} else {
		to := time.Now().UTC()
		from := to.Add(-time.Duration(*hours) * time.Hour)
		rows, err = pool.ListEventsByTouchWindow(ctx, db.EventListOptions{Lane: *lane, From: from, To: to, Limit: *limit})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list events: %v\n", err)
		return 1
	}

	return printJSON(rows)
}

func runEventsShow(args []string) int {
	fs := flag.NewFlagSet("events show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	id := fs.String("id", "", "Event ID")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "--id is required")
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

	detail, err := pool.GetEventDetail(ctx, *id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load event: %v\n", err)
		return 1
	}

	return printJSON(detail)
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		return 1
	}
	return 0
}
