package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"newsradar/internal/cli"
	"newsradar/internal/config"
	"newsradar/internal/db"
	"newsradar/internal/sources"
)

func runSources(args []string) int {
	fs := flag.NewFlagSet("sources", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if len(args) == 0 || args[0] != "sync" {
		fmt.Fprintln(os.Stderr, "usage: newsradar sources sync --file <profiles.yaml>")
		return 2
	}

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "Path to a YAML source profiles file")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
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

	profiles, err := sources.LoadProfilesFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load source profiles: %v\n", err)
		return 1
	}

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer syncCancel()
	if err := sources.Sync(syncCtx, pool, profiles); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sync source profiles: %v\n", err)
		return 1
	}

	fmt.Printf("synced %d source profiles\n", len(profiles))
	return 0
}
