package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "sources":
		return runSources(args[1:])
	case "events":
		return runEvents(args[1:])
	case "feedback":
		return runFeedback(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newsradar CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newsradar <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  serve     Start the read API, event stream, and feedback endpoint")
	fmt.Fprintln(os.Stderr, "  worker    Run the scheduler, fetcher, organizer, and sweep loops")
	fmt.Fprintln(os.Stderr, "  sources   Sync source profiles from a YAML file into the database")
	fmt.Fprintln(os.Stderr, "  events    List or inspect Events from the command line")
	fmt.Fprintln(os.Stderr, "  feedback  Submit an editor feedback action against an Event")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newsradar <command> -h\" for command-specific flags.")
}
