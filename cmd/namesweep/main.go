// namesweep - remove stale duplicate UUID/name pairings from a player store
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ernie/namesweep/internal/config"
	"github.com/ernie/namesweep/internal/metrics"
	"github.com/ernie/namesweep/internal/reconcile"
	"github.com/ernie/namesweep/internal/resolver"
	"github.com/ernie/namesweep/internal/storage"
	"github.com/gofrs/flock"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

var version = "dev"

const defaultConfigPath = "config.yml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: namesweep [--config <path>] [--dry]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Finds display names stored against more than one UUID, asks the profile")
	fmt.Fprintln(w, "lookup API which UUID currently owns each name, and deletes the rest.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "A NerdMailCleaner config.yml with a top-level db block is read as a")
	fmt.Fprintln(w, "MySQL database section.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  namesweep --dry")
	fmt.Fprintln(w, "  namesweep --config /etc/namesweep/config.yml")
}

// run executes the CLI and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("namesweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	dry := fs.Bool("dry", false, "Dry run. Won't update database.")
	showVersion := fs.Bool("version", false, "show version")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "namesweep %s\n", version)
		return 0
	}

	if *dry {
		fmt.Fprintln(stdout, "Performing dry run. The database will not be written to.")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		fmt.Fprintf(stderr, "Error: acquiring lock %s: %v\n", cfg.LockFile, err)
		return 1
	}
	if !locked {
		fmt.Fprintf(stderr, "Error: another namesweep run holds %s\n", cfg.LockFile)
		return 1
	}
	defer lock.Unlock()

	if cfg.Database.Driver != "sqlite" && cfg.Database.Password == "" {
		password, err := promptPassword(stderr, cfg.Database.User)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg.Database.Password = password
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	client, err := resolver.New(cfg.Resolver.URL,
		resolver.WithTimeout(cfg.Resolver.Timeout),
		resolver.WithUserAgent(cfg.Resolver.UserAgent),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	engine := reconcile.New(store, client, reconcile.Options{
		BatchSize: cfg.Resolver.BatchSize,
		Throttle:  cfg.Resolver.Throttle,
		DryRun:    *dry,
		Out:       stdout,
	})

	start := time.Now()
	report, runErr := engine.Run(ctx)
	log.Printf("Run finished in %v: %d deleted, %d already gone, %d failed, %d/%d batches skipped",
		time.Since(start).Round(time.Millisecond), report.Deleted, report.AlreadyGone,
		report.DeleteFailures, report.SkippedBatches, report.Batches)

	if cfg.Metrics.Textfile != "" {
		m := metrics.New()
		m.Observe(report, runErr, time.Now())
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Printf("Warning: %v", err)
		}
	}

	if runErr != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(stderr, "run interrupted")
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}

// promptPassword asks for the database password when stdin is a terminal.
// Non-interactive runs keep the empty password.
func promptPassword(w io.Writer, user string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprintf(w, "Database password for %s: ", user)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}
