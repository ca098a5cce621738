package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ernie/namesweep/internal/domain"
	"github.com/ernie/namesweep/internal/resolver"
)

// Store is the identity record store the engine reconciles
type Store interface {
	ListDuplicateGroups(ctx context.Context) ([]domain.DuplicateGroup, int, error)
	FetchRecords(ctx context.Context, name string) ([]domain.IdentityRecord, error)
	DeleteRecord(ctx context.Context, id string) error
}

// Resolver looks up the canonical identifier for a batch of names. A nil
// error with a partial Resolution means the missing names are unknown to the
// authority; a non-nil error means the whole batch is unresolved.
type Resolver interface {
	ResolveBatch(ctx context.Context, names []string) (resolver.Resolution, error)
}

// Options controls a reconciliation run
type Options struct {
	BatchSize int           // names per resolver call, capped at resolver.MaxBatchSize
	Throttle  time.Duration // pause before every resolver call, the first included
	DryRun    bool          // report deletions without executing them
	Out       io.Writer     // progress and audit lines; defaults to stdout
}

// Report summarises a run
type Report struct {
	DryRun          bool
	TotalRecords    int
	DuplicateGroups int
	Batches         int
	ResolvedBatches int
	SkippedBatches  int
	ResolvedNames   int
	UnresolvedNames int
	FetchFailures   int
	Candidates      int
	SharedKeeperIDs int
	Deleted         int
	AlreadyGone     int
	DeleteFailures  int
	SkippedNames    []string
}

// Engine removes stale duplicate identity records. Each run is a single
// sequential pass: duplicate names are loaded once, resolved in throttled
// batches, and every record that does not carry the canonical identifier is
// deleted in its own transaction. A deletion that has committed stays
// committed even if a later record fails; there is no batch-wide rollback.
type Engine struct {
	store    Store
	resolver Resolver
	opts     Options
	wait     func(ctx context.Context, d time.Duration) error
}

// New creates an Engine
func New(store Store, res Resolver, opts Options) *Engine {
	if opts.BatchSize <= 0 || opts.BatchSize > resolver.MaxBatchSize {
		opts.BatchSize = resolver.MaxBatchSize
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Engine{
		store:    store,
		resolver: res,
		opts:     opts,
		wait:     sleepContext,
	}
}

// Run performs one reconciliation pass. Batch and record failures are
// reported and counted but do not stop the run; only a failure to load the
// duplicate snapshot or a cancelled context returns an error.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	report := Report{DryRun: e.opts.DryRun}

	// The snapshot is not rechecked as deletions proceed. Records are
	// refetched per name right before deletion instead.
	groups, total, err := e.store.ListDuplicateGroups(ctx)
	if err != nil {
		return report, fmt.Errorf("loading duplicate names: %w", err)
	}
	report.TotalRecords = total
	report.DuplicateGroups = len(groups)
	fmt.Fprintf(e.opts.Out, "Found %d users with duplicate UUID/name pairings from %d total users.\n", len(groups), total)

	batches := Partition(domain.Names(groups), e.opts.BatchSize)
	report.Batches = len(batches)

	for i, batch := range batches {
		fmt.Fprintf(e.opts.Out, "Processing batch %d/%d\n", i+1, len(batches))
		if err := e.wait(ctx, e.opts.Throttle); err != nil {
			return report, err
		}

		res, err := e.resolver.ResolveBatch(ctx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			fmt.Fprintf(e.opts.Out, "Batch #%d failure. Could not retrieve UUIDs.\n", i+1)
			fmt.Fprintf(e.opts.Out, "Skipped: %s\n", strings.Join(batch, ", "))
			log.Printf("Batch %d/%d skipped: %v", i+1, len(batches), err)
			report.SkippedBatches++
			report.SkippedNames = append(report.SkippedNames, batch...)
			continue
		}
		report.ResolvedBatches++

		for _, name := range batch {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			canonical, ok := res.Lookup(name)
			if !ok {
				report.UnresolvedNames++
				continue
			}
			if _, err := domain.ParseID(canonical); err != nil {
				log.Printf("Leaving %s untouched: %v", name, err)
				report.UnresolvedNames++
				continue
			}
			report.ResolvedNames++
			e.removeDuplicates(ctx, name, canonical, &report)
		}
	}

	return report, nil
}

// removeDuplicates deletes every record for name that does not carry the
// canonical identifier
func (e *Engine) removeDuplicates(ctx context.Context, name, canonical string, report *Report) {
	records, err := e.store.FetchRecords(ctx, name)
	if err != nil {
		log.Printf("Error fetching records for %s: %v", name, err)
		report.FetchFailures++
		return
	}

	stale, shared := staleRecords(records, canonical)
	if shared > 0 {
		fmt.Fprintf(e.opts.Out, "Warning: %d more %s records share UUID %s and were kept.\n", shared, name, canonical)
		report.SharedKeeperIDs += shared
	}

	for _, rec := range stale {
		report.Candidates++
		fmt.Fprintf(e.opts.Out, "%s\t%s\n", rec.ID, rec.Name)
		if e.opts.DryRun {
			continue
		}

		err := e.store.DeleteRecord(ctx, rec.ID)
		switch {
		case err == nil:
			report.Deleted++
		case errors.Is(err, domain.ErrRecordNotFound):
			report.AlreadyGone++
		default:
			log.Printf("Error deleting %s (%s): %v", rec.ID, rec.Name, err)
			report.DeleteFailures++
		}
	}
}

// staleRecords returns the records to delete so that one record with the
// canonical identifier survives. Identifiers are compared in normalized
// form; a record whose stored form matches the canonical text exactly is
// preferred as the keeper. Records sharing the keeper's raw identifier are
// never returned, since deleting by identifier would remove the keeper too;
// shared counts them. When no record matches, every record is stale.
func staleRecords(records []domain.IdentityRecord, canonical string) (stale []domain.IdentityRecord, shared int) {
	keep := -1
	for i, rec := range records {
		if rec.NormalizedID() != canonical {
			continue
		}
		if keep == -1 || (rec.ID == canonical && records[keep].ID != canonical) {
			keep = i
		}
	}

	for i, rec := range records {
		if keep >= 0 && i == keep {
			continue
		}
		if keep >= 0 && rec.ID == records[keep].ID {
			shared++
			continue
		}
		stale = append(stale, rec)
	}
	return stale, shared
}

// Partition splits names into consecutive batches of at most size names,
// preserving order
func Partition(names []string, size int) [][]string {
	if size <= 0 {
		size = resolver.MaxBatchSize
	}
	var batches [][]string
	for start := 0; start < len(names); start += size {
		end := min(start+size, len(names))
		batches = append(batches, names[start:end:end])
	}
	return batches
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
