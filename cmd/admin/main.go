package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"famfin/internal/domain/banksync"
	"famfin/internal/interfaces/scheduler"
	"famfin/internal/shared/auth"
	"famfin/internal/shared/config"
	"famfin/internal/shared/logging"
)

const usage = `famfin admin CLI - maintenance commands for the bank sync service

Usage:
  admin <command> [options]

Commands:
  sync-balances        Refresh GoCardless balances for one or more families
  import-transactions  Import GoCardless transactions for one or more families
  migrate              Apply the database schema
  institutions         List the aggregator institutions of a country
  hash-cron-key        Print the bcrypt hash to use as CRON_KEY_HASH

Examples:
  # Refresh balances of a single family
  admin sync-balances --family-id=6f1c...

  # Refresh balances of every family with a GoCardless connection
  admin sync-balances --all --workers=4

  # Import the last 30 days for two families
  admin import-transactions --family-id=a,b --days=30

  # Backfill an explicit window
  admin import-transactions --all --from=2024-01-01 --to=2024-03-31 --timeout=1h

  # Look up institution ids
  admin institutions --country=GB
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "sync-balances":
		err = runSync(os.Args[2:], opBalances)
	case "import-transactions":
		err = runSync(os.Args[2:], opTransactions)
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "institutions":
		err = runInstitutions(os.Args[2:])
	case "hash-cron-key":
		err = runHashCronKey(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type operation string

const (
	opBalances     operation = "sync-balances"
	opTransactions operation = "import-transactions"
)

func runSync(args []string, op operation) error {
	fs := flag.NewFlagSet(string(op), flag.ExitOnError)

	familyIDs := fs.String("family-id", "", "Family ID(s) to process (comma-separated for multiple)")
	all := fs.Bool("all", false, "Process every family with a GoCardless connection")
	workers := fs.Int("workers", 2, "Number of concurrent workers")
	timeout := fs.Duration("timeout", 30*time.Minute, "Timeout for the whole operation (e.g. 5m, 1h)")
	var days *int
	var fromStr, toStr *string
	if op == opTransactions {
		days = fs.Int("days", 0, "Import the last N days (defaults to IMPORT_WINDOW_DAYS)")
		fromStr = fs.String("from", "", "Window start as YYYY-MM-DD")
		toStr = fs.String("to", "", "Window end as YYYY-MM-DD")
	}

	fs.Usage = func() {
		fmt.Printf("Usage: admin %s [options]\n", op)
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *familyIDs == "" && !*all {
		fs.Usage()
		return fmt.Errorf("must specify --family-id or --all")
	}
	if *workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var from, to time.Time
	if op == opTransactions {
		from, to, err = importWindow(app.service, *days, *fromStr, *toStr, time.Now())
		if err != nil {
			return err
		}
	}

	ids := splitIDs(*familyIDs)
	if *all {
		ids, err = app.service.ListFamilies(ctx)
		if err != nil {
			return err
		}
		app.logger.Info("found families with GoCardless connections", zap.Int("count", len(ids)))
	}
	if len(ids) == 0 {
		fmt.Println("No families to process")
		return nil
	}

	run := func(ctx context.Context, familyID string) (*banksync.SyncResult, error) {
		if op == opBalances {
			return app.service.SyncFamilyBalances(ctx, familyID)
		}
		return app.service.ImportFamilyTransactions(ctx, familyID, from, to)
	}

	start := time.Now()
	results := runFamilies(ids, *workers, *timeout, app.logger, string(op), run)

	failed := 0
	for _, id := range ids {
		r := results[id]
		printResult(id, r)
		if r.err != nil {
			failed++
		}
	}
	fmt.Printf("\n%s finished for %d families in %v, %d failed\n", op, len(ids), time.Since(start).Round(time.Millisecond), failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d families failed", failed, len(ids))
	}
	return nil
}

type familyResult struct {
	res *banksync.SyncResult
	err error
}

// familyJob adapts one family run to the scheduler worker pool and keeps its result.
type familyJob struct {
	familyID    string
	description string
	run         func(ctx context.Context, familyID string) (*banksync.SyncResult, error)

	mu      *sync.Mutex
	results map[string]familyResult
}

func (j *familyJob) Execute(ctx context.Context) error {
	res, err := j.run(ctx, j.familyID)
	j.mu.Lock()
	j.results[j.familyID] = familyResult{res: res, err: err}
	j.mu.Unlock()
	return err
}

func (j *familyJob) FamilyID() string    { return j.familyID }
func (j *familyJob) Description() string { return j.description }

func runFamilies(ids []string, workers int, timeout time.Duration, logger *zap.Logger, description string, run func(ctx context.Context, familyID string) (*banksync.SyncResult, error)) map[string]familyResult {
	var mu sync.Mutex
	results := make(map[string]familyResult, len(ids))

	pool := scheduler.NewWorkerPool(workers, 0, timeout, len(ids), logger)
	pool.Start()

	jobs := make([]scheduler.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, &familyJob{familyID: id, description: description, run: run, mu: &mu, results: results})
	}
	pool.SubmitBatch(jobs)
	pool.ShutdownWithTimeout(timeout)

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		if _, ok := results[id]; !ok {
			results[id] = familyResult{err: fmt.Errorf("did not finish within %v", timeout)}
		}
	}
	return results
}

// importWindow resolves the CLI window. Explicit dates win over --days, which
// wins over the configured default.
// windowSource supplies the default import window.
type windowSource interface {
	ImportWindow() (time.Time, time.Time)
}

// importWindow resolves the flags into a date range. Explicit dates win over
// --days, which wins over the service default. A missing --from is --to minus
// the default window length.
func importWindow(src windowSource, days int, fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	if fromStr == "" && toStr == "" {
		if days > 0 {
			return now.AddDate(0, 0, -days), now, nil
		}
		from, to := src.ImportWindow()
		return from, to, nil
	}

	to := now
	if toStr != "" {
		parsed, err := time.Parse(time.DateOnly, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		to = parsed
	}

	var from time.Time
	if fromStr != "" {
		parsed, err := time.Parse(time.DateOnly, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		from = parsed
	} else {
		defFrom, defTo := src.ImportWindow()
		from = to.Add(-defTo.Sub(defFrom))
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must not be after --to")
	}
	return from, to, nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func printResult(familyID string, r familyResult) {
	fmt.Printf("\n=== Family %s ===\n", familyID)
	if r.err != nil {
		fmt.Printf("  Failed: %v\n", r.err)
		return
	}

	s := r.res.Summary()
	fmt.Printf("  Accounts updated:       %d\n", s.AccountsUpdated)
	fmt.Printf("  Accounts failed:        %d\n", s.AccountsFailed)
	fmt.Printf("  Transactions imported:  %d\n", s.TransactionsImported)
	fmt.Printf("  Transactions skipped:   %d\n", s.TransactionsSkipped)

	if len(s.Errors) > 0 {
		fmt.Printf("  Errors:                 %d\n", len(s.Errors))
		for i, e := range s.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(s.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	timeout := fs.Duration("timeout", time.Minute, "Timeout for applying the schema")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Schema applied")
	return nil
}

func runInstitutions(args []string) error {
	fs := flag.NewFlagSet("institutions", flag.ExitOnError)
	country := fs.String("country", "", "ISO 3166 two-letter country code (required)")
	filter := fs.String("name", "", "Only show institutions whose name contains this text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *country == "" {
		fs.Usage()
		return fmt.Errorf("--country is required")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, tokens := newAggregator(cfg, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GoCardless.Timeout)
	defer cancel()

	token, err := tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	institutions, err := client.ListInstitutions(ctx, token, strings.ToUpper(*country))
	if err != nil {
		return fmt.Errorf("failed to list institutions: %w", err)
	}

	sort.Slice(institutions, func(i, j int) bool { return institutions[i].Name < institutions[j].Name })
	needle := strings.ToLower(*filter)
	for _, inst := range institutions {
		if needle != "" && !strings.Contains(strings.ToLower(inst.Name), needle) {
			continue
		}
		fmt.Printf("%-40s %-12s %s\n", inst.ID, inst.BIC, inst.Name)
	}
	return nil
}

func runHashCronKey(args []string) error {
	fs := flag.NewFlagSet("hash-cron-key", flag.ExitOnError)
	key := fs.String("key", "", "Cron key to hash (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		fs.Usage()
		return fmt.Errorf("--key is required")
	}

	hash, err := auth.HashSecret(*key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Server.Environment)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}
