package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"studysphere/config"
	"studysphere/internal/maintenance"
	"studysphere/internal/repository"
	"studysphere/pkg/database"
	"studysphere/pkg/logger"

	"gorm.io/gorm"
)

const usage = `
StudySphere - Conversation maintenance CLI

Usage:
  maintenance [flags] [command]

Commands:
  migrate      Create or update tables (gorm auto-migrate)
  status       Show database connection, tables and pair index state
  seed-dev     Seed development users with incomplete names
  normalize    Store every conversation with sorted participants
  dedupe       Collapse duplicate conversations of the same pair
  reindex      Replace the legacy participants index with the unique pair index
  backfill     Derive display names for users with blank or placeholder names
  repair-all   normalize, dedupe, reindex and backfill in that order

Flags:
  -batch-size int        Rows per page (default from MAINTENANCE_BATCH_SIZE)
  -with-index            migrate: also create the unique pair index
  -legacy-duplicates     seed-dev: also insert a reversed duplicate pair

Every repair command is idempotent and safe to re-run.
`

func main() {
	batchSize := flag.Int("batch-size", 0, "Rows per page")
	withIndex := flag.Bool("with-index", false, "Create the unique pair index during migrate")
	legacyDuplicates := flag.Bool("legacy-duplicates", false, "Seed a reversed duplicate conversation")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	command := flag.Arg(0)

	cfg := config.LoadConfig()
	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg)
	if err != nil {
		l.Errorf("❌ %s", err)
		os.Exit(1)
	}
	defer database.Close(db)

	if *batchSize <= 0 {
		*batchSize = cfg.MaintenanceBatchSize
	}
	runner := maintenance.NewRunner(db, *batchSize, l)
	report := func(reports []maintenance.Report, err error) error {
		return printReports(l, reports, err)
	}

	switch command {
	case "migrate":
		err = runMigrate(ctx, db, *withIndex, l)
	case "status":
		err = showStatus(ctx, db, l)
	case "seed-dev":
		err = runSeedDevelopment(ctx, db, *legacyDuplicates, l)
	case "normalize":
		err = report(single(runner.NormalizePairs(ctx)))
	case "dedupe":
		err = report(single(runner.CollapseDuplicates(ctx)))
	case "reindex":
		err = report(single(runner.RebuildIndex(ctx)))
	case "backfill":
		err = report(single(runner.BackfillNames(ctx)))
	case "repair-all":
		err = report(runner.RunAll(ctx))
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		l.Errorf("❌ %s failed: %s", command, err)
		l.Sync()
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context, db *gorm.DB, withIndex bool, l *logger.Logger) error {
	l.Infof("🚀 Running migrations...")
	if err := repository.InitSchema(ctx, db, withIndex); err != nil {
		return err
	}
	l.Infof("✅ Migrations completed successfully!")
	return nil
}

func showStatus(ctx context.Context, db *gorm.DB, l *logger.Logger) error {
	l.Infof("🔍 Checking database status...")

	if err := database.HealthCheck(ctx, db); err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	l.Infof("✅ Database connection: OK")

	for _, model := range repository.Models() {
		name := fmt.Sprintf("%T", model)
		if db.Migrator().HasTable(model) {
			l.Infof("✅ Table %s: exists", name)
		} else {
			l.Warnf("⚠️  Table %s: missing", name)
		}
	}

	if repository.HasPairIndex(db) {
		l.Infof("✅ Unique pair index: present")
	} else {
		l.Warnf("⚠️  Unique pair index: missing (run repair-all)")
	}
	return nil
}

func runSeedDevelopment(ctx context.Context, db *gorm.DB, legacyDuplicates bool, l *logger.Logger) error {
	l.Infof("🌱 Seeding development data...")
	cfg := database.DefaultSeedConfig()
	cfg.LegacyDuplicates = legacyDuplicates
	result, err := database.Seed(ctx, db, cfg, l)
	if err != nil {
		return err
	}
	for _, u := range result.Users {
		l.Infof("   %s  %s  first=%q last=%q", u.ID, u.Email, u.FirstName, u.LastName)
	}
	l.Infof("✅ Seeded %d users, %d conversations, %d messages",
		len(result.Users), len(result.Conversations), result.Messages)
	return nil
}

func single(report maintenance.Report, err error) ([]maintenance.Report, error) {
	return []maintenance.Report{report}, err
}

func printReports(l *logger.Logger, reports []maintenance.Report, err error) error {
	for _, r := range reports {
		l.Infof("📋 %-10s scanned=%d updated=%d deleted=%d skipped=%d failed=%d (%s)",
			r.Job, r.Scanned, r.Updated, r.Deleted, r.Skipped, r.Failed, r.Duration)
	}
	if err != nil {
		return err
	}
	l.Infof("✅ Done")
	return nil
}
