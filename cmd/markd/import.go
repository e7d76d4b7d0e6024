package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/markd/internal/config"
	"github.com/kalambet/markd/internal/importer"
	"github.com/kalambet/markd/internal/procedures"
	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import <bookmarks.html>",
	Short: "Sync bookmarks from a browser HTML export",
	Long: `Sync bookmarks from a Netscape-format HTML export, as produced by every
major browser. Existing notes, ratings and tags are kept.

Examples:
  markd import ~/Downloads/bookmarks.html
  markd import --prune bookmarks.html`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prune, _ := cmd.Flags().GetBool("prune")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening export: %w", err)
		}
		parsed, err := importer.ParseNetscape(f)
		f.Close()
		if err != nil {
			return err
		}
		printStep("Found %d bookmarks in %d folders", len(parsed.Records), len(parsed.Folders))
		if parsed.Skipped > 0 {
			printWarning("Skipped %d non-web links", parsed.Skipped)
		}
		if dryRun {
			return nil
		}

		var total storage.SyncResult
		err = withRPC(cmdContext(cmd), func(ctx context.Context, c *rpc.Client) error {
			var err error
			total, err = syncRecords(ctx, c, parsed.Records, cfg.Import.BatchSize, cfg.Import.Concurrency, prune)
			return err
		})
		if err != nil {
			return err
		}
		printSuccess("Imported: %d new, %d updated, %d removed", total.Inserted, total.Updated, total.Removed)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("prune", false, "remove stored bookmarks missing from the export")
	importCmd.Flags().Bool("dry-run", false, "parse the export without syncing")
}

// syncRecords sends records in batches, at most concurrency at a time.
// Pruning needs the whole set in one call, so it disables batching.
func syncRecords(ctx context.Context, c *rpc.Client, records []storage.SyncRecord, batchSize, concurrency int, prune bool) (storage.SyncResult, error) {
	if prune {
		return procedures.SyncChromeBookmarks.Mutate(ctx, c, procedures.SyncInput{Bookmarks: records, Prune: true})
	}

	var (
		mu    sync.Mutex
		total storage.SyncResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, batch := range importer.Batches(records, batchSize) {
		g.Go(func() error {
			res, err := procedures.SyncChromeBookmarks.Mutate(gctx, c, procedures.SyncInput{Bookmarks: batch})
			if err != nil {
				return fmt.Errorf("batch %d: %w", i+1, err)
			}
			mu.Lock()
			total.Inserted += res.Inserted
			total.Updated += res.Updated
			total.Removed += res.Removed
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return total, err
}
