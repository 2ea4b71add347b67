package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gmsas95/paperflow/internal/app"
	"github.com/gmsas95/paperflow/internal/batch"
	"github.com/gmsas95/paperflow/internal/store"
)

// HandleReprocessCommand re-runs split and classification for the given
// documents, or for every errored document with --all
func HandleReprocessCommand(args []string) {
	fs, g := newFlagSet("reprocess")
	all := fs.Bool("all", false, "Reprocess every document in error")
	limit := fs.Int("limit", 500, "Maximum documents picked by --all")
	concurrency := fs.Int("c", batch.DefaultConfig().MaxConcurrency, "Concurrent documents")
	timeout := fs.Duration("t", batch.DefaultConfig().Timeout, "Timeout per document")
	retries := fs.Int("retries", batch.DefaultConfig().RetryCount, "Retries for transient failures")
	output := fs.String("o", "", "Write a report (.json for JSON, text otherwise)")
	parse(fs, args)

	if !*all && fs.NArg() == 0 {
		PrintReprocessHelp()
		os.Exit(1)
	}

	withApp(g, func(ctx context.Context, a *app.App) error {
		ids := fs.Args()
		if *all {
			docs, err := a.Store.ListByStatus(ctx, store.StatusError, *limit)
			if err != nil {
				return err
			}
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
		}
		if len(ids) == 0 {
			fmt.Println("Nothing to reprocess.")
			return nil
		}

		fmt.Printf("🔁 Reprocessing %d document(s)\n", len(ids))
		fmt.Printf("   Concurrency: %d | Timeout: %v\n\n", *concurrency, *timeout)

		processor := batch.NewProcessor(batch.Config{
			MaxConcurrency: *concurrency,
			Timeout:        *timeout,
			RetryCount:     *retries,
			RetryDelay:     2 * time.Second,
		}, a.Logger.Named("batch"))
		result := processor.Run(ctx, ids, a.Service.Reprocess)

		if g.jsonOut {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			fmt.Println(result.Summary())
		}

		if *output != "" {
			if err := batch.SaveReport(*output, result); err != nil {
				return fmt.Errorf("failed to save report: %w", err)
			}
			fmt.Printf("✓ Results saved to: %s\n", *output)
		}

		if result.Failed > 0 {
			fmt.Println("\nFailed items:")
			for _, item := range result.Items {
				if !item.Success {
					fmt.Printf("  - %s: %s\n", item.ID, item.Error)
				}
			}
			return fmt.Errorf("%d of %d documents failed", result.Failed, result.Total)
		}
		return nil
	})
}
