package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/yungbote/papergraph-backend/internal/app"
	"github.com/yungbote/papergraph-backend/internal/pipeline"
	"github.com/yungbote/papergraph-backend/internal/utils"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: papergraph <command> [flags]

commands:
  select   retrieve and gate a corpus around a seed paper
  ingest   select a corpus and run the full pipeline over it
  reason   run the reasoning engine over given paper ids
  dedupe   merge duplicate graph nodes`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "papergraph: %v\n", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	var cmdErr error
	switch os.Args[1] {
	case "select":
		cmdErr = runSelect(ctx, a, os.Args[2:])
	case "ingest":
		cmdErr = runIngest(ctx, a, os.Args[2:])
	case "reason":
		cmdErr = runReason(ctx, a, os.Args[2:])
	case "dedupe":
		cmdErr = runDedupe(ctx, a, os.Args[2:])
	default:
		usage()
	}
	if utils.GetEnvAsBool("METRICS_DUMP", false, a.Log) {
		if err := a.Metrics.WritePrometheus(os.Stderr); err != nil {
			a.Log.Warn("metrics dump failed", "error", err)
		}
	}
	if cmdErr != nil {
		a.Log.Error("command failed", "command", os.Args[1], "error", cmdErr)
		a.Close(context.Background())
		os.Exit(1)
	}
}

func runSelect(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("select", flag.ExitOnError)
	title := fs.String("title", "", "seed paper title (required)")
	authors := fs.String("authors", "", "comma-separated seed authors")
	fs.Parse(args)
	if strings.TrimSpace(*title) == "" {
		return fmt.Errorf("-title is required")
	}

	sel, err := a.Selector.Select(ctx, *title, splitCSV(*authors))
	if err != nil {
		return err
	}
	return printJSON(sel)
}

func runIngest(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	title := fs.String("title", "", "seed paper title (required)")
	authors := fs.String("authors", "", "comma-separated seed authors")
	force := fs.Bool("force", false, "re-ingest papers already stored")
	fulltextDir := fs.String("fulltext-dir", "", "directory of <paper_id>.txt full texts")
	fs.Parse(args)
	if strings.TrimSpace(*title) == "" {
		return fmt.Errorf("-title is required")
	}

	sel, err := a.Selector.Select(ctx, *title, splitCSV(*authors))
	if err != nil {
		return err
	}
	a.Log.Info("corpus selected",
		"seed", sel.Seed.ID,
		"selected", len(sel.Selected),
	)

	runID := uuid.New()
	var succeeded []string
	summary := map[string]int{}
	for _, c := range sel.Selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := a.Core.RunPipeline(ctx, pipeline.PaperInput{
			ID:          c.ID,
			Title:       c.Title,
			Abstract:    c.Abstract,
			Year:        c.Year,
			ExternalIDs: c.ExternalIDs,
			FullText:    readFulltext(*fulltextDir, c.ID),
		}, pipeline.Options{RunID: runID, Force: *force})

		switch {
		case res.Stats.Skipped:
			summary["skipped"]++
		case res.Success:
			summary["succeeded"]++
			succeeded = append(succeeded, res.PaperID)
		default:
			summary["failed"]++
		}
	}

	insights := 0
	if len(succeeded) > 0 {
		insights, err = a.Core.RunReasoningBatch(ctx, succeeded)
		if err != nil {
			return err
		}
	} else {
		a.Log.Info("no paper succeeded, skipping reasoning")
	}

	return printJSON(map[string]any{
		"run_id":    runID.String(),
		"selected":  len(sel.Selected),
		"retrieval": sel.Retrieval,
		"gating":    sel.Gating,
		"summary":   summary,
		"insights":  insights,
	})
}

func runReason(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("reason", flag.ExitOnError)
	papers := fs.String("papers", "", "comma-separated paper ids (required)")
	fs.Parse(args)
	ids := splitCSV(*papers)
	if len(ids) == 0 {
		return fmt.Errorf("-papers is required")
	}

	n, err := a.Core.RunReasoningBatch(ctx, ids)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"insights_count": n})
}

func runDedupe(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("dedupe", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report the merge map without mutating")
	fs.Parse(args)

	report, err := a.Core.RunDedupe(ctx, *dryRun)
	if err != nil {
		return err
	}
	return printJSON(report)
}

// readFulltext loads an archived full text when the directory carries one;
// absent files mean the metadata-only path.
func readFulltext(dir, paperID string) string {
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	raw, err := os.ReadFile(filepath.Join(dir, sanitizeFilename(paperID)+".txt"))
	if err != nil {
		return ""
	}
	return string(raw)
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
