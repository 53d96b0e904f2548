package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/respondo-rag/internal/documents"
	"github.com/bull/respondo-rag/internal/indexer"
	"github.com/bull/respondo-rag/internal/storage"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Upload and index documents",
	Long: `Uploads each file, then chunks, embeds and stores it.

Supported types: txt, md, html, docx (pdf and doc are stored but cannot be indexed).
The command waits until every document is completed or failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	ctx := cmd.Context()
	start := time.Now()

	var jobs []*indexer.Job
	names := map[string]string{}
	for _, name := range args {
		f, err := os.Open(name)
		if err != nil {
			fmt.Fprintf(out, "  ✗ %s: %v\n", name, err)
			continue
		}
		doc, job, err := a.Documents.Upload(ctx, documents.Upload{
			UserID:   userID,
			FileName: filepath.Base(name),
			Data:     f,
		})
		f.Close()
		if err != nil {
			fmt.Fprintf(out, "  ✗ %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "Uploaded %s (%s)\n", name, doc.ID)
		names[doc.ID] = name
		jobs = append(jobs, job)
	}

	var failed int
	for _, job := range jobs {
		// A failed run returns its result together with the error.
		result, err := job.Wait(ctx)
		name := names[job.DocumentID()]
		if result == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			fmt.Fprintf(out, "  ✗ %s: %v\n", name, err)
			continue
		}
		if result.Status == storage.StatusCompleted {
			fmt.Fprintf(out, "  ✓ %s: %d chunks\n", name, result.Chunks)
			continue
		}
		failed++
		fmt.Fprintf(out, "  ✗ %s: %s\n", name, result.Message)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Ingested %d/%d documents in %s\n", len(jobs)-failed, len(args), time.Since(start).Round(time.Millisecond))
	if failed > 0 || len(jobs) < len(args) {
		return fmt.Errorf("%d documents failed", len(args)-len(jobs)+failed)
	}
	return nil
}
