package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ghclient "github.com/bull/respondo-rag/internal/github"
	"github.com/bull/respondo-rag/internal/storage"
)

var (
	ghOwner    string
	ghRepo     string
	ghBasePath string
	ghRef      string
)

var importCmd = &cobra.Command{
	Use:   "import-github",
	Short: "Import documentation files from a GitHub repository",
	Long: `Uploads every markdown, text and HTML file under a repository directory as a
document, then waits for ingestion.

Environment variables:
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&ghOwner, "owner", "", "repository owner (default from config)")
	importCmd.Flags().StringVar(&ghRepo, "repo", "", "repository name (default from config)")
	importCmd.Flags().StringVar(&ghBasePath, "path", "", "directory within the repository")
	importCmd.Flags().StringVar(&ghRef, "ref", "", "branch, tag or commit (default branch when empty)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	src := ghclient.Source{
		Owner:    firstNonEmpty(ghOwner, a.Config.GitHub.Owner),
		Repo:     firstNonEmpty(ghRepo, a.Config.GitHub.Repo),
		BasePath: firstNonEmpty(ghBasePath, a.Config.GitHub.BasePath),
		Ref:      firstNonEmpty(ghRef, a.Config.GitHub.Ref),
	}
	if src.Owner == "" || src.Repo == "" {
		return fmt.Errorf("--owner and --repo are required")
	}

	client, err := ghclient.NewClient(a.Config.GitHub.Token)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	fmt.Fprintf(out, "Importing %s/%s/%s...\n", src.Owner, src.Repo, src.BasePath)
	importer := ghclient.NewImporter(ghclient.NewFetcher(client, src), a.Documents, userID, a.Logger)

	ctx := cmd.Context()
	result, err := importer.Import(ctx)
	if err != nil {
		return err
	}

	var completed int
	for _, job := range result.Jobs {
		r, err := job.Wait(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil && r.Status == storage.StatusCompleted {
			completed++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Import complete!")
	fmt.Fprintf(out, "  Commit:    %s\n", result.CommitSHA)
	fmt.Fprintf(out, "  Found:     %d\n", result.TotalDocs)
	fmt.Fprintf(out, "  Imported:  %d\n", len(result.Imported))
	fmt.Fprintf(out, "  Indexed:   %d\n", completed)
	fmt.Fprintf(out, "  Duration:  %s\n", result.Duration.Round(time.Millisecond))
	if len(result.FailedDocs) > 0 {
		fmt.Fprintf(out, "\nFailed (%d):\n", len(result.FailedDocs))
		for _, f := range result.FailedDocs {
			fmt.Fprintf(out, "  ✗ %s: %s\n", f.Path, f.Reason)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
