package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/respondo-rag/internal/retrieval"
)

var (
	searchThreshold float64
	searchTopK      int
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Find the chunks most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", retrieval.DefaultThreshold, "minimum cosine similarity")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", retrieval.DefaultTopK, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	ctx := cmd.Context()
	query := strings.Join(args, " ")

	vector, err := a.QueryEmbedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}

	results := a.Searcher.Search(ctx, vector, searchThreshold, searchTopK)
	if len(results) == 0 {
		fmt.Fprintln(out, "No matching chunks found.")
		return nil
	}

	for i, r := range results {
		name := r.DocumentID
		if doc, err := a.Documents.Get(ctx, r.DocumentID); err == nil {
			name = doc.Name
		}
		fmt.Fprintf(out, "%d. %s (%.3f)\n", i+1, name, r.Similarity)
		fmt.Fprintf(out, "   %s\n\n", excerpt(r.Content, 200))
	}
	return nil
}

// excerpt shortens s to at most n runes.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
