package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bull/respondo-rag/internal/storage"
)

var allUsers bool

var statusCmd = &cobra.Command{
	Use:   "status [DOCUMENT_ID]",
	Short: "Show ingestion status",
	Long:  "Lists the user's documents, or shows chunk and embedding counts for one document.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&allUsers, "all", false, "list documents of every user")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	ctx := cmd.Context()

	if len(args) == 1 {
		status, err := a.Documents.Status(ctx, args[0])
		if err != nil {
			return err
		}
		doc := status.Document
		fmt.Fprintf(out, "ID:         %s\n", doc.ID)
		fmt.Fprintf(out, "Name:       %s\n", doc.Name)
		fmt.Fprintf(out, "Status:     %s\n", doc.Status)
		if doc.ErrorMessage != "" {
			fmt.Fprintf(out, "Error:      %s\n", doc.ErrorMessage)
		}
		fmt.Fprintf(out, "Chunks:     %d\n", status.Chunks)
		fmt.Fprintf(out, "Embeddings: %d\n", status.Embeddings)
		if doc.Summary != "" {
			fmt.Fprintf(out, "Summary:    %s\n", doc.Summary)
		}
		return nil
	}

	owner := userID
	if allUsers {
		owner = ""
	}
	docs, err := a.Documents.List(ctx, owner)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents.")
		return nil
	}

	counts := map[storage.Status]int{}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tUPDATED")
	for _, d := range docs {
		counts[d.Status]++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Status, d.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()

	fmt.Fprintf(out, "\n%d documents: %d completed, %d processing, %d pending, %d error\n", len(docs),
		counts[storage.StatusCompleted], counts[storage.StatusProcessing],
		counts[storage.StatusPending], counts[storage.StatusError])
	return nil
}
