package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docsift/internal/services"
)

var (
	queryTopK int
	queryJSON bool
	queryAll  bool
)

var queryCmd = &cobra.Command{
	Use:   "query [document-id] [question]",
	Short: "Ask a question about an ingested document",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of context chunks (defaults to QUERY_TOP_K)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full result as JSON")
	queryCmd.Flags().BoolVar(&queryAll, "all-documents", false, "search every document instead of one")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	documentID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("document id must be an integer: %w", err)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	req := services.QueryRequest{Query: strings.TrimSpace(args[1]), TopK: queryTopK}
	if !queryAll {
		req.DocumentID = &documentID
	}
	res := a.Queries.Answer(cmd.Context(), req)
	if queryJSON {
		return printJSON(cmd, res)
	}

	cmd.Println(res.Answer)
	if res.Error != nil {
		return fmt.Errorf("query failed: %s", res.Error.Code)
	}
	if len(res.RetrievedContext) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for _, c := range res.RetrievedContext {
			cmd.Printf("  %s (page %d, similarity %.3f)\n", c.ChunkID, c.Metadata.PageNumber, c.Similarity)
		}
	}
	return nil
}
