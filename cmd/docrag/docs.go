package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/domain"
)

func NewDocsCmd(open opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "docs",
		Aliases: []string{"ls"},
		Short:   "List ingested documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.svc.Documents(cmd.Context())
			if err != nil {
				return fmt.Errorf("list documents: %w", err)
			}
			if asJSON {
				return outputDocsJSON(cmd, docs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPAGES\tCHUNKS\tINDEXED")
			for _, d := range docs {
				indexed := "-"
				if d.IndexedAt != nil {
					indexed = d.IndexedAt.Local().Format(time.DateTime)
				}
				status := string(d.Status)
				if d.LastError != "" {
					status += " (" + d.LastError + ")"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", d.ID, d.Title, status, d.PageCount, d.ChunkCount, indexed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func outputDocsJSON(cmd *cobra.Command, docs []domain.Document) error {
	data := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		data = append(data, map[string]any{
			"id":          d.ID,
			"title":       d.Title,
			"path":        d.Path,
			"status":      d.Status,
			"page_count":  d.PageCount,
			"chunk_count": d.ChunkCount,
			"indexed_at":  d.IndexedAt,
			"last_error":  d.LastError,
			"created_at":  d.CreatedAt,
		})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
