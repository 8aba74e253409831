package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docrag/internal/retrieval"
)

func NewAskCmd(open opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <document-id> <question>...",
		Short: "Ask one question about a document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			docID := args[0]
			question := strings.Join(args[1:], " ")
			if err := a.ensureIndexed(cmd.Context(), docID); err != nil {
				return err
			}
			ans, err := a.svc.Ask(cmd.Context(), docID, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				degraded := ""
				if ans.Degraded != nil {
					degraded = ans.Degraded.Error()
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"documentId":      ans.DocumentID,
					"question":        ans.Question,
					"path":            ans.Path,
					"degraded":        degraded,
					"answer":          ans.Text,
					"contextTexts":    ans.Package.ContextTexts,
					"historyMessages": ans.Package.HistoryMessages,
					"sources":         ans.Sources,
				})
			}

			if ans.Path == retrieval.PathFallback {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: vector search unavailable, used keyword fallback")
			}
			if ans.Text != "" {
				fmt.Fprintln(out, ans.Text)
				fmt.Fprintln(out)
			} else {
				for i, t := range ans.Package.ContextTexts {
					fmt.Fprintf(out, "[%d] %s\n\n", i+1, t)
				}
			}
			fmt.Fprintln(out, "Sources:")
			for i, s := range ans.Sources {
				page := "-"
				if s.Page != nil {
					page = fmt.Sprint(*s.Page)
				}
				fmt.Fprintf(out, "  %d. p.%s  %.3f  %s\n", i+1, page, s.Score, s.Preview)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}
