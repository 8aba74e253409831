package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docrag/internal/service"
	"docrag/internal/tui"
)

func NewIngestCmd(open opener) *cobra.Command {
	var (
		title string
		id    string
		chat  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file.txt>...",
		Short: "Chunk, embed and index text documents",
		Long: `Ingest one or more .txt files (globs allowed). Form feed characters
separate pages, as written by common PDF text extractors.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandInputs(args)
			if err != nil {
				return err
			}
			if (title != "" || id != "" || chat) && len(paths) > 1 {
				return fmt.Errorf("--title, --id and --chat need exactly one file, got %d", len(paths))
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var last service.IngestReport
			var failed int
			for _, p := range paths {
				data, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				rep, err := a.svc.IngestDocument(cmd.Context(), service.IngestInput{
					ID:    id,
					Title: title,
					Path:  p,
					Pages: splitPages(string(data)),
				})
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s\t%s\t%s: %v\n", rep.DocumentID, rep.Status, p, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\t%s\n", rep.DocumentID, rep.Status, rep.Upserted, p)
				last = rep
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed to index", failed, len(paths))
			}
			if chat {
				doc, err := a.svc.Document(cmd.Context(), last.DocumentID)
				if err != nil {
					return err
				}
				_, err = tea.NewProgram(tui.New(a.svc, doc.ID, doc.Title), tea.WithAltScreen()).Run()
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Document title (default: file name)")
	cmd.Flags().StringVar(&id, "id", "", "Document id (default: derived from the path)")
	cmd.Flags().BoolVar(&chat, "chat", false, "Open the chat view after ingesting")
	return cmd
}

// expandInputs resolves globs and keeps only .txt files.
func expandInputs(args []string) ([]string, error) {
	var out []string
	for _, p := range args {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !strings.HasSuffix(strings.ToLower(m), ".txt") {
				continue
			}
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no .txt documents found")
	}
	return out, nil
}

func splitPages(text string) []string {
	text = strings.TrimSuffix(text, service.PageSeparator)
	return strings.Split(text, service.PageSeparator)
}
