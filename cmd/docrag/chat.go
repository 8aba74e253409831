package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docrag/internal/tui"
)

func NewChatCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <document-id>",
		Short: "Open an interactive chat about a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ensureIndexed(cmd.Context(), args[0]); err != nil {
				return err
			}
			doc, err := a.svc.Document(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(tui.New(a.svc, doc.ID, doc.Title), tea.WithAltScreen()).Run()
			return err
		},
	}
}
