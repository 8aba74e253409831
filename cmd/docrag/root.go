package main

import (
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           "docrag",
		Short:         "Ask questions about long documents",
		Long:          `Ingest text documents into a vector index and answer questions about them with retrieved, size-bounded context.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (default ./config.yaml or ~/.config/docrag/config.yaml)")

	open := func(cmd *cobra.Command) (*app, error) {
		return newApp(cmd.Context(), cfgPath, cmd.ErrOrStderr())
	}
	rootCmd.AddCommand(
		NewIngestCmd(open),
		NewAskCmd(open),
		NewChatCmd(open),
		NewDocsCmd(open),
		NewForgetCmd(open),
	)
	return rootCmd
}

// opener builds the application for one command invocation.
type opener func(cmd *cobra.Command) (*app, error)
