package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Chichichkin/bootlog/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bootlog-agent",
		Short: "Tail node log files and push them to Loki",
		Long: `bootlog-agent discovers container log files, tails them and pushes
the lines to Loki. Log output produced before the configuration is loaded
is captured and replayed once the permanent logger is active.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file path")
	return cmd
}
