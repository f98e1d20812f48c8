package main

import (
	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/open"
)

func openCmd() *cobra.Command {
	var line int

	cmd := &cobra.Command{
		Use:   "open <sessionKey>",
		Short: "Open the session's JSONL file in $EDITOR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := index.OpenDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			return open.OpenSession(db, args[0], line)
		},
	}

	cmd.Flags().IntVar(&line, "line", 1, "Line to jump to")

	return cmd
}
