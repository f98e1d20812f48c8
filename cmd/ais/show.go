package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/render"
)

func showCmd() *cobra.Command {
	var line, context int
	var query string
	var plain bool

	cmd := &cobra.Command{
		Use:   "show <sessionKey>",
		Short: "Show a session's classification, edges and node forest",
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

			out, _, err := render.SessionFromIndex(db, args[0], cfg.ParseOptions(), render.Options{
				Line:    line,
				Context: context,
				Query:   query,
				Plain:   plain || !term.IsTerminal(int(os.Stdout.Fd())),
			})
			if err != nil {
				return err
			}

			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&line, "line", 0, "Physical log line to centre on")
	cmd.Flags().IntVar(&context, "context", 10, "Nodes before/after the line to show (-1 = all)")
	cmd.Flags().StringVar(&query, "query", "", "Keywords to highlight")
	cmd.Flags().BoolVar(&plain, "plain", false, "Disable colors")

	return cmd
}
