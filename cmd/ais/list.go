package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/search"
	"github.com/Zuo-Peng/ai-session-graph/internal/tui"
)

const (
	sColorReset   = "\033[0m"
	sColorBoldRed = "\033[1;31m"
	sColorBlue    = "\033[1;34m"
	sColorGreen   = "\033[1;32m"
	sColorDim     = "\033[2m"
)

func colorizeType(t string) string {
	switch t {
	case "original", "multi_agent_workflow":
		return sColorBlue + t + sColorReset
	case "continuation", "post_compaction_continuation":
		return sColorGreen + t + sColorReset
	default:
		return sColorDim + t + sColorReset
	}
}

func colorizeSnippet(snippet string) string {
	snippet = strings.ReplaceAll(snippet, ">>>", sColorBoldRed)
	snippet = strings.ReplaceAll(snippet, "<<<", sColorReset)
	return snippet
}

func tsvField(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func listCmd() *cobra.Command {
	var project, typ, since string
	var all bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list [query]",
		Short: "Browse analysed sessions, newest first, optionally matching a title query",
		Long: `Opens a TUI over the stored analysis when stdout is a terminal. Snapshots
and completion markers are hidden unless --all is given. Output is TSV for pipes:
  sessionKey, sessionId, updatedAt, type, chain, title

Example fzf binding:
  ais list | fzf --ansi --delimiter='\t' --with-nth=3.. \
    --preview 'ais show {1} --context 5' \
    --bind 'enter:execute(ais open {1})'`,
		Args: cobra.MaximumNArgs(1),
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

			opts := search.Options{
				Project: project,
				Type:    typ,
				All:     all,
				Since:   since,
				Limit:   limit,
			}
			query := strings.Join(args, " ")

			// Interactive TUI when stdout is a terminal; TSV output for pipes
			if term.IsTerminal(int(os.Stdout.Fd())) {
				return tui.Run(db, query, opts, cfg.ParseOptions())
			}

			opts.Query = query
			results, err := search.Search(db, opts)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(os.Stderr, "No sessions found. Run 'ais analyze' first?")
				return nil
			}

			for _, r := range results {
				chain := "-"
				if r.ChainID != "" {
					chain = fmt.Sprintf("%s#%d", r.ChainID, r.ChainPos)
				}
				title := tsvField(r.Title)
				if query != "" {
					title = colorizeSnippet(tsvField(r.Snippet))
				}
				// first two fields stay plain for fzf {1} {2}
				fmt.Printf("%s\t%s\t%s%s%s\t%s\t%s\t%s\n",
					r.SessionKey,
					r.SessionID,
					sColorDim, r.UpdatedAt, sColorReset,
					colorizeType(r.Type),
					chain,
					title,
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Only this project")
	cmd.Flags().StringVar(&typ, "type", "", "Only this classification (e.g. original, continuation)")
	cmd.Flags().BoolVar(&all, "all", false, "Include snapshots, completion markers and unknown sessions")
	cmd.Flags().StringVar(&since, "since", "", "Filter sessions updated since date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max results")

	return cmd
}
