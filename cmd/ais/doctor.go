package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/scan"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Self-check: verify roots, DB, FTS5, and show stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			// check roots
			fmt.Println("=== Roots ===")
			checkDir("Projects", cfg.ProjectsRoot)
			checkDir("Todos", cfg.TodosRoot)

			// scan file counts
			fmt.Println("\n=== File Scan ===")
			projects, err := scan.ScanProjects(cfg.ProjectsRoot)
			if err != nil {
				fmt.Printf("  scan error: %v\n", err)
			} else {
				files, broken := 0, 0
				for _, p := range projects {
					files += len(p.Files)
					if p.Err != nil {
						broken++
						fmt.Printf("  unreadable: %s (%v)\n", p.Name, p.Err)
					}
				}
				fmt.Printf("  Projects:      %d (%d unreadable)\n", len(projects), broken)
				fmt.Printf("  Session files: %d\n", files)
			}
			for canonical, names := range cfg.Aliases {
				fmt.Printf("  Alias: %s <- %v\n", canonical, names)
			}

			// check DB
			fmt.Println("\n=== Database ===")
			fmt.Printf("  Path: %s\n", cfg.DBPath)
			if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
				fmt.Println("  Status: NOT FOUND (run 'ais analyze' first)")
				return nil
			}

			db, err := index.OpenDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			counts, err := db.Counts()
			if err != nil {
				return fmt.Errorf("count rows: %w", err)
			}
			fmt.Printf("  Cached files: %d\n", counts.Files)
			fmt.Printf("  Projects:     %d\n", counts.Projects)
			fmt.Printf("  Sessions:     %d\n", counts.Sessions)
			fmt.Printf("  Edges:        %d\n", counts.Edges)

			// check FTS5
			fmt.Println("\n=== FTS5 ===")
			var ftsCount int
			err = db.Raw().QueryRow("SELECT COUNT(*) FROM sessions_fts").Scan(&ftsCount)
			if err != nil {
				fmt.Printf("  FTS5 error: %v\n", err)
			} else {
				fmt.Printf("  FTS5 entries: %d\n", ftsCount)
				if ftsCount == counts.Sessions {
					fmt.Println("  Status: OK (synced)")
				} else {
					fmt.Printf("  Status: MISMATCH (sessions=%d, fts=%d)\n", counts.Sessions, ftsCount)
				}
			}

			// classification breakdown
			rows, err := db.Raw().Query("SELECT type, COUNT(*) FROM sessions GROUP BY type ORDER BY type")
			if err == nil {
				fmt.Println("\n=== Types ===")
				for rows.Next() {
					var typ string
					var n int
					if rows.Scan(&typ, &n) == nil {
						fmt.Printf("  %-30s %d\n", typ, n)
					}
				}
				rows.Close()
			}

			// check DB file size
			if info, err := os.Stat(cfg.DBPath); err == nil {
				sizeMB := float64(info.Size()) / 1024 / 1024
				fmt.Printf("\n=== DB Size: %.1f MB ===\n", sizeMB)
			}

			return nil
		},
	}
}

func checkDir(name, path string) {
	if info, err := os.Stat(path); err != nil {
		fmt.Printf("  %s: %s (NOT FOUND)\n", name, path)
	} else if !info.IsDir() {
		fmt.Printf("  %s: %s (NOT A DIRECTORY)\n", name, path)
	} else {
		fmt.Printf("  %s: %s (OK)\n", name, path)
	}
}
