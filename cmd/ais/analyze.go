package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Zuo-Peng/ai-session-graph/internal/engine"
	"github.com/Zuo-Peng/ai-session-graph/internal/index"
	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"
	"github.com/Zuo-Peng/ai-session-graph/internal/scan"
)

func analyzeCmd() *cobra.Command {
	var root, out, format string
	var workers int
	var noCache, noStore bool

	cmd := &cobra.Command{
		Use:   "analyze [project...]",
		Short: "Reconstruct, link and classify every session of the given projects (all by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if root != "" {
				cfg.ProjectsRoot = root
			}
			if workers > 0 {
				cfg.Workers = workers
			}
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown format %q (json or yaml)", format)
			}

			projects, err := scan.ScanProjects(cfg.ProjectsRoot, args...)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			logger.Info("scanned projects", zap.String("root", cfg.ProjectsRoot), zap.Int("projects", len(projects)))

			var db *index.DB
			if !noCache || !noStore {
				db, err = index.OpenDB(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("open db: %w", err)
				}
				defer db.Close()
			}

			opts := engine.Options{
				Workers:  cfg.Workers,
				Aliases:  cfg.Aliases,
				Parse:    cfg.ParseOptions(),
				Snapshot: cfg.SnapshotOptions(),
				Classify: cfg.Classify(),
				TodoDirs: []string{cfg.TodosRoot},
				Logger:   logger,
			}
			if !noCache {
				opts.Cache = engine.Serialized(db.FileCache(cfg.ParseOptions()))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			rep := engine.New(opts).Run(ctx, projects)
			logger.Info("analysis done", zap.Stringer("stats", rep.Stats))

			if !noStore {
				if err := store(db, rep, projects, len(args) == 0); err != nil {
					return err
				}
			}
			if out != "" {
				if err := writeManifests(rep.Manifests, out, format); err != nil {
					return err
				}
			}

			fmt.Fprintf(os.Stderr, "Done. %s\n", rep.Stats)
			for _, f := range rep.Fatal {
				fmt.Fprintf(os.Stderr, "  FAILED %s\n", f)
			}
			if len(rep.Fatal) > 0 {
				return fmt.Errorf("%d project(s) could not be analysed", len(rep.Fatal))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Projects root (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write one manifest per project into this directory ('-' for stdout)")
	cmd.Flags().StringVar(&format, "format", "json", "Manifest format: json or yaml")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers (default from config)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Normalize every file again instead of using the cache")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not store results for list/show/open")

	return cmd
}

// store persists the results. A full run also drops stored projects and
// cached files that no longer exist.
func store(db *index.DB, rep *engine.Report, projects []scan.Project, full bool) error {
	if !full {
		for _, m := range rep.Manifests {
			if err := db.SaveManifest(m, rep.Paths); err != nil {
				return fmt.Errorf("save %s: %w", m.Project, err)
			}
		}
		return nil
	}

	stats, err := db.SaveAll(rep.Manifests, rep.Paths)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for _, p := range projects {
		for _, f := range p.Files {
			seen[f.Path] = struct{}{}
		}
	}
	pruned, err := db.PruneFiles(seen)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	logger.Debug("stored results", zap.Stringer("stats", stats), zap.Int("pruned_files", pruned))
	return nil
}

func writeManifests(ms []*manifest.Manifest, out, format string) error {
	if out != "-" {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	for _, m := range ms {
		var data []byte
		var err error
		if format == "yaml" {
			data, err = manifest.EncodeYAML(m)
		} else {
			data, err = manifest.Encode(m)
			data = append(data, '\n')
		}
		if err != nil {
			return err
		}
		if out == "-" {
			if _, err := os.Stdout.Write(data); err != nil {
				return err
			}
			continue
		}
		path := filepath.Join(out, m.Project+"."+format)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
