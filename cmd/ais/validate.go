package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"
)

func validateCmd() *cobra.Command {
	var digest bool

	cmd := &cobra.Command{
		Use:   "validate <manifest.json>...",
		Short: "Check written JSON manifests against the manifest schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed []error
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					failed = append(failed, err)
					continue
				}
				if err := manifest.Validate(data); err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
					fmt.Printf("  %s: INVALID\n", path)
					continue
				}
				if !digest {
					fmt.Printf("  %s: OK\n", path)
					continue
				}
				m, err := manifest.Decode(data)
				if err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
					continue
				}
				sum, err := manifest.Digest(m)
				if err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
					continue
				}
				fmt.Printf("  %s: OK %s\n", path, sum)
			}
			return errors.Join(failed...)
		},
	}

	cmd.Flags().BoolVar(&digest, "digest", false, "Also print the sha256 of the canonical encoding")

	return cmd
}
