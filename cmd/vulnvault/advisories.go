package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"vulnvault/internal/config"
	"vulnvault/internal/metrics"
	"vulnvault/internal/versions"
	"vulnvault/internal/vuln"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var snapshotOut string

var advisoriesCmd = &cobra.Command{
	Use:   "advisories",
	Short: "Query the advisory index and build offline snapshots",
}

var advisoriesLookupCmd = &cobra.Command{
	Use:   "lookup <ecosystem> <package>",
	Short: "Print the advisories known for one package",
	Example: `  vulnvault advisories lookup npm lodash
  vulnvault advisories lookup PyPI django`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eco, err := versions.ParseEcosystem(args[0])
		if err != nil {
			return err
		}
		cfg := config.FromViper()
		ctx := cmd.Context()
		idx, cleanup, err := newIndex(ctx, cfg.Advisories, metrics.Default(), slog.Default())
		defer cleanup()
		if err != nil {
			return err
		}

		advs, err := lookup(ctx, idx, cfg.Advisories.CallTimeout, eco, args[1])
		if err != nil {
			return err
		}
		if len(advs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No advisories for %s %s\n", eco, args[1])
			return nil
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(advs); err != nil {
			return err
		}
		return enc.Close()
	},
}

var advisoriesSnapshotCmd = &cobra.Command{
	Use:   "snapshot <manifest>...",
	Short: "Write an offline snapshot covering the packages of the given manifests",
	Long: `Look up every package declared in the given manifests and write the
advisories found as a snapshot file usable with advisories.source=snapshot.`,
	Example: `  vulnvault advisories snapshot package.json requirements.txt --out advisories.yaml`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotOut == "" {
			return fmt.Errorf("--out is required")
		}
		cfg := config.FromViper()
		ctx := cmd.Context()
		idx, cleanup, err := newIndex(ctx, cfg.Advisories, metrics.Default(), slog.Default())
		defer cleanup()
		if err != nil {
			return err
		}

		type pkg struct {
			eco  versions.Ecosystem
			name string
		}
		seen := make(map[pkg]bool)
		var pkgs []pkg
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			m, err := vuln.ParseManifest(path, data)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}
			for _, d := range m.Declarations {
				p := pkg{m.Ecosystem, vuln.NormalizeName(m.Ecosystem, d.Name)}
				if !seen[p] {
					seen[p] = true
					pkgs = append(pkgs, p)
				}
			}
		}

		snap := make(vuln.Snapshot)
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(cfg.Advisories.Concurrency, 1))
		for _, p := range pkgs {
			g.Go(func() error {
				advs, err := lookup(gctx, idx, cfg.Advisories.CallTimeout, p.eco, p.name)
				if err != nil {
					return fmt.Errorf("%s %s: %w", p.eco, p.name, err)
				}
				if len(advs) == 0 {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				if snap[p.eco] == nil {
					snap[p.eco] = make(map[string][]vuln.Advisory)
				}
				snap[p.eco][p.name] = advs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		f, err := os.Create(snapshotOut)
		if err != nil {
			return err
		}
		if err := vuln.WriteSnapshot(f, snap); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		affected := 0
		for _, byName := range snap {
			affected += len(byName)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d packages checked, %d with advisories\n", snapshotOut, len(pkgs), affected)
		return nil
	},
}

func lookup(ctx context.Context, idx vuln.Index, timeout time.Duration, eco versions.Ecosystem, name string) ([]vuln.Advisory, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return idx.Lookup(ctx, eco, name)
}

func init() {
	advisoriesSnapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "", "Snapshot file to write")
	advisoriesCmd.AddCommand(advisoriesLookupCmd, advisoriesSnapshotCmd)
	rootCmd.AddCommand(advisoriesCmd)
}
