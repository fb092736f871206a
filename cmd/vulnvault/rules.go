package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"vulnvault/internal/security"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/sets"
)

var rulesCategory string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the registered detectors",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := security.DefaultRegistry()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCATEGORY\tSEVERITY\tLANGUAGES\tDESCRIPTION")
		shown := 0
		for _, d := range reg.Detectors() {
			if rulesCategory != "" && string(d.Category) != rulesCategory {
				continue
			}
			shown++
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Category, d.Severity, languages(d), d.Description)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if shown == 0 && rulesCategory != "" {
			return fmt.Errorf("no detector reports category %q", rulesCategory)
		}
		return nil
	},
}

func languages(d security.Detector) string {
	if d.Languages.Len() == 0 {
		return "any"
	}
	langs := sets.List(d.Languages)
	parts := make([]string, len(langs))
	for i, l := range langs {
		parts[i] = string(l)
	}
	return strings.Join(parts, ",")
}

func init() {
	rulesCmd.Flags().StringVar(&rulesCategory, "category", "", "Only list detectors for this category (e.g. sql_injection)")
	rootCmd.AddCommand(rulesCmd)
}
