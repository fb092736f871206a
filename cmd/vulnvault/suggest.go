package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"vulnvault/internal/config"
	"vulnvault/internal/metrics"
	"vulnvault/internal/report"
	"vulnvault/internal/suggest"

	"github.com/spf13/cobra"
)

var (
	suggestFile  string
	suggestIndex int
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask the configured AI provider how to fix one finding",
	Long: `Read one finding as JSON and print a remediation suggestion.

The input is either a single entry of a report's "vulnerabilities" array or a
whole JSON report, in which case --index selects the entry. Only the masked
code excerpt is sent to the provider.`,
	Example: `  vulnvault scan file app.py -f json | vulnvault suggest --index 0
  vulnvault suggest --file finding.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if suggestFile != "" {
			f, err := os.Open(suggestFile)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("failed to read finding: %w", err)
		}
		v, err := selectVulnerability(data, suggestIndex)
		if err != nil {
			return err
		}

		s, err := suggest.New(config.FromViper().AI, metrics.Default(), slog.Default())
		if err != nil {
			return err
		}
		text, err := s.Suggest(cmd.Context(), v.Finding())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

// selectVulnerability decodes a single vulnerability or picks one from a
// whole report payload.
func selectVulnerability(data []byte, index int) (report.Vulnerability, error) {
	var payload struct {
		Vulnerabilities *[]report.Vulnerability `json:"vulnerabilities"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return report.Vulnerability{}, fmt.Errorf("invalid finding JSON: %w", err)
	}
	if payload.Vulnerabilities != nil {
		vs := *payload.Vulnerabilities
		if index < 0 || index >= len(vs) {
			return report.Vulnerability{}, fmt.Errorf("--index %d out of range, the report has %d finding(s)", index, len(vs))
		}
		return vs[index], nil
	}

	var v report.Vulnerability
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("invalid finding JSON: %w", err)
	}
	if v.Type == "" && v.Description == "" && v.Code == "" {
		return v, fmt.Errorf("input does not describe a finding")
	}
	return v, nil
}

func init() {
	suggestCmd.Flags().StringVar(&suggestFile, "file", "", "Read the finding from this file instead of stdin")
	suggestCmd.Flags().IntVar(&suggestIndex, "index", 0, "Entry to use when the input is a whole report")
	rootCmd.AddCommand(suggestCmd)
}
