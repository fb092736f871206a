package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"vulnvault/internal/config"
	"vulnvault/internal/engine"
	"vulnvault/internal/metrics"
	"vulnvault/internal/model"
	"vulnvault/internal/notify"
	"vulnvault/internal/report"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	scanProject string
	scanFormat  string
	scanPretty  bool
	scanFailOn  string
	scanNotify  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <file|zip|dir|repo|deps> <target>",
	Short: "Scan a file, archive, directory, repository or dependency manifest",
	Long: `Scan one input and print the security report.

Kinds:
  file   a single source file
  zip    a ZIP archive of a project
  dir    a local directory
  repo   a git repository URL (https, allowed hosts only)
  deps   a dependency manifest (package.json, requirements*.txt, go.mod)

The exit code is 2 when --fail-on is set and a finding of that severity or
worse is reported, and 3 when an archive contains an unsafe entry.`,
	Example: `  vulnvault scan file app.py
  vulnvault scan zip project.zip --format markdown --pretty
  vulnvault scan repo https://github.com/org/app --fail-on high
  vulnvault scan deps package.json --format cyclonedx`,
	Args: cobra.ExactArgs(2),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanProject, "project", "", "Project name used in reports and alerts")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format: json, table, markdown or cyclonedx")
	scanCmd.Flags().BoolVar(&scanPretty, "pretty", false, "Colour the table and render markdown for the terminal")
	scanCmd.Flags().StringVar(&scanFailOn, "fail-on", "", "Exit non-zero when a finding of this severity or worse is found (high, medium, low)")
	scanCmd.Flags().BoolVar(&scanNotify, "notify", false, "Send a Slack alert when HIGH findings are reported")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	kind, err := engine.ParseKind(args[0])
	if err != nil {
		return err
	}
	if err := checkFormat(scanFormat); err != nil {
		return err
	}
	var threshold model.Severity
	if scanFailOn != "" {
		if threshold, err = model.ParseSeverity(scanFailOn); err != nil {
			return fmt.Errorf("invalid --fail-on: %w", err)
		}
	}

	req, err := buildRequest(kind, args[1])
	if err != nil {
		return err
	}
	req.Project = scanProject

	cfg := config.FromViper()
	logger := slog.Default()
	m := metrics.Default()

	ctx := cmd.Context()
	eng, cleanup, err := newEngine(ctx, cfg, m, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	res, err := eng.Scan(ctx, req)
	if err != nil {
		return err
	}
	payload, err := report.Assemble(res)
	if err != nil {
		return err
	}

	if err := writeReport(cmd.OutOrStdout(), payload, scanFormat, scanPretty, scanProject); err != nil {
		return err
	}
	if !payload.Complete() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: the scan did not cover the whole input; absence of findings is not proof of safety.")
	}

	if scanNotify {
		cfg.Slack.Enabled = true
	}
	notify.NewAlerter(cfg.Slack, m, logger).Alert(ctx, scanProject, res)

	if threshold != "" {
		for _, sev := range model.Severities {
			if sev.AtLeast(threshold) && res.Summary.Count(sev) > 0 {
				return fmt.Errorf("%w: %s", errThreshold, threshold)
			}
		}
	}
	return nil
}

func buildRequest(kind engine.Kind, target string) (engine.Request, error) {
	req := engine.Request{Kind: kind}
	switch kind {
	case engine.KindRepository:
		req.RepoURL = target
	case engine.KindDirectory:
		info, err := os.Stat(target)
		if err != nil {
			return req, err
		}
		if !info.IsDir() {
			return req, fmt.Errorf("%s is not a directory", target)
		}
		req.Dir = target
	default:
		data, err := os.ReadFile(target)
		if err != nil {
			return req, err
		}
		req.Name = filepath.Base(target)
		req.Data = data
	}
	return req, nil
}

func checkFormat(format string) error {
	switch format {
	case "json", "table", "markdown", "cyclonedx":
		return nil
	}
	return fmt.Errorf("unknown format %q (want json, table, markdown or cyclonedx)", format)
}

func writeReport(w io.Writer, p *report.Payload, format string, pretty bool, project string) error {
	switch format {
	case "json":
		return report.WriteJSON(w, p)
	case "markdown":
		md := report.Markdown(p, project)
		if pretty {
			rendered, err := report.RenderMarkdown(md, 100)
			if err != nil {
				return err
			}
			md = rendered
		}
		_, err := io.WriteString(w, md)
		return err
	case "cyclonedx":
		return report.WriteCycloneDX(w, p, project, version)
	}
	profile := termenv.Ascii
	if pretty {
		profile = termenv.EnvColorProfile()
	}
	return report.WriteTable(w, p, profile)
}
