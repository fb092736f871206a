package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markdown renders p as a Markdown document.
func Markdown(p *Payload, project string) string {
	var sb strings.Builder
	title := "Security scan"
	if project != "" {
		title += ": " + project
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)

	switch {
	case !p.Complete():
		sb.WriteString("> **Incomplete scan.** Some input could not be evaluated; the results below are partial.\n\n")
	case p.Clean():
		sb.WriteString("> No issues found.\n\n")
	}

	fmt.Fprintf(&sb, "| Score | Grade | High | Medium | Low | Total |\n")
	fmt.Fprintf(&sb, "|---|---|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %d | %s | %d | %d | %d | %d |\n\n",
		p.SecurityScore, p.Grade, p.Summary.High, p.Summary.Medium, p.Summary.Low, p.TotalIssues)

	if p.FileName != "" {
		fmt.Fprintf(&sb, "File: `%s`\n\n", p.FileName)
	} else if p.FilesScanned != nil {
		fmt.Fprintf(&sb, "Files scanned: %d\n\n", *p.FilesScanned)
	}

	if len(p.Vulnerabilities) > 0 {
		sb.WriteString("## Findings\n\n")
		for i, v := range p.Vulnerabilities {
			fmt.Fprintf(&sb, "### %d. %s %s\n\n", i+1, v.Severity, v.Type)
			if loc := location(v); loc != "" {
				fmt.Fprintf(&sb, "- **Location:** `%s`\n", loc)
			}
			if v.Package != "" {
				fmt.Fprintf(&sb, "- **Package:** %s %s\n", v.Package, v.CurrentVersion)
			}
			if len(v.AdvisoryIDs) > 0 {
				fmt.Fprintf(&sb, "- **Advisories:** %s\n", strings.Join(v.AdvisoryIDs, ", "))
			}
			fmt.Fprintf(&sb, "- **Description:** %s\n", v.Description)
			if v.Suggestion != "" {
				fmt.Fprintf(&sb, "- **Suggestion:** %s\n", v.Suggestion)
			}
			if v.Code != "" {
				fmt.Fprintf(&sb, "\n```\n%s\n```\n", v.Code)
			}
			sb.WriteString("\n")
		}
	}

	if len(p.Warnings) > 0 {
		sb.WriteString("## Warnings\n\n")
		for _, w := range p.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	return sb.String()
}

// RenderMarkdown renders md for a terminal of the given width.
func RenderMarkdown(md string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return r.Render(md)
}

func location(v Vulnerability) string {
	if v.File == "" {
		return ""
	}
	if v.LineNumber > 0 {
		return fmt.Sprintf("%s:%d", v.File, v.LineNumber)
	}
	return v.File
}
