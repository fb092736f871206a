package report

import (
	"fmt"
	"io"
	"strings"

	"vulnvault/internal/model"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

var severityColors = map[model.Severity]lipgloss.Color{
	model.SeverityHigh:   lipgloss.Color("160"),
	model.SeverityMedium: lipgloss.Color("214"),
	model.SeverityLow:    lipgloss.Color("75"),
}

const maxDescription = 72

// WriteTable renders p as a coloured table. The profile decides how many
// colours are emitted; termenv.Ascii gives plain text.
func WriteTable(w io.Writer, p *Payload, profile termenv.Profile) error {
	r := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	r.SetColorProfile(profile)

	title := r.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	label := r.NewStyle().Foreground(lipgloss.Color("242")).Bold(true)
	warn := r.NewStyle().Foreground(lipgloss.Color("214"))

	var sb strings.Builder
	sb.WriteString(title.Render(fmt.Sprintf("Security score %d (%s)", p.SecurityScore, p.Grade)))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%s %d high, %d medium, %d low\n",
		label.Render("Issues:"), p.Summary.High, p.Summary.Medium, p.Summary.Low)
	switch {
	case !p.Complete():
		sb.WriteString(warn.Render("Scan incomplete: results are partial"))
		sb.WriteString("\n")
	case p.Clean():
		sb.WriteString("No issues found\n")
	}

	if len(p.Vulnerabilities) > 0 {
		rows := make([][]string, 0, len(p.Vulnerabilities))
		for _, v := range p.Vulnerabilities {
			rows = append(rows, []string{string(v.Severity), string(v.Type), location(v), shorten(v.Description, maxDescription)})
		}
		header := r.NewStyle().Bold(true).Padding(0, 1)
		cell := r.NewStyle().Padding(0, 1)
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(r.NewStyle().Foreground(lipgloss.Color("240"))).
			Headers("SEVERITY", "TYPE", "LOCATION", "DESCRIPTION").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return header
				}
				if col == 0 {
					sev := p.Vulnerabilities[row].Severity
					return cell.Foreground(severityColors[sev]).Bold(sev == model.SeverityHigh)
				}
				return cell
			})
		sb.WriteString(t.String())
		sb.WriteString("\n")
	}

	for _, wmsg := range p.Warnings {
		sb.WriteString(warn.Render("warning: " + wmsg))
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func shorten(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
