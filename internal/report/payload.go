// Package report shapes a scan result into the externally consumed payload
// and renders it as JSON, Markdown, a terminal table or a CycloneDX VEX
// document.
package report

import (
	"fmt"
	"slices"

	"vulnvault/internal/model"
	"vulnvault/internal/score"
)

// Status values. An incomplete report must never be mistaken for a clean
// one.
const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
)

// Vulnerability is one finding as serialized in the payload.
type Vulnerability struct {
	Severity       model.Severity `json:"severity"`
	Type           model.Category `json:"type"`
	Description    string         `json:"description"`
	LineNumber     int            `json:"line_number,omitempty"`
	File           string         `json:"file,omitempty"`
	Package        string         `json:"package,omitempty"`
	CurrentVersion string         `json:"current_version,omitempty"`
	Ecosystem      string         `json:"ecosystem,omitempty"`
	AdvisoryIDs    []string       `json:"advisory_ids,omitempty"`
	MaskedValue    string         `json:"masked_value,omitempty"`
	Code           string         `json:"code,omitempty"`
	Suggestion     string         `json:"suggestion,omitempty"`
}

// Payload is the scan response boundary.
type Payload struct {
	SecurityScore   int             `json:"security_score"`
	Grade           string          `json:"grade"`
	Summary         model.Summary   `json:"summary"`
	TotalIssues     int             `json:"total_issues"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	FileName        string          `json:"file_name,omitempty"`
	FilesScanned    *int            `json:"files_scanned,omitempty"`
	Status          string          `json:"status"`
	Truncated       bool            `json:"truncated,omitempty"`
	Partial         bool            `json:"partial,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// Complete reports whether the payload covers the whole input.
func (p *Payload) Complete() bool {
	return p.Status == StatusComplete
}

// Clean reports whether the scan completed and found nothing.
func (p *Payload) Clean() bool {
	return p.Complete() && p.TotalIssues == 0
}

// Assemble composes the payload from a result. Single-file results carry the
// file name, everything else the number of files scanned. A result whose
// counts disagree with its findings is rejected.
func Assemble(res *model.ScanResult) (*Payload, error) {
	if res == nil {
		return nil, fmt.Errorf("no scan result")
	}
	tally := score.Tally(res.Findings)
	if tally != res.Summary || res.TotalIssues != len(res.Findings) || tally.Total() != len(res.Findings) {
		return nil, fmt.Errorf("inconsistent scan result: summary %+v, total_issues %d, %d findings",
			res.Summary, res.TotalIssues, len(res.Findings))
	}

	p := &Payload{
		SecurityScore:   res.Score,
		Grade:           res.Grade,
		Summary:         res.Summary,
		TotalIssues:     len(res.Findings),
		Vulnerabilities: make([]Vulnerability, 0, len(res.Findings)),
		FileName:        res.FileName,
		Status:          StatusComplete,
		Truncated:       res.Truncated,
		Partial:         res.Partial,
	}
	if p.Grade == "" {
		p.Grade = score.Grade(res.Score)
	}
	if res.FileName == "" {
		n := res.FilesScanned
		p.FilesScanned = &n
	}
	if !res.Complete() {
		p.Status = StatusIncomplete
	}
	if len(res.Warnings) > 0 {
		p.Warnings = slices.Sorted(slices.Values(res.Warnings))
	}
	for _, f := range res.Findings {
		p.Vulnerabilities = append(p.Vulnerabilities, Vulnerability{
			Severity:       f.Severity,
			Type:           f.Category,
			Description:    f.Description,
			LineNumber:     f.Location.Line,
			File:           f.Location.Path,
			Package:        f.Package,
			CurrentVersion: f.CurrentVersion,
			Ecosystem:      f.Ecosystem,
			AdvisoryIDs:    f.AdvisoryIDs,
			MaskedValue:    f.MaskedValue,
			Code:           f.Code,
			Suggestion:     f.Suggestion,
		})
	}
	return p, nil
}

// Finding converts a payload entry back into a finding, for collaborators
// that take findings (fix suggestions).
func (v Vulnerability) Finding() model.Finding {
	return model.Finding{
		Category:       v.Type,
		Severity:       v.Severity,
		Location:       model.Location{Path: v.File, Line: v.LineNumber},
		Description:    v.Description,
		Suggestion:     v.Suggestion,
		Code:           v.Code,
		MaskedValue:    v.MaskedValue,
		Package:        v.Package,
		CurrentVersion: v.CurrentVersion,
		Ecosystem:      v.Ecosystem,
		AdvisoryIDs:    v.AdvisoryIDs,
	}
}
