// Package score tallies findings and turns the tally into a 0-100 security
// score and a display grade.
package score

import (
	"fmt"
	"slices"

	"vulnvault/internal/model"
)

// Policy holds the points subtracted per finding of each severity.
type Policy struct {
	High   int `mapstructure:"high"`
	Medium int `mapstructure:"medium"`
	Low    int `mapstructure:"low"`
}

// DefaultPolicy is 15/8/3.
func DefaultPolicy() Policy {
	return Policy{High: 15, Medium: 8, Low: 3}
}

// Validate requires high >= medium >= low > 0, otherwise the score would not
// reflect severity order.
func (p Policy) Validate() error {
	if p.Low <= 0 {
		return fmt.Errorf("score weight for LOW must be positive, got %d", p.Low)
	}
	if p.Medium < p.Low || p.High < p.Medium {
		return fmt.Errorf("score weights must satisfy high >= medium >= low, got %d/%d/%d", p.High, p.Medium, p.Low)
	}
	return nil
}

// Weight returns the penalty for one finding of sev.
func (p Policy) Weight(sev model.Severity) int {
	switch sev {
	case model.SeverityHigh:
		return p.High
	case model.SeverityMedium:
		return p.Medium
	case model.SeverityLow:
		return p.Low
	}
	return 0
}

// Score depends on the summary alone and is clamped to [0, 100].
func (p Policy) Score(s model.Summary) int {
	penalty := 0
	for _, sev := range model.Severities {
		penalty += s.Count(sev) * p.Weight(sev)
		if penalty >= 100 {
			return 0
		}
	}
	return 100 - penalty
}

type band struct {
	min   int
	grade string
}

var bands = []band{
	{90, "A+"},
	{80, "A"},
	{70, "B"},
	{60, "C"},
	{50, "D"},
}

// Grade maps a score to a letter. It is for display only.
func Grade(score int) string {
	for _, b := range bands {
		if score >= b.min {
			return b.grade
		}
	}
	return "F"
}

// Tally counts findings per severity. Findings with an unknown severity are
// not counted.
func Tally(findings []model.Finding) model.Summary {
	var s model.Summary
	for _, f := range findings {
		switch f.Severity {
		case model.SeverityHigh:
			s.High++
		case model.SeverityMedium:
			s.Medium++
		case model.SeverityLow:
			s.Low++
		}
	}
	return s
}

// Aggregate builds a ScanResult from findings. The slice is copied so the
// caller may keep appending to its own.
func Aggregate(findings []model.Finding, policy Policy) *model.ScanResult {
	summary := Tally(findings)
	score := policy.Score(summary)
	return &model.ScanResult{
		Score:       score,
		Grade:       Grade(score),
		Summary:     summary,
		TotalIssues: summary.Total(),
		Findings:    slices.Clone(findings),
	}
}
