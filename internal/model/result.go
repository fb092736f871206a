package model

// Summary counts findings per severity.
type Summary struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns high + medium + low.
func (s Summary) Total() int {
	return s.High + s.Medium + s.Low
}

// Count returns the number of findings at the given severity.
func (s Summary) Count(sev Severity) int {
	switch sev {
	case SeverityHigh:
		return s.High
	case SeverityMedium:
		return s.Medium
	case SeverityLow:
		return s.Low
	}
	return 0
}

// ScanResult is the aggregated outcome of one scan.
type ScanResult struct {
	Score       int
	Grade       string
	Summary     Summary
	TotalIssues int
	Findings    []Finding

	// FileName is set for single-file scans, FilesScanned for everything else.
	FileName     string
	FilesScanned int

	// Truncated means the deadline expired or collection limits were hit.
	Truncated bool
	// Partial means some unit could not be evaluated (feed failure, detector fault).
	Partial  bool
	Warnings []string
}

// Complete reports whether the result covers the whole input.
func (r *ScanResult) Complete() bool {
	return !r.Truncated && !r.Partial
}

// Clean reports whether the scan completed fully and found nothing.
func (r *ScanResult) Clean() bool {
	return r.Complete() && len(r.Findings) == 0
}
