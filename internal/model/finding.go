package model

import (
	"fmt"
	"strings"
)

// Severity is the impact class of a finding. Ordering is HIGH > MEDIUM > LOW.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// Rank returns a comparable weight for the severity; higher is worse.
// Unknown values rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other or worse.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// Category identifies the class of weakness a detector reports.
type Category string

const (
	CategoryHardcodedSecret         Category = "hardcoded_secret"
	CategorySQLInjection            Category = "sql_injection"
	CategoryCommandInjection        Category = "command_injection"
	CategoryUnsafeEval              Category = "unsafe_eval"
	CategoryXSS                     Category = "xss"
	CategoryPathTraversal           Category = "path_traversal"
	CategoryWeakCrypto              Category = "weak_crypto"
	CategoryInsecureRandomness      Category = "insecure_randomness"
	CategoryPrototypePollution      Category = "prototype_pollution"
	CategoryRegexDoS                Category = "regex_dos"
	CategoryInsecureCookie          Category = "insecure_cookie"
	CategoryInsecureTransport       Category = "insecure_transport"
	CategoryInsecureDeserialization Category = "insecure_deserialization"
	CategoryVulnerableDependency    Category = "vulnerable_dependency"
)

// Location points at where a finding was observed. Line is 1-based; zero
// means the finding has no line (e.g. a dependency declaration).
type Location struct {
	Path string
	Line int
}

// Finding is one detected issue. Findings are values and are never mutated
// after a detector or the resolver returns them.
type Finding struct {
	Category    Category
	Severity    Severity
	Location    Location
	Description string
	Suggestion  string

	// Code is a source excerpt. For hardcoded_secret findings it has already
	// been masked.
	Code string
	// MaskedValue is set only for hardcoded_secret findings.
	MaskedValue string

	// Dependency findings only.
	Package        string
	CurrentVersion string
	Ecosystem      string
	AdvisoryIDs    []string

	// Detector is the registry ID of the detector that produced the finding.
	Detector string
}

func (f Finding) String() string {
	if f.Location.Line > 0 {
		return fmt.Sprintf("%s %s %s:%d", f.Severity, f.Category, f.Location.Path, f.Location.Line)
	}
	return fmt.Sprintf("%s %s %s", f.Severity, f.Category, f.Location.Path)
}
