package vuln

import (
	"context"
	"strings"

	"vulnvault/internal/model"
	"vulnvault/internal/versions"
)

// Declaration is one dependency as written in a manifest.
type Declaration struct {
	Name string
	// Spec is the declared version spec exactly as written.
	Spec string
	Line int
}

// Manifest is a parsed dependency file.
type Manifest struct {
	Path         string
	Ecosystem    versions.Ecosystem
	Declarations []Declaration
}

// Range is one affected interval in OSV event form. An empty or "0"
// Introduced means every version before the upper bound.
type Range struct {
	Introduced   string `yaml:"introduced,omitempty" json:"introduced,omitempty"`
	Fixed        string `yaml:"fixed,omitempty" json:"fixed,omitempty"`
	LastAffected string `yaml:"last_affected,omitempty" json:"last_affected,omitempty"`
}

// Advisory is one known vulnerability of a package.
type Advisory struct {
	ID       string         `yaml:"id" json:"id"`
	Summary  string         `yaml:"summary,omitempty" json:"summary,omitempty"`
	Severity model.Severity `yaml:"severity" json:"severity"`
	Ranges   []Range        `yaml:"ranges,omitempty" json:"ranges,omitempty"`
	// Versions lists explicitly affected versions in addition to Ranges.
	Versions []string `yaml:"versions,omitempty" json:"versions,omitempty"`
}

func (r Range) contains(c versions.Comparator, v string) bool {
	if r.Introduced != "" && r.Introduced != "0" && c.Compare(v, r.Introduced) < 0 {
		return false
	}
	if r.Fixed != "" && c.Compare(v, r.Fixed) >= 0 {
		return false
	}
	if r.LastAffected != "" && c.Compare(v, r.LastAffected) > 0 {
		return false
	}
	return r.Introduced != "" || r.Fixed != "" || r.LastAffected != ""
}

// Affects reports whether version v falls inside the advisory.
func (a Advisory) Affects(c versions.Comparator, v string) bool {
	for _, av := range a.Versions {
		if c.Valid(av) && c.Compare(av, v) == 0 {
			return true
		}
	}
	for _, r := range a.Ranges {
		if r.contains(c, v) {
			return true
		}
	}
	return false
}

// FixedFor returns the first fixed version of a range containing v, or "".
func (a Advisory) FixedFor(c versions.Comparator, v string) string {
	for _, r := range a.Ranges {
		if r.Fixed != "" && r.contains(c, v) {
			return r.Fixed
		}
	}
	return ""
}

// MapSeverity folds feed severity labels onto the three engine severities.
// Unlabelled advisories are treated as HIGH.
func MapSeverity(label string) model.Severity {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CRITICAL", "HIGH":
		return model.SeverityHigh
	case "MODERATE", "MEDIUM":
		return model.SeverityMedium
	case "LOW":
		return model.SeverityLow
	}
	return model.SeverityHigh
}

// Index answers advisory lookups for one package.
type Index interface {
	Lookup(ctx context.Context, eco versions.Ecosystem, name string) ([]Advisory, error)
}

// IndexFunc adapts a function to Index.
type IndexFunc func(ctx context.Context, eco versions.Ecosystem, name string) ([]Advisory, error)

func (f IndexFunc) Lookup(ctx context.Context, eco versions.Ecosystem, name string) ([]Advisory, error) {
	return f(ctx, eco, name)
}

// NormalizeName returns the lookup key of a package name. PyPI names are
// case-insensitive and treat runs of '-', '_' and '.' alike.
func NormalizeName(eco versions.Ecosystem, name string) string {
	name = strings.TrimSpace(name)
	if eco != versions.PyPI {
		return name
	}
	return strings.ToLower(rePyPISeparators.ReplaceAllString(name, "-"))
}
