// Package versions orders package versions per ecosystem. npm and Go follow
// semantic versioning; PyPI follows PEP 440.
package versions

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	gosemver "golang.org/x/mod/semver"
)

// Ecosystem names match the OSV schema.
type Ecosystem string

const (
	NPM  Ecosystem = "npm"
	PyPI Ecosystem = "PyPI"
	Go   Ecosystem = "Go"
)

// Comparator validates and orders versions of one ecosystem.
type Comparator interface {
	Ecosystem() Ecosystem
	// Valid reports whether v is a single concrete version.
	Valid(v string) bool
	// Compare returns -1, 0 or +1. Invalid versions sort before valid ones.
	Compare(a, b string) int
}

// For returns the comparator for an ecosystem.
func For(eco Ecosystem) (Comparator, error) {
	switch eco {
	case NPM:
		return npmComparator{}, nil
	case PyPI:
		return pep440Comparator{}, nil
	case Go:
		return goComparator{}, nil
	}
	return nil, fmt.Errorf("unsupported ecosystem %q", eco)
}

// ParseEcosystem accepts the OSV spelling case-insensitively.
func ParseEcosystem(v string) (Ecosystem, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "npm":
		return NPM, nil
	case "pypi", "pip", "python":
		return PyPI, nil
	case "go", "golang":
		return Go, nil
	}
	return "", fmt.Errorf("unsupported ecosystem %q", v)
}

type npmComparator struct{}

func (npmComparator) Ecosystem() Ecosystem { return NPM }

func (npmComparator) Valid(v string) bool {
	_, err := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimSpace(v), "v"))
	return err == nil
}

func (c npmComparator) Compare(a, b string) int {
	va, errA := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimSpace(a), "v"))
	vb, errB := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimSpace(b), "v"))
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

type goComparator struct{}

func (goComparator) Ecosystem() Ecosystem { return Go }

func goCanonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func (goComparator) Valid(v string) bool {
	return gosemver.IsValid(goCanonical(v))
}

// Compare relies on semver.Compare ordering invalid versions first.
func (goComparator) Compare(a, b string) int {
	return gosemver.Compare(goCanonical(a), goCanonical(b))
}
