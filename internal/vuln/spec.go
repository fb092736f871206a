package vuln

import (
	"regexp"
	"strings"

	"vulnvault/internal/versions"
)

var (
	reNpmComparator = regexp.MustCompile(`^(\^|~>?|>=|<=|>|<|=)?\s*v?(\d+|[xX*])(?:\.(\d+|[xX*]))?(?:\.(\d+|[xX*]))?(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
	rePyPIClause    = regexp.MustCompile(`^(===|==|~=|!=|>=|<=|>|<)\s*(\S+)$`)
	npmNonRegistry  = []string{"file:", "link:", "git:", "git+", "github:", "gitlab:", "bitbucket:", "workspace:", "npm:", "http:", "https:"}
)

// ResolveVersion reduces a declared version spec to the single version the
// advisory check is run against: exact versions as written, ranges to their
// lower bound. ok is false when no concrete version can be derived.
func ResolveVersion(c versions.Comparator, spec string) (version string, ok bool) {
	spec = strings.TrimSpace(spec)
	var v string
	switch c.Ecosystem() {
	case versions.NPM:
		v = npmLowerBound(spec)
	case versions.PyPI:
		v = pypiLowerBound(spec)
	case versions.Go:
		v = spec
	}
	if v == "" || !c.Valid(v) {
		return "", false
	}
	return v, true
}

func npmLowerBound(spec string) string {
	switch strings.ToLower(spec) {
	case "", "*", "x", "latest", "next":
		return ""
	}
	for _, prefix := range npmNonRegistry {
		if strings.HasPrefix(spec, prefix) {
			return ""
		}
	}
	if strings.Contains(spec, "/") {
		return ""
	}

	// the lowest alternative bounds the union
	best := ""
	cmp, _ := versions.For(versions.NPM)
	for _, alt := range strings.Split(spec, "||") {
		v := npmRangeLowerBound(strings.TrimSpace(alt))
		if v != "" && (best == "" || cmp.Compare(v, best) < 0) {
			best = v
		}
	}
	return best
}

func npmRangeLowerBound(r string) string {
	if lo, _, found := strings.Cut(r, " - "); found {
		r = strings.TrimSpace(lo)
	}
	for _, part := range strings.Fields(normalizeNpmOperators(r)) {
		m := reNpmComparator.FindStringSubmatch(part)
		if m == nil {
			return ""
		}
		switch m[1] {
		case "<", "<=":
			continue
		}
		if isWildcard(m[2]) {
			return ""
		}
		return strings.Join([]string{m[2], zeroIfWild(m[3]), zeroIfWild(m[4])}, ".") + m[5]
	}
	return ""
}

// normalizeNpmOperators removes the space npm allows between an operator
// and its version, so ">= 1.2.0" is one field.
func normalizeNpmOperators(r string) string {
	for _, op := range []string{">=", "<=", "~>", ">", "<", "=", "^", "~"} {
		r = strings.ReplaceAll(r, op+" ", op)
	}
	return r
}

func isWildcard(s string) bool {
	return s == "x" || s == "X" || s == "*"
}

func zeroIfWild(s string) string {
	if s == "" || isWildcard(s) {
		return "0"
	}
	return s
}

func pypiLowerBound(spec string) string {
	if spec == "" || strings.HasPrefix(spec, "@") {
		return ""
	}
	// parenthesised specs are legacy syntax: "requests (>=2.0)"
	spec = strings.Trim(spec, "()")
	for _, clause := range strings.Split(spec, ",") {
		m := rePyPIClause.FindStringSubmatch(strings.TrimSpace(clause))
		if m == nil {
			return ""
		}
		switch m[1] {
		case "==", "===", "~=", ">=", ">":
			return strings.TrimSuffix(m[2], ".*")
		}
	}
	return ""
}
