package security

import (
	"fmt"
	"regexp"
	"strings"

	"vulnvault/internal/model"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Signature is one row of a pattern table. Rows compile into line-oriented
// detectors: Pattern must match the comment-stripped line, Unless must not,
// and Near (if set) must match somewhere within NearLines lines before the
// match or on the line right after it.
type Signature struct {
	ID          string
	Category    model.Category
	Severity    model.Severity
	Languages   []model.Language
	Pattern     string
	Unless      string
	Near        string
	NearLines   int
	Description string
	Suggestion  string
}

// Compile builds a Detector from the signature.
func (s Signature) Compile() (Detector, error) {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return Detector{}, fmt.Errorf("signature %s: %w", s.ID, err)
	}
	var unless, near *regexp.Regexp
	if s.Unless != "" {
		if unless, err = regexp.Compile(s.Unless); err != nil {
			return Detector{}, fmt.Errorf("signature %s unless: %w", s.ID, err)
		}
	}
	if s.Near != "" {
		if near, err = regexp.Compile(s.Near); err != nil {
			return Detector{}, fmt.Errorf("signature %s near: %w", s.ID, err)
		}
	}
	suggestion := s.Suggestion
	if suggestion == "" {
		suggestion = defaultSuggestions[s.Category]
	}
	return Detector{
		ID:          s.ID,
		Category:    s.Category,
		Severity:    s.Severity,
		Languages:   sets.New(s.Languages...),
		Description: s.Description,
		Suggestion:  suggestion,
		Match:       lineMatcher(re, unless, near, s.NearLines),
	}, nil
}

// MustCompile is Compile for the built-in tables.
func (s Signature) MustCompile() Detector {
	d, err := s.Compile()
	if err != nil {
		panic(err)
	}
	return d
}

func lineMatcher(re, unless, near *regexp.Regexp, window int) Matcher {
	return func(src *Source) []Match {
		var out []Match
		for i := range src.Lines() {
			code := src.Code(i)
			if strings.TrimSpace(code) == "" || !re.MatchString(code) {
				continue
			}
			if unless != nil && unless.MatchString(code) {
				continue
			}
			if near != nil && !nearby(src, i, window, near) {
				continue
			}
			out = append(out, Match{Line: i + 1, Code: src.Excerpt(i + 1)})
		}
		return out
	}
}

func nearby(src *Source, i, window int, re *regexp.Regexp) bool {
	lo := max(i-window, 0)
	hi := min(i+1, len(src.Lines())-1)
	for j := lo; j <= hi; j++ {
		if re.MatchString(src.Code(j)) {
			return true
		}
	}
	return false
}

var defaultSuggestions = map[model.Category]string{
	model.CategoryHardcodedSecret:         "Move the credential to an environment variable or a secrets manager and rotate the exposed value",
	model.CategorySQLInjection:            "Use parameterized queries with placeholders instead of building SQL from strings",
	model.CategoryCommandInjection:        "Pass arguments as a list without a shell and validate every user-supplied value",
	model.CategoryUnsafeEval:              "Avoid evaluating dynamic code; parse the input with a dedicated parser instead",
	model.CategoryXSS:                     "Write untrusted data with textContent or a context-aware template escaper",
	model.CategoryPathTraversal:           "Resolve the path, then verify it stays under the allowed base directory before opening it",
	model.CategoryWeakCrypto:              "Use SHA-256 or better for hashing and bcrypt, scrypt or Argon2 for passwords",
	model.CategoryInsecureRandomness:      "Use a cryptographically secure generator such as crypto.randomBytes or the secrets module",
	model.CategoryPrototypePollution:      "Skip __proto__, constructor and prototype keys, or copy into Object.create(null)",
	model.CategoryRegexDoS:                "Remove nested quantifiers or bound the input length before matching",
	model.CategoryInsecureCookie:          "Set the Secure, HttpOnly and SameSite attributes on session cookies",
	model.CategoryInsecureTransport:       "Use HTTPS and keep certificate verification enabled",
	model.CategoryInsecureDeserialization: "Do not deserialize untrusted data with native serializers; use JSON or a safe loader",
}

// Suggestion returns the static remediation hint for a category.
func Suggestion(c model.Category) string {
	return defaultSuggestions[c]
}
