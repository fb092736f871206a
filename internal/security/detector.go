// Package security holds the rule engine: a registry of signature-driven
// detectors and a worker pool that applies them to collected source files.
package security

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"vulnvault/internal/model"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Source is the read-only view of one file handed to every detector.
type Source struct {
	Path     string
	Language model.Language
	Content  string

	lines []string
	// code holds each line with trailing comments removed.
	code []string
	// redactor masks secret values in every excerpt taken from the file.
	redactor *strings.Replacer
}

// NewSource splits the record into lines once so detectors can share it
// without synchronization.
func NewSource(rec model.SourceRecord) *Source {
	content := string(rec.Content)
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	code := make([]string, len(lines))
	for i, l := range lines {
		code[i] = stripComment(l, rec.Language)
	}
	return &Source{
		Path:     rec.Path,
		Language: rec.Language,
		Content:  content,
		lines:    lines,
		code:     code,
	}
}

// Lines returns the raw lines of the file.
func (s *Source) Lines() []string { return s.lines }

// Code returns line i (0-based) without comments.
func (s *Source) Code(i int) string { return s.code[i] }

// Excerpt returns the trimmed text of 1-based line n with known secrets
// masked, capped in length.
func (s *Source) Excerpt(n int) string {
	if n < 1 || n > len(s.lines) {
		return ""
	}
	return truncate(s.Redact(strings.TrimSpace(s.lines[n-1])), maxExcerpt)
}

// Redact masks every secret value registered with SetRedactions in text.
func (s *Source) Redact(text string) string {
	if s.redactor == nil {
		return text
	}
	return s.redactor.Replace(text)
}

// SetRedactions registers old/new replacement pairs. Longer values are tried
// first so a secret that contains another is masked whole.
func (s *Source) SetRedactions(pairs map[string]string) {
	if len(pairs) == 0 {
		s.redactor = nil
		return
	}
	olds := make([]string, 0, len(pairs))
	for old := range pairs {
		olds = append(olds, old)
	}
	sort.Slice(olds, func(i, j int) bool {
		if len(olds[i]) != len(olds[j]) {
			return len(olds[i]) > len(olds[j])
		}
		return olds[i] < olds[j]
	})
	args := make([]string, 0, 2*len(olds))
	for _, old := range olds {
		args = append(args, old, pairs[old])
	}
	s.redactor = strings.NewReplacer(args...)
}

const maxExcerpt = 200

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Match is what a matcher reports. The owning detector fills in category,
// severity and suggestion.
type Match struct {
	Line        int
	Code        string
	MaskedValue string
	// Description overrides the detector's description when set.
	Description string
}

// Matcher inspects a source and returns zero or more matches. Matchers must
// not retain or mutate the source.
type Matcher func(src *Source) []Match

// Detector is a registry entry.
type Detector struct {
	ID          string
	Category    model.Category
	Severity    model.Severity
	Languages   sets.Set[model.Language]
	Description string
	Suggestion  string
	Match       Matcher
	// Secrets, if set, returns the raw secret values of a file mapped to
	// their masks. The engine masks them in every finding of that file.
	Secrets     func(src *Source) map[string]string
}

// Applies reports whether the detector runs for files of the given
// language. An empty language set means language-agnostic.
func (d Detector) Applies(lang model.Language) bool {
	return d.Languages.Len() == 0 || d.Languages.Has(lang)
}

// Run applies the matcher and converts its matches into findings.
func (d Detector) Run(src *Source) []model.Finding {
	matches := d.Match(src)
	if len(matches) == 0 {
		return nil
	}
	findings := make([]model.Finding, 0, len(matches))
	for _, m := range matches {
		desc := m.Description
		if desc == "" {
			desc = d.Description
		}
		findings = append(findings, model.Finding{
			Category:    d.Category,
			Severity:    d.Severity,
			Location:    model.Location{Path: src.Path, Line: m.Line},
			Description: desc,
			Suggestion:  d.Suggestion,
			Code:        m.Code,
			MaskedValue: m.MaskedValue,
			Detector:    d.ID,
		})
	}
	return findings
}

// Registry is an immutable, ordered set of detectors indexed by language.
type Registry struct {
	detectors []Detector
	byLang    map[model.Language][]Detector
	agnostic  []Detector
}

// NewRegistry validates the detectors and builds the language index.
// Registration order is preserved in lookups.
func NewRegistry(detectors ...Detector) (*Registry, error) {
	seen := sets.New[string]()
	r := &Registry{byLang: map[model.Language][]Detector{}}
	for _, d := range detectors {
		switch {
		case d.ID == "":
			return nil, fmt.Errorf("detector with empty id")
		case seen.Has(d.ID):
			return nil, fmt.Errorf("duplicate detector id %q", d.ID)
		case d.Match == nil:
			return nil, fmt.Errorf("detector %q has no matcher", d.ID)
		case !d.Severity.Valid():
			return nil, fmt.Errorf("detector %q has invalid severity %q", d.ID, d.Severity)
		}
		seen.Insert(d.ID)
		r.detectors = append(r.detectors, d)
		if d.Languages.Len() == 0 {
			r.agnostic = append(r.agnostic, d)
			continue
		}
		for lang := range d.Languages {
			r.byLang[lang] = append(r.byLang[lang], d)
		}
	}
	return r, nil
}

// For returns the detectors that apply to lang: language-specific ones
// followed by language-agnostic ones.
func (r *Registry) For(lang model.Language) []Detector {
	specific := r.byLang[lang]
	out := make([]Detector, 0, len(specific)+len(r.agnostic))
	out = append(out, specific...)
	return append(out, r.agnostic...)
}

// Detectors returns every registered detector in registration order.
func (r *Registry) Detectors() []Detector {
	return append([]Detector(nil), r.detectors...)
}

// Len returns the number of registered detectors.
func (r *Registry) Len() int { return len(r.detectors) }

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return NewRegistry(DefaultDetectors(DefaultSecretOptions())...)
})

// DefaultRegistry returns the process-wide registry built from the built-in
// signature tables. It is constructed on first use and never modified.
func DefaultRegistry() *Registry {
	r, err := defaultRegistry()
	if err != nil {
		panic(fmt.Sprintf("built-in detector table is invalid: %v", err))
	}
	return r
}

// DefaultDetectors compiles the built-in signature table plus the custom
// matchers.
func DefaultDetectors(secretOpts SecretOptions) []Detector {
	detectors := []Detector{NewSecretDetector(secretOpts)}
	for _, sig := range signatures {
		detectors = append(detectors, sig.MustCompile())
	}
	return append(detectors,
		prototypePollutionDetector(),
		regexDoSDetector(),
	)
}

// stripComment removes a trailing line comment, ignoring comment markers
// inside string literals. Block comments are not tracked across lines; a line
// that starts a block comment is treated as code up to the marker.
func stripComment(line string, lang model.Language) string {
	markers := commentMarkers(lang)
	if len(markers) == 0 {
		return line
	}
	if markers[len(markers)-1] == "/*" && strings.HasPrefix(strings.TrimSpace(line), "*") {
		return ""
	}
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' || c == '`' {
			quote = c
			continue
		}
		for _, m := range markers {
			if strings.HasPrefix(line[i:], m) {
				return line[:i]
			}
		}
	}
	return line
}

func commentMarkers(lang model.Language) []string {
	switch lang {
	case model.LanguagePython, model.LanguageRuby, model.LanguageShell:
		return []string{"#"}
	case model.LanguagePHP:
		return []string{"//", "#", "/*"}
	case model.LanguageJavaScript, model.LanguageTypeScript, model.LanguageJava, model.LanguageGo,
		model.LanguageC, model.LanguageCPP, model.LanguageCSharp, model.LanguageRust,
		model.LanguageKotlin, model.LanguageSwift:
		return []string{"//", "/*"}
	}
	return nil
}
