package security

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"vulnvault/internal/model"

	"k8s.io/apimachinery/pkg/util/sets"
)

// MaskPolicy controls how secret values are redacted. Values of at most
// FullMaskLen runes are replaced entirely; longer values keep
// min(MaxReveal, len/RevealDivisor) runes at each end. Length is preserved.
type MaskPolicy struct {
	FullMaskLen   int
	MaxReveal     int
	RevealDivisor int
}

// DefaultMaskPolicy keeps at most four characters at each end and never
// reveals more than half of a value.
func DefaultMaskPolicy() MaskPolicy {
	return MaskPolicy{FullMaskLen: 8, MaxReveal: 4, RevealDivisor: 4}
}

// Mask applies the policy to v.
func (p MaskPolicy) Mask(v string) string {
	r := []rune(v)
	n := len(r)
	if n <= p.FullMaskLen || p.RevealDivisor <= 0 {
		return strings.Repeat("*", n)
	}
	keep := min(p.MaxReveal, n/p.RevealDivisor)
	return string(r[:keep]) + strings.Repeat("*", n-2*keep) + string(r[n-keep:])
}

// SecretOptions tunes the secret detector.
type SecretOptions struct {
	Mask MaskPolicy
	// Placeholders are extra values (case-insensitive, exact) never reported.
	Placeholders []string
	// MinEntropy is the Shannon entropy, in bits per character, a value
	// assigned to a secret-like name needs before it is reported.
	MinEntropy float64
	// MinLength applies to the entropy rule.
	MinLength int
	// MinPasswordLength applies to password-like names, which are reported
	// regardless of entropy.
	MinPasswordLength int
}

// DefaultSecretOptions returns the built-in tuning.
func DefaultSecretOptions() SecretOptions {
	return SecretOptions{
		Mask:              DefaultMaskPolicy(),
		MinEntropy:        3.0,
		MinLength:         8,
		MinPasswordLength: 6,
	}
}

type tokenRule struct {
	name string
	re   *regexp.Regexp
	// group selects the submatch holding the secret; 0 is the whole match.
	group int
}

// Prefixed or structurally recognisable credentials. These are reported
// wherever they appear, assignment or not.
var tokenRules = []tokenRule{
	{"AWS access key ID", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), 0},
	{"AWS secret access key", regexp.MustCompile(`(?i)aws_secret_access_key["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})\b`), 1},
	{"GitHub token", regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{36,255}|github_pat_[A-Za-z0-9_]{22,255})\b`), 0},
	{"Google API key", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`), 0},
	{"Slack token", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,72}\b`), 0},
	{"Stripe live key", regexp.MustCompile(`\b(?:sk|rk)_live_[0-9a-zA-Z]{24,}\b`), 0},
	{"OpenAI API key", regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{32,}\b`), 0},
	{"Private key", regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`), 0},
	{"JSON Web Token", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`), 0},
	{"Credentials in URL", regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]{1,15}://[^/\s:@"'\x60]{1,64}:([^/\s:@"'\x60]{3,128})@[^\s"'\x60]+`), 1},
}

var knownPrefixes = []string{
	"AKIA", "ASIA", "ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_", "AIza",
	"xoxb-", "xoxp-", "xoxa-", "xoxr-", "xoxs-", "sk_live_", "rk_live_", "sk-", "glpat-",
	"SG.", "npm_", "pypi-", "eyJ",
}

const secretVocabulary = `api[_-]?key|apikey|secret|token|passw(?:or)?d|passwd|pwd|private[_-]?key|access[_-]?key|auth[_-]?key|credential|client[_-]?secret`

var (
	// NAME = "value", NAME: 'value', NAME := `value`, "NAME" => "value"
	reQuotedAssignment = regexp.MustCompile(`(?i)([A-Za-z0-9_.$-]*(?:` + secretVocabulary + `)[A-Za-z0-9_]*)["']?\s*(?::=|=>|=|:)\s*["'\x60]([^"'\x60\n]{1,512})["'\x60]`)
	// NAME=value and export NAME=value, as found in .env, shell and YAML files
	reBareAssignment = regexp.MustCompile(`(?i)^\s*(?:export\s+)?([A-Za-z0-9_.-]*(?:` + secretVocabulary + `)[A-Za-z0-9_.-]*)\s*[=:]\s*([^\s"'#]{1,512})\s*$`)
	rePasswordName   = regexp.MustCompile(`(?i)passw|pwd`)
)

var builtinPlaceholders = sets.New(
	"changeme", "change-me", "change_me", "changeit",
	"your-api-key-here", "your_api_key_here", "your-api-key", "your_api_key", "yourapikey",
	"your-secret", "your_secret", "your-token", "your_token", "your-password", "your_password",
	"placeholder", "example", "sample", "dummy", "test", "testing", "fake", "mock",
	"password", "secret", "token", "apikey", "api_key", "none", "null", "nil", "undefined",
	"todo", "fixme", "replace_me", "replaceme", "redacted", "xxx", "<secret>", "***",
)

var rePlaceholderShape = regexp.MustCompile(`(?i)^(?:x{3,}|\*{3,}|\.{3,}|-+|<[^>]*>|\$\{[^}]*\}|\{\{[^}]*\}\}|%\([^)]*\)s|\$[A-Z_][A-Z0-9_]*|your[_-].*|.*[_-]here|(?:process\.env|os\.environ|os\.getenv|env)\b.*)$`)

type secretDetector struct {
	opts         SecretOptions
	placeholders sets.Set[string]
}

// NewSecretDetector returns the language-agnostic hardcoded_secret detector.
// Every match carries a masked value; raw secret text never leaves it.
func NewSecretDetector(opts SecretOptions) Detector {
	sd := &secretDetector{opts: opts, placeholders: builtinPlaceholders.Clone()}
	for _, p := range opts.Placeholders {
		sd.placeholders.Insert(strings.ToLower(strings.TrimSpace(p)))
	}
	return Detector{
		ID:          "hardcoded-secret",
		Category:    model.CategoryHardcodedSecret,
		Severity:    model.SeverityHigh,
		Description: "Hardcoded secret",
		Suggestion:  defaultSuggestions[model.CategoryHardcodedSecret],
		Match:       sd.match,
		Secrets:     sd.secrets,
	}
}

// IsPlaceholder reports whether v is an obvious non-secret stand-in.
func (sd *secretDetector) IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	return sd.placeholders.Has(strings.ToLower(v)) || rePlaceholderShape.MatchString(v)
}

type secretHit struct {
	value string
	desc  string
}

// lineHits returns the distinct secret values on one line, in report order.
func (sd *secretDetector) lineHits(line string, bare bool) []secretHit {
	var hits []secretHit
	seen := sets.New[string]()
	add := func(value, desc string) {
		if seen.Has(value) {
			return
		}
		seen.Insert(value)
		hits = append(hits, secretHit{value: value, desc: desc})
	}

	for _, rule := range tokenRules {
		for _, m := range rule.re.FindAllStringSubmatch(line, -1) {
			value := m[rule.group]
			if rule.group > 0 && sd.IsPlaceholder(value) {
				continue
			}
			add(value, rule.name+" found in source")
		}
	}
	for _, m := range reQuotedAssignment.FindAllStringSubmatch(line, -1) {
		if sd.suspicious(m[1], m[2]) {
			add(m[2], fmt.Sprintf("Hardcoded credential assigned to %s", m[1]))
		}
	}
	if bare {
		if m := reBareAssignment.FindStringSubmatch(line); m != nil && sd.suspicious(m[1], m[2]) {
			add(m[2], fmt.Sprintf("Hardcoded credential assigned to %s", m[1]))
		}
	}
	return hits
}

func bareLanguage(lang model.Language) bool {
	return lang == model.LanguageUnknown || lang == model.LanguageShell
}

// match reports one finding per distinct value per line. The code excerpt of
// each finding has every secret of the line masked, not just its own.
func (sd *secretDetector) match(src *Source) []Match {
	var out []Match
	bare := bareLanguage(src.Language)
	for i, line := range src.Lines() {
		hits := sd.lineHits(line, bare)
		if len(hits) == 0 {
			continue
		}
		masks := make(map[string]string, len(hits))
		for _, h := range hits {
			masks[h.value] = sd.opts.Mask.Mask(h.value)
		}
		lineSrc := &Source{}
		lineSrc.SetRedactions(masks)
		code := truncate(src.Redact(lineSrc.Redact(strings.TrimSpace(line))), maxExcerpt)
		for _, h := range hits {
			out = append(out, Match{
				Line:        i + 1,
				Code:        code,
				MaskedValue: masks[h.value],
				Description: h.desc,
			})
		}
	}
	return out
}

// secrets maps every secret value in the file to its mask.
func (sd *secretDetector) secrets(src *Source) map[string]string {
	masks := map[string]string{}
	bare := bareLanguage(src.Language)
	for _, line := range src.Lines() {
		for _, h := range sd.lineHits(line, bare) {
			masks[h.value] = sd.opts.Mask.Mask(h.value)
		}
	}
	return masks
}

// suspicious decides whether a literal assigned to a secret-like name looks
// like a real credential.
func (sd *secretDetector) suspicious(name, value string) bool {
	if sd.IsPlaceholder(value) || strings.ContainsAny(value, " \t") {
		return false
	}
	n := len([]rune(value))
	switch {
	case hasKnownPrefix(value):
		return true
	case rePasswordName.MatchString(name) && n >= sd.opts.MinPasswordLength:
		return true
	case n >= sd.opts.MinLength && ShannonEntropy(value) >= sd.opts.MinEntropy:
		return true
	}
	return false
}

func hasKnownPrefix(v string) bool {
	for _, p := range knownPrefixes {
		if strings.HasPrefix(v, p) && len(v) > len(p)+8 {
			return true
		}
	}
	return false
}

// ShannonEntropy returns the entropy of s in bits per character.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := map[rune]int{}
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
