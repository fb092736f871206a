package security

import (
	"regexp"
	"regexp/syntax"
	"strings"
	"unicode"

	"vulnvault/internal/model"

	"k8s.io/apimachinery/pkg/util/sets"
)

var (
	reForInLoop    = regexp.MustCompile(`\bfor\s*\(\s*(?:const|let|var)?\s*([A-Za-z_$][\w$]*)\s+in\s+[A-Za-z_$][\w$.]*\s*\)`)
	reForOfKeys    = regexp.MustCompile(`\bfor\s*\(\s*(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s+of\s+Object\.keys\(`)
	reForEachKeys  = regexp.MustCompile(`Object\.keys\([^)]*\)\.forEach\(\s*(?:function\s*)?\(?\s*([A-Za-z_$][\w$]*)`)
	reKeyGuard     = regexp.MustCompile(`__proto__|hasOwnProperty|Object\.hasOwn|["']constructor["']|["']prototype["']|isSafeKey|isPrototypePolluted`)
	protoLoopLines = 8
)

func prototypePollutionDetector() Detector {
	return Detector{
		ID:          "proto-unchecked-merge",
		Category:    model.CategoryPrototypePollution,
		Severity:    model.SeverityMedium,
		Languages:   sets.New(langJS...),
		Description: "Properties copied by key without filtering __proto__ or constructor",
		Suggestion:  defaultSuggestions[model.CategoryPrototypePollution],
		Match:       matchUncheckedMerge,
	}
}

// matchUncheckedMerge looks for a key loop whose body assigns obj[key] and
// never checks the key.
func matchUncheckedMerge(src *Source) []Match {
	var out []Match
	lines := src.Lines()
	for i := range lines {
		code := src.Code(i)
		var key string
		for _, re := range []*regexp.Regexp{reForInLoop, reForOfKeys, reForEachKeys} {
			if m := re.FindStringSubmatch(code); m != nil {
				key = m[1]
				break
			}
		}
		if key == "" {
			continue
		}

		assign := regexp.MustCompile(`[\w$\])]\[\s*` + regexp.QuoteMeta(key) + `\s*\]\s*=[^=]`)
		end := min(i+protoLoopLines, len(lines)-1)
		hit := 0
		guarded := false
		for j := i; j <= end; j++ {
			body := src.Code(j)
			if reKeyGuard.MatchString(body) {
				guarded = true
				break
			}
			if hit == 0 && assign.MatchString(body) {
				hit = j + 1
			}
		}
		if hit > 0 && !guarded {
			out = append(out, Match{Line: hit, Code: src.Excerpt(hit)})
		}
	}
	return out
}

var (
	// A JavaScript or Ruby regex literal following an operator or keyword.
	reRegexLiteral = regexp.MustCompile(`(?:^|[=(,:!&|?;{}\[]|\breturn)\s*/((?:\\.|\[(?:\\.|[^\]\\\n])*\]|[^/\\\n\[*])(?:\\.|\[(?:\\.|[^\]\\\n])*\]|[^/\\\n\[])*)/[dgimsuyvxo]*`)
	// A pattern handed to a regex constructor as a string literal.
	reRegexCall = regexp.MustCompile(`(?:new\s+RegExp|\bRegExp|\bre\.(?:compile|match|search|fullmatch|findall|finditer|sub|subn|split)|Pattern\.compile|\.matches|preg_(?:match|match_all|replace|split)|new\s+Regex|Regex\.(?:IsMatch|Match|Matches|Replace)|Regexp\.new)\s*\(\s*(r?)(?:"((?:\\.|[^"\\])*)"|'((?:\\.|[^'\\])*)')`)
	// Textual fallback for patterns the syntax parser rejects.
	reNestedQuantifierText = regexp.MustCompile(`\((?:[^()\\]|\\.)*[+*](?:[^()\\]|\\.)*\)(?:[+*]|\{\d+,\})`)
)

func regexDoSDetector() Detector {
	return Detector{
		ID:       "regex-nested-quantifier",
		Category: model.CategoryRegexDoS,
		Severity: model.SeverityLow,
		Languages: sets.New(
			model.LanguageJavaScript, model.LanguageTypeScript, model.LanguagePython, model.LanguageJava,
			model.LanguageKotlin, model.LanguageRuby, model.LanguagePHP, model.LanguageCSharp,
		),
		Description: "Regular expression with nested quantifiers over overlapping characters",
		Suggestion:  defaultSuggestions[model.CategoryRegexDoS],
		Match:       matchCatastrophicRegex,
	}
}

func matchCatastrophicRegex(src *Source) []Match {
	var out []Match
	literals := src.Language == model.LanguageJavaScript || src.Language == model.LanguageTypeScript ||
		src.Language == model.LanguageRuby
	for i := range src.Lines() {
		code := src.Code(i)
		var patterns []string
		if literals {
			for _, m := range reRegexLiteral.FindAllStringSubmatch(code, -1) {
				patterns = append(patterns, m[1])
			}
		}
		for _, m := range reRegexCall.FindAllStringSubmatch(code, -1) {
			raw := m[1] == "r"
			body := m[2]
			if body == "" {
				body = m[3]
			}
			if !raw {
				body = strings.ReplaceAll(body, `\\`, `\`)
			}
			patterns = append(patterns, stripDelimiters(body))
		}
		for _, p := range patterns {
			if Catastrophic(p) {
				out = append(out, Match{Line: i + 1, Code: src.Excerpt(i + 1)})
				break
			}
		}
	}
	return out
}

// stripDelimiters removes PCRE-style delimiters and trailing flags as used by
// PHP's preg functions.
func stripDelimiters(p string) string {
	if len(p) < 2 || !strings.ContainsRune("/#~@%!", rune(p[0])) {
		return p
	}
	if end := strings.LastIndexByte(p, p[0]); end > 0 {
		return p[1:end]
	}
	return p
}

// Catastrophic reports whether pattern contains an unbounded quantifier over
// a subexpression that itself contains an unbounded quantifier able to
// consume the first character of the outer repetition. That overlap is what
// makes backtracking engines explore exponentially many splits.
func Catastrophic(pattern string) bool {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return reNestedQuantifierText.MatchString(pattern)
	}
	return nestedOverlap(re)
}

func unbounded(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		return true
	case syntax.OpRepeat:
		return re.Max == -1
	}
	return false
}

func nestedOverlap(re *syntax.Regexp) bool {
	if unbounded(re) {
		body := re.Sub[0]
		first, _ := firstChars(body)
		found := false
		walk(body, func(inner *syntax.Regexp) {
			if !found && inner != body && unbounded(inner) && allChars(inner.Sub[0]).overlaps(first) {
				found = true
			}
		})
		if !found && unbounded(body) {
			found = true
		}
		if found {
			return true
		}
	}
	for _, sub := range re.Sub {
		if nestedOverlap(sub) {
			return true
		}
	}
	return false
}

func walk(re *syntax.Regexp, fn func(*syntax.Regexp)) {
	fn(re)
	for _, sub := range re.Sub {
		walk(sub, fn)
	}
}

// runeSet is a list of inclusive [lo, hi] ranges.
type runeSet [][2]rune

var anyRune = runeSet{{0, unicode.MaxRune}}

func (s runeSet) overlaps(o runeSet) bool {
	for _, a := range s {
		for _, b := range o {
			if a[0] <= b[1] && b[0] <= a[1] {
				return true
			}
		}
	}
	return false
}

func literalSet(r rune, fold bool) runeSet {
	set := runeSet{{r, r}}
	if fold {
		for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
			set = append(set, [2]rune{f, f})
		}
	}
	return set
}

func classSet(re *syntax.Regexp) runeSet {
	var set runeSet
	for i := 0; i+1 < len(re.Rune); i += 2 {
		set = append(set, [2]rune{re.Rune[i], re.Rune[i+1]})
	}
	return set
}

// firstChars returns the characters that can start a match of re and whether
// re can match the empty string.
func firstChars(re *syntax.Regexp) (runeSet, bool) {
	switch re.Op {
	case syntax.OpLiteral:
		if len(re.Rune) == 0 {
			return nil, true
		}
		return literalSet(re.Rune[0], re.Flags&syntax.FoldCase != 0), false
	case syntax.OpCharClass:
		return classSet(re), false
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return anyRune, false
	case syntax.OpCapture, syntax.OpPlus:
		return firstChars(re.Sub[0])
	case syntax.OpStar, syntax.OpQuest:
		s, _ := firstChars(re.Sub[0])
		return s, true
	case syntax.OpRepeat:
		s, nullable := firstChars(re.Sub[0])
		return s, nullable || re.Min == 0
	case syntax.OpConcat:
		var acc runeSet
		for _, sub := range re.Sub {
			s, nullable := firstChars(sub)
			acc = append(acc, s...)
			if !nullable {
				return acc, false
			}
		}
		return acc, true
	case syntax.OpAlternate:
		var acc runeSet
		nullable := false
		for _, sub := range re.Sub {
			s, n := firstChars(sub)
			acc = append(acc, s...)
			nullable = nullable || n
		}
		return acc, nullable
	}
	return nil, true
}

// allChars returns every character re can consume.
func allChars(re *syntax.Regexp) runeSet {
	switch re.Op {
	case syntax.OpLiteral:
		var acc runeSet
		for _, r := range re.Rune {
			acc = append(acc, literalSet(r, re.Flags&syntax.FoldCase != 0)...)
		}
		return acc
	case syntax.OpCharClass:
		return classSet(re)
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return anyRune
	}
	var acc runeSet
	for _, sub := range re.Sub {
		acc = append(acc, allChars(sub)...)
	}
	return acc
}
