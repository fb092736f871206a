package model

import (
	"path"
	"strings"
)

// Language is inferred from a file extension.
type Language string

const (
	LanguageUnknown    Language = "unknown"
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageJava       Language = "java"
	LanguageGo         Language = "go"
	LanguageRuby       Language = "ruby"
	LanguagePHP        Language = "php"
	LanguageC          Language = "c"
	LanguageCPP        Language = "cpp"
	LanguageCSharp     Language = "csharp"
	LanguageRust       Language = "rust"
	LanguageKotlin     Language = "kotlin"
	LanguageSwift      Language = "swift"
	LanguageShell      Language = "shell"
)

var extensionLanguages = map[string]Language{
	".py":    LanguagePython,
	".pyw":   LanguagePython,
	".js":    LanguageJavaScript,
	".jsx":   LanguageJavaScript,
	".mjs":   LanguageJavaScript,
	".cjs":   LanguageJavaScript,
	".ts":    LanguageTypeScript,
	".tsx":   LanguageTypeScript,
	".java":  LanguageJava,
	".go":    LanguageGo,
	".rb":    LanguageRuby,
	".php":   LanguagePHP,
	".c":     LanguageC,
	".h":     LanguageC,
	".cpp":   LanguageCPP,
	".cc":    LanguageCPP,
	".cxx":   LanguageCPP,
	".hpp":   LanguageCPP,
	".hh":    LanguageCPP,
	".cs":    LanguageCSharp,
	".rs":    LanguageRust,
	".kt":    LanguageKotlin,
	".kts":   LanguageKotlin,
	".swift": LanguageSwift,
	".sh":    LanguageShell,
	".bash":  LanguageShell,
	".zsh":   LanguageShell,
}

// LanguageFor maps a file path to its language by extension.
func LanguageFor(p string) Language {
	if lang, ok := extensionLanguages[strings.ToLower(path.Ext(p))]; ok {
		return lang
	}
	return LanguageUnknown
}

// SourceRecord is one collected file. Path is relative and slash-separated.
type SourceRecord struct {
	Path     string
	Language Language
	Content  []byte
}

// NewSourceRecord normalizes the path and infers the language.
func NewSourceRecord(p string, content []byte) SourceRecord {
	p = strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
	return SourceRecord{
		Path:     p,
		Language: LanguageFor(p),
		Content:  content,
	}
}
