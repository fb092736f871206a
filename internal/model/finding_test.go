package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityHigh.Rank() > SeverityMedium.Rank())
	assert.True(t, SeverityMedium.Rank() > SeverityLow.Rank())
	assert.True(t, SeverityHigh.AtLeast(SeverityLow))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.False(t, Severity("CRITICAL").Valid())
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity(" medium ")
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, s)

	_, err = ParseSeverity("urgent")
	assert.Error(t, err)
}

func TestNewSourceRecord(t *testing.T) {
	tests := []struct {
		in       string
		wantPath string
		wantLang Language
	}{
		{"src/app.js", "src/app.js", LanguageJavaScript},
		{"/abs/main.PY", "abs/main.PY", LanguagePython},
		{"win\\dir\\lib.rs", "win/dir/lib.rs", LanguageRust},
		{"./a/../b/x.tsx", "b/x.tsx", LanguageTypeScript},
		{"README", "README", LanguageUnknown},
		{"notes.txt", "notes.txt", LanguageUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r := NewSourceRecord(tt.in, nil)
			assert.Equal(t, tt.wantPath, r.Path)
			assert.Equal(t, tt.wantLang, r.Language)
		})
	}
}

func TestScanResultCompleteness(t *testing.T) {
	r := &ScanResult{}
	assert.True(t, r.Clean())

	r.Partial = true
	assert.False(t, r.Clean())
	assert.False(t, r.Complete())

	r = &ScanResult{Findings: []Finding{{Severity: SeverityLow}}}
	assert.True(t, r.Complete())
	assert.False(t, r.Clean())
}
