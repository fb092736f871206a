package vuln

import (
	"testing"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/versions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectManifest(t *testing.T) {
	tests := []struct {
		path string
		eco  versions.Ecosystem
		ok   bool
	}{
		{"package.json", versions.NPM, true},
		{"web/package.json", versions.NPM, true},
		{"requirements.txt", versions.PyPI, true},
		{"deploy/requirements-dev.txt", versions.PyPI, true},
		{"Requirements.TXT", versions.PyPI, true},
		{"go.mod", versions.Go, true},
		{`svc\go.mod`, versions.Go, true},
		{"package-lock.json", "", false},
		{"requirements.in", "", false},
		{"go.sum", "", false},
	}
	for _, tt := range tests {
		eco, ok := DetectManifest(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.eco, eco, tt.path)
	}
}

func TestParsePackageJSON(t *testing.T) {
	data := []byte(`{
  "name": "demo",
  "dependencies": {
    "lodash": "^4.17.20",
    "express": "4.17.1"
  },
  "devDependencies": {
    "jest": "~29.0.0",
    "lodash": "4.17.21"
  },
  "peerDependencies": {
    "react": ">=17"
  }
}`)
	m, err := ParseManifest("app/package.json", data)
	require.NoError(t, err)
	assert.Equal(t, versions.NPM, m.Ecosystem)
	assert.Equal(t, "app/package.json", m.Path)
	assert.Equal(t, []Declaration{
		{Name: "express", Spec: "4.17.1", Line: 5},
		{Name: "lodash", Spec: "^4.17.20", Line: 4},
		{Name: "jest", Spec: "~29.0.0", Line: 8},
		{Name: "react", Spec: ">=17", Line: 12},
	}, m.Declarations)
}

func TestParseRequirements(t *testing.T) {
	data := []byte(`# core
requests==2.19.0
Django>=3.2,<4.0  # LTS
-r base.txt
--index-url https://pypi.example.org/simple
-e git+https://github.com/org/repo.git#egg=repo
uvicorn[standard]~=0.20.0
pywin32==306 ; sys_platform == "win32"
numpy \
    ==1.21.0
https://example.org/pkg.tar.gz
flask
`)
	m, err := ParseManifest("requirements.txt", data)
	require.NoError(t, err)
	assert.Equal(t, []Declaration{
		{Name: "requests", Spec: "==2.19.0", Line: 2},
		{Name: "Django", Spec: ">=3.2,<4.0", Line: 3},
		{Name: "uvicorn", Spec: "~=0.20.0", Line: 7},
		{Name: "pywin32", Spec: "==306", Line: 8},
		{Name: "numpy", Spec: "==1.21.0", Line: 9},
		{Name: "flask", Spec: "", Line: 12},
	}, m.Declarations)
}

func TestParseRequirements_TrailingContinuation(t *testing.T) {
	for name, data := range map[string]string{
		"with newline":    "flask\nnumpy==1.21.0 \\\n",
		"without newline": "flask\nnumpy==1.21.0 \\",
	} {
		t.Run(name, func(t *testing.T) {
			m, err := ParseManifest("requirements.txt", []byte(data))
			require.NoError(t, err)
			assert.Equal(t, []Declaration{
				{Name: "flask", Spec: "", Line: 1},
				{Name: "numpy", Spec: "==1.21.0", Line: 2},
			}, m.Declarations)
		})
	}
}

func TestParseGoMod(t *testing.T) {
	data := []byte(`module example.com/app

go 1.22

require (
	github.com/gin-gonic/gin v1.9.0
	golang.org/x/net v0.7.0 // indirect
	example.com/local v1.0.0
)

require github.com/old/thing v0.1.0

replace github.com/old/thing => github.com/new/thing v0.2.0

replace example.com/local => ../local
`)
	m, err := ParseManifest("go.mod", data)
	require.NoError(t, err)
	assert.Equal(t, []Declaration{
		{Name: "github.com/gin-gonic/gin", Spec: "v1.9.0", Line: 6},
		{Name: "golang.org/x/net", Spec: "v0.7.0", Line: 7},
		{Name: "github.com/new/thing", Spec: "v0.2.0", Line: 11},
	}, m.Declarations)
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		path string
		data string
		want error
	}{
		{"package.json", `{"dependencies": [}`, verrors.ErrMalformedManifest},
		{"package.json", `{"dependencies": {"a": {"version": "1"}}}`, verrors.ErrMalformedManifest},
		{"requirements.txt", "requests==2.0\n==1.0\n", verrors.ErrMalformedManifest},
		{"go.mod", "module\nrequire (", verrors.ErrMalformedManifest},
		{"pom.xml", "<project/>", verrors.ErrUnsupportedFileType},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := ParseManifest(tt.path, []byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
			var inputErr *verrors.InputError
			if assert.ErrorAs(t, err, &inputErr) {
				assert.Equal(t, tt.path, inputErr.Unit)
			}
		})
	}
}
