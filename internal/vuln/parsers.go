package vuln

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/versions"

	"golang.org/x/mod/modfile"
)

var (
	rePyPISeparators  = regexp.MustCompile(`[-_.]+`)
	reRequirementName = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[[^\]]*\])?\s*(.*)$`)
	reRequirementsTxt = regexp.MustCompile(`^requirements[\w.-]*\.txt$`)
)

// DetectManifest reports whether p names a supported manifest and its
// ecosystem.
func DetectManifest(p string) (versions.Ecosystem, bool) {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	switch {
	case base == "package.json":
		return versions.NPM, true
	case base == "go.mod":
		return versions.Go, true
	case reRequirementsTxt.MatchString(strings.ToLower(base)):
		return versions.PyPI, true
	}
	return "", false
}

// ParseManifest parses a manifest by file name. Parse failures are
// InputErrors wrapping ErrMalformedManifest.
func ParseManifest(p string, data []byte) (*Manifest, error) {
	eco, ok := DetectManifest(p)
	if !ok {
		return nil, verrors.NewInputError(p, verrors.ErrUnsupportedFileType,
			"expected package.json, requirements*.txt or go.mod")
	}
	var (
		decls []Declaration
		err   error
	)
	switch eco {
	case versions.NPM:
		decls, err = parsePackageJSON(data)
	case versions.PyPI:
		decls, err = parseRequirements(data)
	case versions.Go:
		decls, err = parseGoMod(p, data)
	}
	if err != nil {
		return nil, verrors.NewInputError(p, verrors.ErrMalformedManifest, err.Error())
	}
	return &Manifest{Path: p, Ecosystem: eco, Declarations: decls}, nil
}

type packageJSON struct {
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
}

func parsePackageJSON(data []byte) ([]Declaration, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var decls []Declaration
	for _, section := range []map[string]string{
		pkg.Dependencies, pkg.DevDependencies, pkg.OptionalDependencies, pkg.PeerDependencies,
	} {
		names := make([]string, 0, len(section))
		for name := range section {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			decls = append(decls, Declaration{
				Name: name,
				Spec: strings.TrimSpace(section[name]),
				Line: jsonKeyLine(data, name),
			})
		}
	}
	return decls, nil
}

// jsonKeyLine returns the line of the first `"name":` in data, or 0.
func jsonKeyLine(data []byte, name string) int {
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(name) + `"\s*:`)
	loc := re.FindIndex(data)
	if loc == nil {
		return 0
	}
	return bytes.Count(data[:loc[0]], []byte("\n")) + 1
}

func parseRequirements(data []byte) ([]Declaration, error) {
	var decls []Declaration
	add := func(line string, lineNo int) error {
		d, ok, err := parseRequirementLine(line, lineNo)
		if ok {
			decls = append(decls, d)
		}
		return err
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	var pending string
	start := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if pending == "" {
			start = lineNo
		}
		if strings.HasSuffix(line, "\\") {
			pending += strings.TrimSuffix(line, "\\") + " "
			continue
		}
		line = pending + line
		pending = ""
		if err := add(line, start); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// a continuation on the last line has nothing left to join
	if pending != "" {
		if err := add(pending, start); err != nil {
			return nil, err
		}
	}
	return decls, nil
}

func parseRequirementLine(line string, lineNo int) (Declaration, bool, error) {
	line = stripRequirementComment(line)
	if line == "" || strings.HasPrefix(line, "-") || bareReference(line) {
		return Declaration{}, false, nil
	}
	// environment markers never affect the version
	if i := strings.Index(line, ";"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	m := reRequirementName.FindStringSubmatch(line)
	if m == nil {
		return Declaration{}, false, fmt.Errorf("line %d: cannot parse requirement %q", lineNo, line)
	}
	return Declaration{Name: m[1], Spec: strings.TrimSpace(m[2]), Line: lineNo}, true, nil
}

// bareReference reports a requirement given only as a URL or local path.
func bareReference(line string) bool {
	first := strings.Fields(line)[0]
	return strings.Contains(first, "://") || strings.HasPrefix(first, ".") || strings.HasPrefix(first, "/")
}

func stripRequirementComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '#' && (i == 0 || line[i-1] == ' ' || line[i-1] == '\t') {
			line = line[:i]
			break
		}
	}
	return strings.TrimSpace(line)
}

// parseGoMod returns the required modules with replace directives applied.
// Modules replaced by a local directory are dropped: their code is part of
// the scanned tree, not a published version.
func parseGoMod(p string, data []byte) ([]Declaration, error) {
	f, err := modfile.Parse(p, data, nil)
	if err != nil {
		return nil, err
	}
	decls := make([]Declaration, 0, len(f.Require))
	for _, req := range f.Require {
		name, version := req.Mod.Path, req.Mod.Version
		local := false
		for _, rep := range f.Replace {
			if rep.Old.Path != name || (rep.Old.Version != "" && rep.Old.Version != version) {
				continue
			}
			if rep.New.Version == "" {
				local = true
				break
			}
			name, version = rep.New.Path, rep.New.Version
			break
		}
		if local {
			continue
		}
		line := 0
		if req.Syntax != nil {
			line = req.Syntax.Start.Line
		}
		decls = append(decls, Declaration{Name: name, Spec: version, Line: line})
	}
	return decls, nil
}
