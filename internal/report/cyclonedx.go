package report

import (
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strings"

	"vulnvault/internal/model"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

var cdxSeverity = map[model.Severity]cdx.Severity{
	model.SeverityHigh:   cdx.SeverityHigh,
	model.SeverityMedium: cdx.SeverityMedium,
	model.SeverityLow:    cdx.SeverityLow,
}

// PackageURL returns the purl of a dependency finding, or "" when the
// ecosystem has no purl type.
func PackageURL(ecosystem, name, version string) string {
	var typ string
	switch strings.ToLower(ecosystem) {
	case "npm":
		typ = "npm"
		name = strings.Replace(name, "@", "%40", 1)
	case "pypi":
		typ = "pypi"
		name = strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	case "go":
		typ = "golang"
	default:
		return ""
	}
	if version == "" {
		return fmt.Sprintf("pkg:%s/%s", typ, name)
	}
	return fmt.Sprintf("pkg:%s/%s@%s", typ, name, url.PathEscape(version))
}

// WriteCycloneDX writes the dependency findings of p as a CycloneDX VEX
// document. Only vulnerable_dependency findings contribute. The document has
// no timestamp or serial number, so equal payloads give equal output.
func WriteCycloneDX(w io.Writer, p *Payload, project, toolVersion string) error {
	bom := cdx.NewBOM()
	bom.Version = 1
	bom.Metadata = &cdx.Metadata{
		Tools: &cdx.ToolsChoice{
			Tools: &[]cdx.Tool{{Vendor: "vulnvault", Name: "vulnvault", Version: toolVersion}},
		},
		Component: &cdx.Component{
			Type: cdx.ComponentTypeApplication,
			Name: project,
		},
	}

	components := map[string]cdx.Component{}
	vulns := map[string]*cdx.Vulnerability{}
	for _, v := range p.Vulnerabilities {
		if v.Type != model.CategoryVulnerableDependency || v.Package == "" {
			continue
		}
		purl := PackageURL(v.Ecosystem, v.Package, v.CurrentVersion)
		if purl == "" {
			continue
		}
		if _, ok := components[purl]; !ok {
			components[purl] = cdx.Component{
				BOMRef:     purl,
				Type:       cdx.ComponentTypeLibrary,
				Name:       v.Package,
				Version:    v.CurrentVersion,
				PackageURL: purl,
			}
		}
		for _, id := range v.AdvisoryIDs {
			vuln, ok := vulns[id]
			if !ok {
				vuln = &cdx.Vulnerability{
					ID:             id,
					Source:         advisorySource(id),
					Ratings:        &[]cdx.VulnerabilityRating{{Severity: cdxSeverity[v.Severity]}},
					Description:    v.Description,
					Recommendation: v.Suggestion,
					Affects:        &[]cdx.Affects{},
				}
				vulns[id] = vuln
			}
			*vuln.Affects = append(*vuln.Affects, cdx.Affects{Ref: purl})
		}
	}

	if len(components) > 0 {
		list := make([]cdx.Component, 0, len(components))
		for _, purl := range slices.Sorted(maps.Keys(components)) {
			list = append(list, components[purl])
		}
		bom.Components = &list
	}
	if len(vulns) > 0 {
		list := make([]cdx.Vulnerability, 0, len(vulns))
		for _, id := range slices.Sorted(maps.Keys(vulns)) {
			list = append(list, *vulns[id])
		}
		bom.Vulnerabilities = &list
	}

	enc := cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON)
	enc.SetPretty(true)
	if err := enc.Encode(bom); err != nil {
		return fmt.Errorf("encode CycloneDX: %w", err)
	}
	return nil
}

func advisorySource(id string) *cdx.Source {
	switch {
	case strings.HasPrefix(id, "GHSA-"):
		return &cdx.Source{Name: "GitHub", URL: "https://github.com/advisories/" + id}
	case strings.HasPrefix(id, "CVE-"):
		return &cdx.Source{Name: "NVD", URL: "https://nvd.nist.gov/vuln/detail/" + id}
	}
	return &cdx.Source{Name: "OSV", URL: "https://osv.dev/vulnerability/" + id}
}
