package git

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var reSCP = regexp.MustCompile(`^[A-Za-z0-9_.-]+@([A-Za-z0-9.-]+):([A-Za-z0-9_.~-]+/[A-Za-z0-9_./~-]+)$`)

// ValidateRepoURL accepts https and scp-style (git@host:owner/repo) URLs
// whose host is in allowedHosts. Everything else, including local paths and
// git transport helpers, is rejected.
func ValidateRepoURL(raw string, allowedHosts []string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("repository URL is empty")
	}
	if strings.HasPrefix(raw, "-") || strings.ContainsAny(raw, " \t\r\n") {
		return fmt.Errorf("invalid repository URL %q", Redact(raw))
	}

	var host, repoPath string
	if m := reSCP.FindStringSubmatch(raw); m != nil {
		host, repoPath = m[1], m[2]
	} else {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid repository URL %q: %w", Redact(raw), err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("unsupported repository URL scheme %q: only https and git@host:path are allowed", u.Scheme)
		}
		host, repoPath = u.Hostname(), strings.Trim(u.Path, "/")
	}

	host = strings.ToLower(host)
	if !slices.ContainsFunc(allowedHosts, func(h string) bool { return strings.EqualFold(h, host) }) {
		return fmt.Errorf("repository host %q is not allowed", host)
	}
	if strings.Count(strings.TrimSuffix(repoPath, ".git"), "/") < 1 || strings.Contains(repoPath, "..") {
		return fmt.Errorf("repository URL %q must name owner/repository", Redact(raw))
	}
	return nil
}
