// Package git fetches remote repositories for scanning.
package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// Cloner fetches a repository into a local directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, dest string) error
}

// Client runs the git binary.
type Client struct {
	// Progress receives git's masked stderr. Nil discards it.
	Progress io.Writer
}

// NewClient creates a new Git client.
func NewClient() *Client {
	return &Client{}
}

// maskingWriter wraps an io.Writer and masks sensitive information.
type maskingWriter struct {
	w io.Writer
}

var (
	reGitHubPAT = regexp.MustCompile(`https://[^@:/\s]+@github\.com`)
	reBasicAuth = regexp.MustCompile(`https://[^:/\s]+:[^@/\s]+@`)
)

// Redact masks credentials embedded in URLs within s.
func Redact(s string) string {
	s = reGitHubPAT.ReplaceAllString(s, "https://[REDACTED]@github.com")
	return reBasicAuth.ReplaceAllString(s, "https://[REDACTED]@")
}

func (mw *maskingWriter) Write(p []byte) (n int, err error) {
	_, err = mw.w.Write([]byte(Redact(string(p))))
	return len(p), err
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	// never prompt for credentials
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=/bin/true")
	cmd.Stdout = &outBuf
	progress := c.Progress
	if progress == nil {
		progress = io.Discard
	}
	cmd.Stderr = &maskingWriter{w: io.MultiWriter(progress, &errBuf)}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		return "", fmt.Errorf("git %s failed: %w\nStderr: %s", args[0], err, strings.TrimSpace(errBuf.String()))
	}
	return strings.TrimSpace(outBuf.String()), nil
}

// Clone makes a shallow single-branch clone of repoURL into dest.
func (c *Client) Clone(ctx context.Context, repoURL, dest string) error {
	_, err := c.run(ctx, "", "clone", "--depth", "1", "--single-branch", "--no-tags", "--", repoURL, dest)
	return err
}

// HeadCommit returns the commit checked out in dir.
func (c *Client) HeadCommit(ctx context.Context, dir string) (string, error) {
	return c.run(ctx, dir, "rev-parse", "HEAD")
}
