package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vulnvault/internal/model"
	"vulnvault/internal/versions"
	"vulnvault/internal/vuln"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const appJS = `const API_KEY = "sk-1234567890abcdef";

function getUserById(userId) {
    const query = "SELECT * FROM users WHERE id = " + userId;
    db.query(query);
}
`

const packageJSON = `{
  "name": "demo",
  "dependencies": {
    "lodash": "4.17.20",
    "express": "^4.18.0"
  }
}
`

// executeCommand runs root with args and captures stdout and stderr together.
// Calls to exit panic and are recovered here so a failing command cannot
// terminate the test binary.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	resetFlags(root)
	oldExit := exit
	exit = func(code int) {
		if code != 0 {
			panic(fmt.Sprintf("exit-%d", code))
		}
	}
	defer func() { exit = oldExit }()
	defer func() {
		if r := recover(); r != nil {
			if s, ok := r.(string); ok && strings.HasPrefix(s, "exit-") {
				return
			}
			panic(r)
		}
	}()
	root.SetArgs(args)
	b := new(bytes.Buffer)
	root.SetOut(b)
	root.SetErr(b)
	root.SetIn(bytes.NewBufferString(""))
	err := root.Execute()
	return b.String(), err
}

// resetFlags resets all flags to their default values.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// setupWorkspace moves the test into an empty directory and points the
// advisory index at an offline snapshot, so no test touches the network or
// leaves a cache database behind.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	snapPath := filepath.Join(dir, "advisories.yaml")
	f, err := os.Create(snapPath)
	require.NoError(t, err)
	require.NoError(t, vuln.WriteSnapshot(f, vuln.Snapshot{
		versions.NPM: {
			"lodash": {{
				ID:       "GHSA-35jh-r3h4-6jhm",
				Summary:  "Command injection in lodash",
				Severity: model.SeverityHigh,
				Ranges:   []vuln.Range{{Introduced: "0", Fixed: "4.17.21"}},
			}},
		},
	}))
	require.NoError(t, f.Close())

	t.Setenv("VULNVAULT_METRICS_PORT", "0")
	t.Setenv("VULNVAULT_ADVISORIES_SOURCE", "snapshot")
	t.Setenv("VULNVAULT_ADVISORIES_SNAPSHOT_PATH", snapPath)
	t.Setenv("VULNVAULT_ADVISORIES_CACHE_TYPE", "none")
	t.Setenv("VULNVAULT_NOTIFICATIONS_SLACK_ENABLED", "false")
	t.Setenv("SLACK_BOT_USER_TOKEN", "")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}
