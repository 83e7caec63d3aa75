// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execRoot runs a clean root command with captured output.
func execRoot(args ...string) (string, error) {
	rootCmd := NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmdVersionFlag(t *testing.T) {
	out, err := execRoot("--version")
	require.NoError(t, err)
	assert.Contains(t, out, "formpilot version "+Version)
}

func TestRootCmdNoArgsShowsHelp(t *testing.T) {
	out, err := execRoot()
	require.NoError(t, err)
	assert.Contains(t, out, "fills web forms")
	assert.Contains(t, out, "fill")
	assert.Contains(t, out, "history")
}

func TestFillCmdRequiresURL(t *testing.T) {
	_, err := execRoot("fill")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com/signup", normalizeURL("example.com/signup"))
	assert.Equal(t, "http://localhost:8080/form", normalizeURL("http://localhost:8080/form"))
	assert.Equal(t, "https://example.com", normalizeURL("https://example.com"))
}
