package script

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"update-runner/internal/domain"

	"github.com/stretchr/testify/require"
)

// stubInterpreter writes an executable that echoes its arguments and the
// store credential env vars, then exits with STUB_EXIT.
func stubInterpreter(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "fakepython")
	script := "#!/bin/sh\n" +
		"echo \"args: $@\"\n" +
		"echo \"url: $SUPABASE_URL\"\n" +
		"echo \"key: $SUPABASE_KEY\"\n" +
		"exit ${STUB_EXIT:-0}\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(stubInterpreter(t), t.TempDir(), slog.New(slog.DiscardHandler))
}

// TestRunner_Provision checks the interpreter and installs the manifest.
func TestRunner_Provision(t *testing.T) {
	r := newTestRunner(t)
	out, err := r.Provision(context.Background(), "requirements.txt")
	require.NoError(t, err)
	require.Contains(t, out, "args: --version")
}

// TestRunner_Provision_InterpreterMissing fails when the interpreter cannot run.
func TestRunner_Provision_InterpreterMissing(t *testing.T) {
	r := NewRunner(filepath.Join(t.TempDir(), "missing"), t.TempDir(), slog.New(slog.DiscardHandler))
	_, err := r.Provision(context.Background(), "requirements.txt")
	require.Error(t, err)
}

// TestRunner_RunScript_InjectsCredentials passes the credential pair through
// the script's environment and forwards the period flag.
func TestRunner_RunScript_InjectsCredentials(t *testing.T) {
	r := newTestRunner(t)
	creds := domain.StoreCredentials{URL: "https://store.example.com", Key: "secret-key"}

	out, err := r.RunScript(context.Background(), "scrape_financial_data.py", creds, "-q")
	require.NoError(t, err)
	require.Contains(t, out, "args: scrape_financial_data.py -q")
	require.Contains(t, out, "url: https://store.example.com")
	require.Contains(t, out, "key: secret-key")
}

// TestRunner_RunScript_NonZeroExit surfaces the script failure with its output.
func TestRunner_RunScript_NonZeroExit(t *testing.T) {
	t.Setenv("STUB_EXIT", "3")
	r := newTestRunner(t)

	out, err := r.RunScript(context.Background(), "source_format_checker.py", domain.StoreCredentials{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "source_format_checker.py")
	require.Contains(t, out, "args: source_format_checker.py")
}

// TestTail keeps only the end of oversized output.
func TestTail(t *testing.T) {
	t.Parallel()
	small := "short output"
	require.Equal(t, small, tail(small))

	big := strings.Repeat("x", outputTailLimit) + "end"
	got := tail(big)
	require.Len(t, got, outputTailLimit)
	require.True(t, strings.HasSuffix(got, "end"))
}
