package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/logging"
	"github.com/polisai/polis-mam/pkg/policy"
)

const cliDoc = `
version: "1"
name: cli-test
managedAccounts: [user@contoso.com]
save:
  default: allow
  accounts:
    user@contoso.com:
      locations:
        onedrive_for_business: block
open:
  locations:
    account_document: managed_only
urls:
  rules:
    - id: block-social
      pattern: "*.social.example"
      action: block
documentPicker:
  modes:
    move: block
notificationPolicy: block
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writePolicy(t, cliDoc)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, `name="cli-test"`)

	bad := writePolicy(t, "version: \"1\"\nsave:\n  default: sometimes\n")
	_, err = execute(t, "validate", bad)
	assert.ErrorIs(t, err, domain.ErrPolicyInvalid)

	_, err = execute(t, "validate", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestInspectCommand(t *testing.T) {
	path := writePolicy(t, cliDoc)

	out, err := execute(t, "inspect", path, "--account", "user@contoso.com", "--format", "json")
	require.NoError(t, err)

	var report policy.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "user@contoso.com", report.Account)
	assert.False(t, report.SaveTo["onedrive_for_business"])
	assert.True(t, report.SaveTo["local_drive"])
	assert.True(t, report.OpenFrom["account_document"])
	assert.False(t, report.DocumentPicker["move"])
	assert.Equal(t, "block", report.NotificationPolicy)

	out, err = execute(t, "inspect", path)
	require.NoError(t, err)
	var asYAML policy.Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &asYAML))
	assert.Empty(t, asYAML.Account)
	assert.True(t, asYAML.SaveTo["onedrive_for_business"])
	assert.False(t, asYAML.OpenFrom["account_document"])

	_, err = execute(t, "inspect", path, "--format", "xml")
	assert.Error(t, err)
}

func TestCheckCommand(t *testing.T) {
	path := writePolicy(t, cliDoc)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"save blocked for account", []string{"check", "save", "onedrive_for_business", "-a", "user@contoso.com", "-f", path}, "blocked"},
		{"save allowed without account", []string{"check", "save", "onedrive_for_business", "-f", path}, "allowed"},
		{"save by sdk code", []string{"check", "save", "1", "-a", "user@contoso.com", "-f", path}, "blocked"},
		{"open managed only", []string{"check", "open", "account_document", "-a", "user@contoso.com", "-f", path}, "allowed"},
		{"open managed only no account", []string{"check", "open", "account_document", "-f", path}, "blocked"},
		{"url rule", []string{"check", "url", "https://www.social.example/", "-f", path}, "blocked"},
		{"universal link independent", []string{"check", "universal-link", "https://www.social.example/", "-f", path}, "allowed"},
		{"picker", []string{"check", "picker", "move", "-f", path}, "blocked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(out, tt.want), "got %q", out)
		})
	}
}

func TestCheckCommandErrors(t *testing.T) {
	path := writePolicy(t, cliDoc)

	_, err := execute(t, "check", "save", "ftp", "-f", path)
	assert.ErrorIs(t, err, domain.ErrUnknownLocation)

	_, err = execute(t, "check", "picker", "print", "-f", path)
	assert.ErrorIs(t, err, domain.ErrUnknownPickerMode)

	_, err = execute(t, "check", "save", "box")
	assert.Error(t, err)
}

func TestBuildSettingsFlagsOverride(t *testing.T) {
	t.Setenv("MAM_POLICY_FILE", "/from/env.yaml")
	t.Setenv("MAM_LISTEN_ADDR", ":9999")

	cmd := newRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags([]string{"-f", "/from/flag.yaml", "--no-watch"}))

	settings, err := buildSettings(serve)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag.yaml", settings.Policy.File)
	assert.Equal(t, ":9999", settings.Server.ListenAddress)
	assert.False(t, settings.Policy.Watch)
}

func TestBuildSettingsRequiresPolicy(t *testing.T) {
	t.Setenv("MAM_POLICY_FILE", "")

	cmd := newRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags(nil))

	_, err = buildSettings(serve)
	assert.Error(t, err)
}

func TestServeHTTPShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.NewLogger(logging.Config{Level: "error", Output: &bytes.Buffer{}})

	done := make(chan error, 1)
	go func() {
		done <- serveHTTP(ctx, "127.0.0.1:0", http.NotFoundHandler(), logger)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeHTTPBindError(t *testing.T) {
	logger := logging.NewLogger(logging.Config{Level: "error", Output: &bytes.Buffer{}})
	err := serveHTTP(context.Background(), "256.0.0.1:http", http.NotFoundHandler(), logger)
	assert.Error(t, err)
}
