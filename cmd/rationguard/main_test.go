package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "rationguard dev")
}

func TestLoadAppliesFlagOverrides(t *testing.T) {
	cfg, logger, err := load(&flags{debug: true, port: 9090})
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadPort(t *testing.T) {
	_, _, err := load(&flags{port: 70000})
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	t.Setenv("RATIONGUARD_REPOSITORY_SQLITEPATH", dbPath)

	cmd := rootCommand()
	cmd.SetArgs([]string{"migrate"})
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, dbPath)
}

type recordingReloader struct {
	expressions []string
}

func (r *recordingReloader) ReloadPolicy(expression string) error {
	r.expressions = append(r.expressions, expression)
	return nil
}

func TestReloadPolicyReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rationguard.yaml")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := &recordingReloader{}

	require.NoError(t, os.WriteFile(path, []byte("face:\n  acceptexpression: \"is_match && distance < 0.3\"\n"), 0o600))
	reloadPolicy(&flags{configPath: path}, svc, logger)
	assert.Equal(t, []string{"is_match && distance < 0.3"}, svc.expressions)

	// An invalid file never reaches the service.
	require.NoError(t, os.WriteFile(path, []byte("face:\n  acceptexpression: \"distance\"\n"), 0o600))
	reloadPolicy(&flags{configPath: path}, svc, logger)
	assert.Len(t, svc.expressions, 1)
}
