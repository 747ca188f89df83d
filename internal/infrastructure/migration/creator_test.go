package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	mf, err := CreateMigration(dir, "Add Matter Conflicts", "conflict check table")
	require.NoError(t, err)

	assert.Len(t, mf.Version, len(versionLayout))
	assert.FileExists(t, mf.UpPath)
	assert.FileExists(t, mf.DownPath)
	assert.True(t, strings.HasSuffix(mf.UpPath, "_add_matter_conflicts.up.sql"))
	assert.True(t, strings.HasSuffix(mf.DownPath, "_add_matter_conflicts.down.sql"))

	up, err := os.ReadFile(mf.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "Add Matter Conflicts")
	assert.Contains(t, string(up), "conflict check table")

	down, err := os.ReadFile(mf.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "rollback")
}

func TestCreateMigration_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "migrations")

	_, err := CreateMigration(dir, "init", "initial schema")
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Add Matter Conflicts", "add_matter_conflicts"},
		{"add-client-pii", "add_client_pii"},
		{"Add   extra   spaces", "add_extra_spaces"},
		{"rls_policies_v2", "rls_policies_v2"},
		{"drop!! weird?? chars", "drop_weird_chars"},
		{"  trimmed  ", "trimmed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeName(tt.in), "input %q", tt.in)
	}
}

func TestListMigrations(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"20260101000002_add_clients.up.sql",
		"20260101000002_add_clients.down.sql",
		"20260101000001_init.up.sql",
		"20260101000001_init.down.sql",
		"README.md",
	}
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	migrations, err := ListMigrations(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"20260101000001_init",
		"20260101000002_add_clients",
	}, migrations)
}

func TestListMigrations_MissingDirectory(t *testing.T) {
	migrations, err := ListMigrations(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, migrations)
}
