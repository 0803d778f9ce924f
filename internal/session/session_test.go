package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-gis/geoquery/internal/nlq"
	"github.com/meridian-gis/geoquery/internal/observability"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m, err := NewManager(cfg, observability.Nop())
	require.NoError(t, err)
	return m
}

func sampleQuery() *nlq.CompiledQuery {
	return &nlq.CompiledQuery{
		Query:            "find counties in Texas",
		FilterExpression: "STATE_NAME = 'Texas'",
		Confidence:       0.95,
	}
}

func TestSaveAndLoad(t *testing.T) {
	m := newTestManager(t, Config{})

	path, err := m.Save("texas-analysis", "analyst", sampleQuery(), nil, nil)
	require.NoError(t, err)
	assert.FileExists(t, path)

	sess, err := m.Load("texas-analysis")
	require.NoError(t, err)

	assert.Equal(t, "texas-analysis", sess.Meta.Name)
	assert.Equal(t, "analyst", sess.Meta.User)
	assert.Equal(t, "1.0", sess.Meta.Version)
	assert.NotEmpty(t, sess.Meta.ID)
	require.NotNil(t, sess.Query)
	assert.Equal(t, "STATE_NAME = 'Texas'", sess.Query.FilterExpression)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir})

	_, err := m.Save("s1", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "temp file %s left behind", entry.Name())
	}
}

func TestSaveRejectsBadNames(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.Save("", "u", sampleQuery(), nil, nil)
	assert.Error(t, err)

	_, err = m.Save("../escape", "u", sampleQuery(), nil, nil)
	assert.Error(t, err)

	_, err = m.Save(`a\b`, "u", sampleQuery(), nil, nil)
	assert.Error(t, err)
}

func TestLoadMissingSession(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.Load("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListAndDelete(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.Save("beta", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)
	_, err = m.Save("alpha", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)

	names, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	require.NoError(t, m.Delete("beta"))
	names, err = m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)

	assert.Error(t, m.Delete("beta"))
}

func TestAutoBackupOnOverwrite(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir, AutoBackup: true})

	_, err := m.Save("s1", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)

	// First save has nothing to back up.
	assert.Empty(t, backupFiles(t, dir))

	_, err = m.Save("s1", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)

	backups := backupFiles(t, dir)
	require.Len(t, backups, 1)
	assert.True(t, strings.HasSuffix(backups[0], ".bak"))

	sess, err := m.ReadBackup(backups[0])
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.Meta.Name)
}

func TestCompressedBackupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir, AutoBackup: true, CompressBackup: true})

	_, err := m.Save("s1", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)
	_, err = m.Save("s1", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)

	backups := backupFiles(t, dir)
	require.Len(t, backups, 1)
	assert.True(t, strings.HasSuffix(backups[0], ".bak.gz"))

	sess, err := m.ReadBackup(backups[0])
	require.NoError(t, err)
	require.NotNil(t, sess.Query)
	assert.Equal(t, "STATE_NAME = 'Texas'", sess.Query.FilterExpression)
}

func TestBackupPruning(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir, AutoBackup: true, BackupCount: 2})

	_, err := m.Save("s1", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)

	// Seed stale backups that predate any the manager will write.
	for _, ts := range []string{"20200101_000000", "20200102_000000", "20200103_000000"} {
		stale := filepath.Join(dir, "s1.json."+ts+".bak")
		require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))
	}

	_, err = m.Save("s1", "u", sampleQuery(), nil, nil)
	require.NoError(t, err)

	backups := backupFiles(t, dir)
	assert.Len(t, backups, 2, "only the newest backups survive pruning")
	for _, name := range backups {
		assert.NotContains(t, name, "20200101", "oldest backup should be pruned")
		assert.NotContains(t, name, "20200102")
	}
}

func backupFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".bak") || strings.HasSuffix(entry.Name(), ".bak.gz") {
			names = append(names, entry.Name())
		}
	}
	return names
}
