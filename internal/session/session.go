// Package session persists analysis sessions to disk with atomic writes
// and rotating, optionally compressed, backups.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/meridian-gis/geoquery/internal/compliance"
	"github.com/meridian-gis/geoquery/internal/executor"
	"github.com/meridian-gis/geoquery/internal/nlq"
	"github.com/meridian-gis/geoquery/internal/observability"
)

const sessionVersion = "1.0"

// Meta identifies a saved session.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"session_name"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Session is one saved analysis: the compiled query, its results, and an
// optional compliance report.
type Session struct {
	Meta    Meta               `json:"meta"`
	Query   *nlq.CompiledQuery `json:"query,omitempty"`
	Results *executor.ResultSet `json:"results,omitempty"`
	Report  *compliance.Report `json:"report,omitempty"`
}

// Config tunes the session manager.
type Config struct {
	Dir            string
	AutoBackup     bool
	BackupCount    int
	CompressBackup bool
}

// Manager saves and loads sessions.
type Manager struct {
	cfg    Config
	logger *observability.Logger
}

func NewManager(cfg Config, logger *observability.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		cfg.Dir = "sessions"
	}
	if cfg.BackupCount <= 0 {
		cfg.BackupCount = 5
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	logger.Info().Str("dir", cfg.Dir).Bool("auto_backup", cfg.AutoBackup).Msg("Session manager initialized")
	return &Manager{cfg: cfg, logger: logger}, nil
}

func (m *Manager) path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("session name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("session name cannot contain path separators")
	}
	return filepath.Join(m.cfg.Dir, name+".json"), nil
}

// Save writes the session atomically: the JSON is written to a temporary
// file and renamed into place. When auto backup is on, the previous
// version of the file is kept as a timestamped backup first.
func (m *Manager) Save(name, user string, query *nlq.CompiledQuery, results *executor.ResultSet, report *compliance.Report) (string, error) {
	path, err := m.path(name)
	if err != nil {
		return "", err
	}

	if m.cfg.AutoBackup {
		m.backup(path)
	}

	sess := Session{
		Meta: Meta{
			ID:        uuid.NewString(),
			Name:      name,
			User:      user,
			Timestamp: time.Now().UTC(),
			Version:   sessionVersion,
		},
		Query:   query,
		Results: results,
		Report:  report,
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding session %q: %w", name, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing session %q: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing session %q: %w", name, err)
	}

	m.logger.Info().Str("session", name).Str("path", path).Int("bytes", len(data)).Msg("Session saved")
	return path, nil
}

// Load reads a previously saved session by name.
func (m *Manager) Load(name string) (*Session, error) {
	path, err := m.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %q not found", name)
		}
		return nil, fmt.Errorf("reading session %q: %w", name, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", name, err)
	}

	m.logger.Info().Str("session", name).Str("user", sess.Meta.User).Msg("Session loaded")
	return &sess, nil
}

// List returns the names of all saved sessions, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a saved session. Backups are left in place.
func (m *Manager) Delete(name string) error {
	path, err := m.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("session %q not found", name)
		}
		return fmt.Errorf("deleting session %q: %w", name, err)
	}
	m.logger.Info().Str("session", name).Msg("Session deleted")
	return nil
}

// backup copies the current session file aside before it is overwritten.
// Failures are logged and do not block the save.
func (m *Manager) backup(path string) {
	src, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("path", path).Msg("Failed to create backup")
		}
		return
	}
	defer src.Close()

	timestamp := time.Now().Format("20060102_150405")
	backupPath := fmt.Sprintf("%s.%s.bak", path, timestamp)
	if m.cfg.CompressBackup {
		backupPath += ".gz"
	}

	dst, err := os.Create(backupPath)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", backupPath).Msg("Failed to create backup")
		return
	}
	defer dst.Close()

	var w io.Writer = dst
	var gz *gzip.Writer
	if m.cfg.CompressBackup {
		gz = gzip.NewWriter(dst)
		w = gz
	}

	if _, err := io.Copy(w, src); err != nil {
		m.logger.Warn().Err(err).Str("path", backupPath).Msg("Failed to write backup")
		return
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			m.logger.Warn().Err(err).Str("path", backupPath).Msg("Failed to finish backup")
			return
		}
	}

	m.logger.Info().Str("backup", backupPath).Msg("Session backup created")
	m.pruneBackups(path)
}

// pruneBackups keeps only the most recent BackupCount backups of a file.
func (m *Manager) pruneBackups(path string) {
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to prune old backups")
		return
	}

	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && (strings.HasSuffix(name, ".bak") || strings.HasSuffix(name, ".bak.gz")) {
			backups = append(backups, name)
		}
	}

	// Timestamped names sort chronologically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	for _, old := range backups[min(len(backups), m.cfg.BackupCount):] {
		if err := os.Remove(filepath.Join(dir, old)); err != nil {
			m.logger.Warn().Err(err).Str("backup", old).Msg("Failed to remove old backup")
		}
	}
}

// ReadBackup opens a backup file, transparently decompressing .gz backups,
// and returns the decoded session it holds.
func (m *Manager) ReadBackup(filename string) (*Session, error) {
	f, err := os.Open(filepath.Join(m.cfg.Dir, filepath.Base(filename)))
	if err != nil {
		return nil, fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(filename, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening backup: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading backup: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding backup: %w", err)
	}
	return &sess, nil
}
