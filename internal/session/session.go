// Package session gives each job configuration a deterministic identity
// and an owned directory tree, so re-running the same job automatically
// resumes where it left off instead of starting a fresh download.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satfetch/satfetch/internal/config"
)

// LiveThreshold is how close to "now" a job's end-of-range filter must be
// for the session to be considered live (new data may still arrive).
const LiveThreshold = 3 * time.Hour

var invalidDirnameRE = regexp.MustCompile(`[<>:"/\\|?*]`)

func sanitizeDirname(name string) string {
	return invalidDirnameRE.ReplaceAllString(name, "_")
}

// Session owns one job's on-disk state: its id, its directories, and
// whether it is newly created or being resumed.
type Session struct {
	Job         config.Job
	BaseDir     string
	ID          string
	SessionDir  string
	DownloadDir string
	IsNew       bool
	IsLive      bool
}

// New computes a session's identity and directory layout for job, without
// touching the filesystem beyond checking whether the session directory
// already exists. Call Initialize to create the directories.
func New(job config.Job, baseDir string) (*Session, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("session: resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".satfetch")
	}

	id, err := computeID(job)
	if err != nil {
		return nil, fmt.Errorf("session: compute id: %w", err)
	}

	sessionDir := filepath.Join(baseDir, "sessions", id)
	downloadDir := filepath.Join(baseDir, "downloads", sanitizeDirname(job.Collection))

	_, statErr := os.Stat(sessionDir)
	isNew := os.IsNotExist(statErr)

	s := &Session{
		Job:         job,
		BaseDir:     baseDir,
		ID:          id,
		SessionDir:  sessionDir,
		DownloadDir: downloadDir,
		IsNew:       isNew,
	}
	s.IsLive = s.checkLive()
	return s, nil
}

func (s *Session) checkLive() bool {
	if s.Job.Filters.DtEnd == nil {
		return true
	}
	return s.Job.Filters.DtEnd.After(time.Now().UTC().Add(-LiveThreshold))
}

// computeID hashes the canonicalized job config (credentials are never part
// of config.Job) into a 12-character hex session id. The same config always
// produces the same id, which is what makes automatic resumption possible.
func computeID(job config.Job) (string, error) {
	canonical, err := canonicalJSON(job)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:12], nil
}

// canonicalJSON marshals job to JSON with map keys sorted, matching the
// original implementation's json.dumps(sort_keys=True). encoding/json
// already sorts map keys; we round-trip through a generic value so struct
// field order doesn't leak into the hash via Go's declaration order, and so
// pointer/time fields serialize to plain strings like the original's
// _sanitize_for_json.
func canonicalJSON(job config.Job) ([]byte, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	sorted := sortKeys(generic)
	return json.Marshal(sorted)
}

func sortKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortKeys(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return v
	}
}

// Initialize creates the session and download directories (idempotent) and
// writes the frozen job config on first creation only.
func (s *Session) Initialize() error {
	if err := os.MkdirAll(s.SessionDir, 0o755); err != nil {
		return fmt.Errorf("session: create session dir: %w", err)
	}
	if err := os.MkdirAll(s.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("session: create download dir: %w", err)
	}

	if _, err := os.Stat(s.ConfigPath()); os.IsNotExist(err) {
		raw, err := json.Marshal(s.Job)
		if err != nil {
			return fmt.Errorf("session: marshal frozen config: %w", err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("session: marshal frozen config: %w", err)
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return fmt.Errorf("session: marshal frozen config: %w", err)
		}
		if err := os.WriteFile(s.ConfigPath(), out, 0o644); err != nil {
			return fmt.Errorf("session: write frozen config: %w", err)
		}
	}
	return nil
}

// StateDBPath is where this session's SQLite state database lives.
func (s *Session) StateDBPath() string {
	return filepath.Join(s.SessionDir, "state.db")
}

// LogPath is where this session's log file lives.
func (s *Session) LogPath() string {
	return filepath.Join(s.SessionDir, "session.log")
}

// ConfigPath is where this session's frozen config snapshot lives.
func (s *Session) ConfigPath() string {
	return filepath.Join(s.SessionDir, "config.yaml")
}
