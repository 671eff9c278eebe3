package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satfetch/satfetch/internal/config"
)

func testJob() config.Job {
	return config.Job{
		Name:       "test-job",
		Collection: "EO:EUM:DAT:MSG:HRSEVIRI",
		Download:   config.DefaultDownload(),
	}
}

func TestSameConfigProducesSameID(t *testing.T) {
	base := t.TempDir()
	s1, err := New(testJob(), base)
	require.NoError(t, err)
	s2, err := New(testJob(), base)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Len(t, s1.ID, 12)
}

func TestDifferentConfigProducesDifferentID(t *testing.T) {
	base := t.TempDir()
	job2 := testJob()
	job2.Collection = "EO:EUM:DAT:MSG:OTHER"

	s1, err := New(testJob(), base)
	require.NoError(t, err)
	s2, err := New(job2, base)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
}

func TestIsNewBeforeAndAfterInitialize(t *testing.T) {
	base := t.TempDir()
	s, err := New(testJob(), base)
	require.NoError(t, err)
	assert.True(t, s.IsNew)

	require.NoError(t, s.Initialize())

	s2, err := New(testJob(), base)
	require.NoError(t, err)
	assert.False(t, s2.IsNew)
}

func TestInitializeCreatesDirsAndFrozenConfig(t *testing.T) {
	base := t.TempDir()
	s, err := New(testJob(), base)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())

	assert.DirExists(t, s.SessionDir)
	assert.DirExists(t, s.DownloadDir)
	assert.FileExists(t, s.ConfigPath())
}

func TestInitializeDoesNotOverwriteExistingFrozenConfig(t *testing.T) {
	base := t.TempDir()
	s, err := New(testJob(), base)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())

	original, err := os.ReadFile(s.ConfigPath())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.ConfigPath(), append(original, []byte("\n# tampered\n")...), 0o644))
	require.NoError(t, s.Initialize())

	after, err := os.ReadFile(s.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(after), "tampered")
}

func TestIsLiveWhenNoDtend(t *testing.T) {
	base := t.TempDir()
	s, err := New(testJob(), base)
	require.NoError(t, err)
	assert.True(t, s.IsLive)
}

func TestIsLiveWhenDtendRecent(t *testing.T) {
	base := t.TempDir()
	job := testJob()
	recent := time.Now().UTC().Add(-1 * time.Hour)
	job.Filters.DtEnd = &recent

	s, err := New(job, base)
	require.NoError(t, err)
	assert.True(t, s.IsLive)
}

func TestIsLiveFalseWhenDtendOld(t *testing.T) {
	base := t.TempDir()
	job := testJob()
	old := time.Now().UTC().Add(-48 * time.Hour)
	job.Filters.DtEnd = &old

	s, err := New(job, base)
	require.NoError(t, err)
	assert.False(t, s.IsLive)
}

func TestSanitizeDirnameStripsInvalidChars(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeDirname("a/b:c"))
}

func TestDownloadDirUsesSanitizedCollection(t *testing.T) {
	base := t.TempDir()
	job := testJob()
	job.Collection = `bad/name:here`
	s, err := New(job, base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "downloads", "bad_name_here"), s.DownloadDir)
}
