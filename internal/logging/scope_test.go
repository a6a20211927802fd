package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, s *Scope) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(s.Dir(), "log.txt"))
	require.NoError(t, err)
	return string(raw)
}

func TestScopeCreatesDirectory(t *testing.T) {
	base := t.TempDir()
	s, err := NewScope("room-x", base, nil, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, strings.HasSuffix(s.Dir(), "-room-x"))
	assert.Equal(t, base, filepath.Dir(s.Dir()))
}

func TestScopeFiltersLevels(t *testing.T) {
	s, err := NewScope("room-x", t.TempDir(), []string{LevelSystem, LevelError}, []string{KindText})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	s.Log(LevelSystem, "kept system line")
	s.Log(LevelAPI, "dropped apicall line")
	s.Logf(LevelError, "kept %s line", "error")

	content := readLog(t, s)
	assert.Contains(t, content, "kept system line")
	assert.Contains(t, content, "kept error line")
	assert.NotContains(t, content, "dropped apicall line")
	assert.Contains(t, content, "[SYSTEM]")
	assert.Contains(t, content, "[ERROR]")
}

func TestScopeEmptySetsEnableEverything(t *testing.T) {
	s, err := NewScope("room-x", t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	s.Log(LevelDebug, "debug line")
	s.Log(LevelWS, "wscall line")

	content := readLog(t, s)
	assert.Contains(t, content, "debug line")
	assert.Contains(t, content, "wscall line")
}

func TestScopeMoveFileAdoptsFile(t *testing.T) {
	s, err := NewScope("room-x", t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	src := filepath.Join(t.TempDir(), "upload.obj")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, s.MoveFile(LevelSystem, src))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be gone after adoption")

	moved, err := os.ReadFile(filepath.Join(s.Dir(), "upload.obj"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(moved))

	assert.Contains(t, readLog(t, s), "upload.obj")
}

func TestScopeMoveFileFilteredOutLeavesSource(t *testing.T) {
	s, err := NewScope("room-x", t.TempDir(), nil, []string{KindText})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	src := filepath.Join(t.TempDir(), "upload.obj")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, s.MoveFile(LevelSystem, src))

	_, err = os.Stat(src)
	assert.NoError(t, err, "filtered adoption must leave the source in place")
	_, err = os.Stat(filepath.Join(s.Dir(), "upload.obj"))
	assert.True(t, os.IsNotExist(err))
}

func TestScopeTextKindDisabledSkipsLogFile(t *testing.T) {
	s, err := NewScope("room-x", t.TempDir(), nil, []string{KindFile})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	s.Log(LevelSystem, "line")

	_, err = os.Stat(filepath.Join(s.Dir(), "log.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestTimestampFormat(t *testing.T) {
	ts := Timestamp()
	require.Len(t, ts, 15)
	assert.Equal(t, byte('T'), ts[8])
}
