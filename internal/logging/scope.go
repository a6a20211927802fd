package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Log levels understood by a Scope. They are categories rather than
// severities: a scope is configured with the set of levels it keeps.
const (
	LevelSystem = "system"
	LevelAPI    = "apicall"
	LevelWS     = "wscall"
	LevelError  = "error"
	LevelDebug  = "debug"
)

// Log kinds. "text" appends a line to the scope's log.txt, "file" adopts
// a file into the scope's directory.
const (
	KindText = "text"
	KindFile = "file"
)

// Scope is an append-only log sink bound to one directory, typically one
// per room plus one for the process. Events outside the configured level
// or kind sets are dropped.
type Scope struct {
	name   string
	dir    string
	levels map[string]bool
	kinds  map[string]bool

	mu   sync.Mutex
	file *os.File
}

// NewScope creates a log directory <baseDir>/<timestamp>-<name> and
// returns a sink writing into it. An empty levels or kinds slice enables
// everything.
func NewScope(name, baseDir string, levels, kinds []string) (*Scope, error) {
	dir := filepath.Join(baseDir, fmt.Sprintf("%s-%s", Timestamp(), name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	s := &Scope{
		name:   name,
		dir:    dir,
		levels: toSet(levels),
		kinds:  toSet(kinds),
	}

	if s.kindEnabled(KindText) {
		f, err := os.OpenFile(filepath.Join(dir, "log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		s.file = f
	}

	return s, nil
}

// Dir returns the scope's log directory.
func (s *Scope) Dir() string {
	return s.dir
}

// Log records a text event at the given level.
func (s *Scope) Log(level, msg string) {
	if !s.levelEnabled(level) {
		return
	}

	if s.kindEnabled(KindText) {
		s.mu.Lock()
		if s.file != nil {
			line := fmt.Sprintf("%s [%s] %s\n", Timestamp(), strings.ToUpper(level), msg)
			_, _ = s.file.WriteString(line)
		}
		s.mu.Unlock()
	}

	fields := []zap.Field{zap.String("scope", s.name), zap.String("level", level)}
	if level == LevelError {
		Error(msg, fields...)
	} else {
		Info(msg, fields...)
	}
}

// Logf records a formatted text event at the given level.
func (s *Scope) Logf(level, format string, args ...interface{}) {
	s.Log(level, fmt.Sprintf(format, args...))
}

// MoveFile adopts the file at src into the scope's directory and records
// the move. The event is dropped (and src left in place) when the level
// is filtered out or the "file" kind is disabled.
func (s *Scope) MoveFile(level, src string) error {
	if !s.levelEnabled(level) || !s.kindEnabled(KindFile) {
		return nil
	}

	dst := filepath.Join(s.dir, filepath.Base(src))
	if err := os.Rename(src, dst); err != nil {
		// Rename fails across filesystems; fall back to copy+remove.
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to adopt file %s: %w", src, err)
		}
		_ = os.Remove(src)
	}

	s.Log(level, fmt.Sprintf("file stored: %s", filepath.Base(src)))
	return nil
}

// Close releases the underlying log file.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Scope) levelEnabled(level string) bool {
	if len(s.levels) == 0 {
		return true
	}
	return s.levels[strings.ToLower(level)]
}

func (s *Scope) kindEnabled(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	return s.kinds[kind]
}

// Timestamp returns the compact timestamp used for log lines and
// directory names.
func Timestamp() string {
	return time.Now().Format("20060102T150405")
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}
