package gallery

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one successful login.
type Entry struct {
	Name string
	At   time.Time
}

// AccessLog is the append-only "name,timestamp" login record.
type AccessLog struct {
	path string
	mu   sync.Mutex
}

func NewAccessLog(path string) *AccessLog {
	return &AccessLog{path: path}
}

func (l *AccessLog) Path() string { return l.path }

// Append records a login. Lines are written with O_APPEND so concurrent
// kiosks sharing the file never interleave partial lines.
func (l *AccessLog) Append(name string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open access log: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s,%s\n", name, at.Format(time.RFC3339))
	return err
}

// Entries reads the whole log in file order. A missing log is empty.
func (l *AccessLog) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		i := strings.LastIndex(text, ",")
		if i <= 0 {
			return nil, fmt.Errorf("access log line %d: malformed entry %q", line, text)
		}
		at, err := time.Parse(time.RFC3339, text[i+1:])
		if err != nil {
			return nil, fmt.Errorf("access log line %d: %w", line, err)
		}
		entries = append(entries, Entry{Name: text[:i], At: at})
	}
	return entries, scanner.Err()
}

// Clear truncates the log.
func (l *AccessLog) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := os.Remove(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
