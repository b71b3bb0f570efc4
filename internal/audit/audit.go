// internal/audit/audit.go
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one append-only audit record. Entries are write-once; sensitive
// parameter values are redacted before they ever reach disk.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Target     string         `json:"target,omitempty"`
	Result     string         `json:"result"`
	Params     map[string]any `json:"params,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Filter specifies criteria for querying audit entries.
type Filter struct {
	Since  *time.Time
	Until  *time.Time
	Action string
	Actor  string
	Result string
	Limit  int
}

// Logger writes audit entries to per-day JSONL files under dir.
type Logger struct {
	dir string
	mu  sync.Mutex
}

// New creates a Logger writing to the given directory.
func New(dir string) *Logger {
	return &Logger{dir: dir}
}

func (l *Logger) dayFile(t time.Time) string {
	return filepath.Join(l.dir, t.UTC().Format("2006-01-02")+".jsonl")
}

// Record appends an entry to today's log file. The write is strictly
// best-effort: a failing audit write must never abort the operation being
// logged, so errors are reported via slog and swallowed.
func (l *Logger) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Params = Sanitize(e.Params)

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		slog.Warn("audit write failed", "error", err)
		return
	}
	f, err := os.OpenFile(l.dayFile(e.Timestamp), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("audit write failed", "error", err)
		return
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		slog.Warn("audit marshal failed", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		slog.Warn("audit write failed", "error", err)
	}
}

// Query scans the day files newest-first and returns entries matching the
// filter, up to filter.Limit (100 when unset). Malformed lines are skipped.
func (l *Logger) Query(filter Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("glob audit logs: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	var matches []Entry
	for _, file := range files {
		entries, err := readDayFile(file)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !matchesFilter(e, filter) {
				continue
			}
			matches = append(matches, e)
			if len(matches) >= limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}

func readDayFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func matchesFilter(e Entry, f Filter) bool {
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Result != "" && !strings.Contains(e.Result, f.Result) {
		return false
	}
	return true
}
