// internal/audit/archive.go
package audit

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Archive gzip-compresses day files older than the retention window into an
// Archive/ subdirectory and removes the originals. Returns the number of
// files archived. Today's file is never touched.
func (l *Logger) Archive(retention time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	archiveDir := filepath.Join(l.dir, "Archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}

	cutoff := time.Now().UTC().Add(-retention)
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return 0, fmt.Errorf("glob audit logs: %w", err)
	}

	archived := 0
	for _, file := range files {
		base := filepath.Base(file)
		day, err := time.Parse("2006-01-02.jsonl", base)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		if err := gzipFile(file, filepath.Join(archiveDir, base+".gz")); err != nil {
			return archived, fmt.Errorf("archive %s: %w", base, err)
		}
		if err := os.Remove(file); err != nil {
			return archived, fmt.Errorf("remove archived %s: %w", base, err)
		}
		archived++
	}
	return archived, nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	return gz.Close()
}
