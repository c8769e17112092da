package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyFile is an io.Writer that appends to dir/claude-mem-YYYY-MM-DD.log,
// reopening a new file at the first write after local midnight (spec.md
// §6's "logs/claude-mem-YYYY-MM-DD.log ... newline-delimited"). The teacher's
// own main.go logs to stdout only; this is the daemon-mode file sink
// SPEC_FULL.md's ambient stack section calls out explicitly.
type DailyFile struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	day     string
	file    *os.File
}

// NewDailyFile creates dir if needed and returns a DailyFile writing under
// it. now defaults to time.Now.
func NewDailyFile(dir string, now func() time.Time) (*DailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("observability: create log dir %s: %w", dir, err)
	}
	if now == nil {
		now = time.Now
	}
	return &DailyFile{dir: dir, now: now}, nil
}

// Write implements io.Writer, rotating to a new day's file as needed.
func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := d.now().Format("2006-01-02")
	if d.file == nil || day != d.day {
		if d.file != nil {
			_ = d.file.Close()
		}
		path := filepath.Join(d.dir, fmt.Sprintf("claude-mem-%s.log", day))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("observability: open %s: %w", path, err)
		}
		d.file = f
		d.day = day
	}
	return d.file.Write(p)
}

// Close closes the currently open log file, if any.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
