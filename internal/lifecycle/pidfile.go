// Package lifecycle keeps the on-disk markers the daemon uses across runs:
// the PID file that guards against a second instance and the alert file
// that tells an operator the bearer token needs renewal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrAlreadyRunning is returned by Acquire when the recorded process is
// still alive.
var ErrAlreadyRunning = errors.New("service is already running")

// Prober reports whether a process with the given id is alive.
type Prober func(ctx context.Context, pid int32) (bool, error)

// PIDFile is the process liveness marker.
type PIDFile struct {
	Path  string
	Alive Prober
	pid   int
}

// NewPIDFile returns a PIDFile probing liveness through the process table.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path, Alive: process.PidExistsWithContext}
}

// Acquire records the current process. A record naming a live process other
// than this one yields ErrAlreadyRunning; a stale or unreadable record is
// discarded.
func (p *PIDFile) Acquire(ctx context.Context) error {
	if pid, ok := p.recorded(); ok && pid != os.Getpid() {
		alive, err := p.Alive(ctx, int32(pid))
		if err != nil {
			return fmt.Errorf("failed to probe pid %d: %w", pid, err)
		}
		if alive {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
	}

	if dir := filepath.Dir(p.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create pid directory: %w", err)
		}
	}
	p.pid = os.Getpid()
	if err := os.WriteFile(p.Path, []byte(strconv.Itoa(p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Recorded returns the pid held by the file, if any.
func (p *PIDFile) Recorded() (int, bool) {
	return p.recorded()
}

func (p *PIDFile) recorded() (int, bool) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Release removes the record if it still names this process.
func (p *PIDFile) Release() error {
	if p.pid == 0 {
		return nil
	}
	if pid, ok := p.recorded(); ok && pid != p.pid {
		return nil
	}
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	p.pid = 0
	return nil
}
