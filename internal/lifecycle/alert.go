package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Remediation lists the steps for renewing the bearer token by hand.
var Remediation = []string{
	"Log in to the attendance site in a browser.",
	"Open developer tools and copy the __ModuleSessionCookie value.",
	"Run: punchctl update <token>",
}

// AlertMarker is the persisted credential alert.
type AlertMarker struct {
	Path string
	Now  func() time.Time
}

// NewAlertMarker returns an AlertMarker stored at path.
func NewAlertMarker(path string) *AlertMarker {
	return &AlertMarker{Path: path, Now: time.Now}
}

// Write replaces the marker with a timestamped message followed by the
// remediation steps.
func (a *AlertMarker) Write(reason string) error {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Credential alert at %s\n", now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Reason: %s\n\nTo fix:\n", reason)
	for i, step := range Remediation {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}

	if dir := filepath.Dir(a.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create alert directory: %w", err)
		}
	}
	if err := os.WriteFile(a.Path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write alert file: %w", err)
	}
	return nil
}

// Clear removes the marker. A missing marker is not an error.
func (a *AlertMarker) Clear() (bool, error) {
	err := os.Remove(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove alert file: %w", err)
	}
	return true, nil
}

// Present reports whether the marker exists.
func (a *AlertMarker) Present() bool {
	_, err := os.Stat(a.Path)
	return err == nil
}
