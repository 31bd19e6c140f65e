package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iosweep/iosweep/internal/launcher"
)

// StampFormat is the layout of the batch timestamp in run log names.
const StampFormat = "20060102-150405"

// stderrMarker separates captured stdout from stderr in a run log.
const stderrMarker = "\nSTDERR:\n"

// RunLog writes the raw output of every run to its own file. All files of
// one sweep share the batch timestamp and process id.
type RunLog struct {
	Dir   string
	Stamp string
	PID   int
}

// NewRunLog creates a run log rooted at dir for a batch started at now.
func NewRunLog(dir string, now time.Time) *RunLog {
	return &RunLog{
		Dir:   dir,
		Stamp: now.Format(StampFormat),
		PID:   os.Getpid(),
	}
}

// Name returns the file name for the run of cfg.
func (l *RunLog) Name(cfg RunConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s_%s_ppn%d_nodes%d", l.Stamp, cfg.Mode, cfg.PPN, cfg.NodeCount)
	if cfg.Mode == launcher.ModeIOR {
		fmt.Fprintf(&b, "_t%s_b%s", cfg.TransferSize, cfg.BlockSize)
	}
	fmt.Fprintf(&b, "_pid%d.log", l.PID)
	return b.String()
}

// Write stores stdout, followed by stderr when non-empty, and returns the
// file path.
func (l *RunLog) Write(cfg RunConfig, stdout, stderr string) (string, error) {
	if l.Dir != "" {
		if err := os.MkdirAll(l.Dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	path := filepath.Join(l.Dir, l.Name(cfg))
	content := stdout
	if stderr != "" {
		content += stderrMarker + stderr
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write run log: %w", err)
	}
	return path, nil
}
