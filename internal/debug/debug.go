// Package debug is uplift's diagnostic log. Nothing is written unless
// debugging is switched on (--debug or debug: true), in which case every
// line goes to ~/.uplift/debug.log, which each run starts afresh.
// Alertf is the exception: it always reaches stderr, enabled or not.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// LogFileName is the name of the debug log file.
	LogFileName = "debug.log"
	// LogDirName is the directory under the user's home holding the log.
	LogDirName = ".uplift"
)

// sink is the process-wide log destination.
type sink struct {
	mu      sync.RWMutex
	enabled bool
	logger  *log.Logger
	file    *os.File
}

var (
	current sink

	// getLogPath is swapped by tests.
	getLogPath = defaultGetLogPath

	// alertOut receives Alertf output regardless of the enabled flag.
	alertOut io.Writer = os.Stderr
)

// Init switches logging on or off. Turning it on creates the log
// directory and truncates the log file; if that fails logging stays off.
// An open log from an earlier Init is closed first.
func Init(enable bool) error {
	current.mu.Lock()
	defer current.mu.Unlock()

	current.closeFile()
	current.enabled = false
	current.logger = nil
	if !enable {
		return nil
	}

	path, err := getLogPath()
	if err != nil {
		return fmt.Errorf("determine log path: %w", err)
	}
	f, err := openTruncated(path)
	if err != nil {
		return err
	}
	current.file = f
	current.enabled = true
	current.logger = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	current.logger.Printf("=== uplift debug log started at %s (pid %d) ===", time.Now().Format(time.RFC3339), os.Getpid())
	return nil
}

// openTruncated creates path's directory if needed and opens path empty.
func openTruncated(path string) (*os.File, error) {
	//nolint:gosec // G301: user config directory uses standard permissions
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	//nolint:gosec // G304: the path comes from the user's home, not input
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func (s *sink) closeFile() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

// Close closes the log file. Calling it more than once, or with logging
// disabled, is fine.
func Close() {
	current.mu.Lock()
	defer current.mu.Unlock()
	current.closeFile()
	current.logger = nil
}

// emit hands a finished line to the logger when logging is on.
func emit(line func() string) {
	current.mu.RLock()
	defer current.mu.RUnlock()
	if !current.enabled || current.logger == nil {
		return
	}
	current.logger.Print(line())
}

// Log writes its arguments in the manner of fmt.Print.
func Log(v ...any) {
	emit(func() string { return fmt.Sprint(v...) })
}

// Logf writes a formatted line in the manner of fmt.Printf.
func Logf(format string, v ...any) {
	emit(func() string { return fmt.Sprintf(format, v...) })
}

// Alertf reports a condition the user must see, such as an installation left
// inconsistent by a failed rollback. The message goes to stderr and, when
// enabled, to the debug log.
func Alertf(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	if alertOut != nil {
		_, _ = fmt.Fprintf(alertOut, "uplift: %s\n", msg)
	}
	emit(func() string { return "ALERT: " + msg })
}

// Enabled reports whether debug logging is on.
func Enabled() bool {
	current.mu.RLock()
	defer current.mu.RUnlock()
	return current.enabled
}

func defaultGetLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, LogDirName, LogFileName), nil
}

// GetLogPath returns where the debug log is written.
func GetLogPath() (string, error) {
	return getLogPath()
}
