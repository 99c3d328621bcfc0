package update

import (
	"fmt"
	"os/exec"
	"strings"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// Elevator performs the bundle swap with administrator rights.
// SwapBundle moves installPath to backupPath, moves staged to installPath,
// and removes backupPath. If the second move fails it moves the backup
// back before returning an error.
type Elevator interface {
	SwapBundle(staged, installPath, backupPath string) error
}

// AppleScriptElevator asks for administrator rights through the standard
// macOS authorization dialog via osascript.
type AppleScriptElevator struct {
	// run executes an AppleScript source. Tests replace it.
	run func(script string) ([]byte, error)
}

// NewAppleScriptElevator returns an elevator backed by /usr/bin/osascript.
func NewAppleScriptElevator() *AppleScriptElevator {
	return &AppleScriptElevator{run: runOsascript}
}

func runOsascript(script string) ([]byte, error) {
	//nolint:gosec // G204: script is built from quoted paths only
	return exec.Command("/usr/bin/osascript", "-e", script).CombinedOutput()
}

// SwapBundle runs the move pair in one privileged shell.
func (e *AppleScriptElevator) SwapBundle(staged, installPath, backupPath string) error {
	script := swapScript(staged, installPath, backupPath)
	debug.Logf("elevate: requesting administrator rights to replace %s", installPath)
	out, err := e.run(script)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "-128") || strings.Contains(strings.ToLower(msg), "user canceled") {
			return apperrors.New(apperrors.CodeElevationDenied, "administrator prompt was cancelled", err)
		}
		return apperrors.New(apperrors.CodeElevationDenied, fmt.Sprintf("privileged swap failed: %s", msg), err)
	}
	return nil
}

// swapScript builds the AppleScript for SwapBundle. The shell part
// restores the backup itself when the second move fails.
func swapScript(staged, installPath, backupPath string) string {
	src, dst, bak := shellQuote(staged), shellQuote(installPath), shellQuote(backupPath)
	shell := fmt.Sprintf(
		"if [ -e %[2]s ]; then mv -f %[2]s %[3]s || exit 1; fi; "+
			"if mv -f %[1]s %[2]s; then rm -rf %[3]s; "+
			"else if [ -e %[3]s ]; then mv -f %[3]s %[2]s; fi; exit 1; fi",
		src, dst, bak)
	return fmt.Sprintf("do shell script %s with administrator privileges", appleScriptString(shell))
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// appleScriptString renders s as an AppleScript string literal.
func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
