package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"

	apperrors "uplift/internal/errors"
	"uplift/internal/update"
)

const notesWidth = 80

var writeClipboard = clipboard.WriteAll

var (
	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	versionStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	okStyle = lipgloss.NewStyle().
			Foreground(successColor)

	warnStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	failStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)
)

// style renders s with st unless output is plain.
func (a *app) style(st lipgloss.Style, s string) string {
	if a.plain {
		return s
	}
	return st.Render(s)
}

// renderNotes formats release notes as markdown, or word-wrapped text in
// plain mode or when the renderer fails.
func renderNotes(notes string, width int, plain bool) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ""
	}
	fallback := func(input string) string {
		return wordwrap.String(input, width)
	}
	if plain {
		return fallback(notes)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fallback(notes)
	}
	out, err := renderer.Render(notes)
	if err != nil {
		return fallback(notes)
	}
	return strings.TrimSpace(out)
}

// truncateName shortens long asset names to width terminal cells.
func truncateName(name string, width int) string {
	return ansi.Truncate(name, width, "…")
}

// formatBytes formats a byte count with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// printResolution reports the outcome of a release check.
func (a *app) printResolution(w io.Writer, u *update.Updater, res update.Resolution, notes bool) {
	current := u.CurrentVersion()
	switch res.Status {
	case update.StatusUpToDate:
		_, _ = fmt.Fprintf(w, "%s %s\n",
			a.style(okStyle, "✓ Up to date"),
			a.style(versionStyle, fmt.Sprintf("(%s on %s)", current, u.Target())))
	case update.StatusIncompatible:
		_, _ = fmt.Fprintf(w, "%s %s is available but has no asset for %s\n",
			a.style(warnStyle, "!"), res.Latest.Version, u.Target())
	case update.StatusAvailable:
		plan := res.Plan
		_, _ = fmt.Fprintf(w, "%s %s → %s\n",
			a.style(headingStyle, "Update available:"), current, plan.Target)
		size := ""
		if plan.Asset.Size > 0 {
			size = " (" + formatBytes(plan.Asset.Size) + ")"
		}
		_, _ = fmt.Fprintf(w, "  %s %s%s\n", a.style(versionStyle, "asset"), truncateName(plan.Asset.Name, 60), size)
		if notes {
			if rendered := renderNotes(plan.Release.Notes, notesWidth, a.plain); rendered != "" {
				_, _ = fmt.Fprintf(w, "\n%s\n", rendered)
			}
		}
	}
}

// printInstalled reports an install result. For a failed rollback it also
// prints the command that restores the previous version and tries to copy
// it to the clipboard.
func (a *app) printInstalled(w io.Writer, installed *update.Installed, err error) {
	if err == nil {
		switch {
		case installed.HandedOff:
			_, _ = fmt.Fprintf(w, "%s the installer is running and will finish the update\n", a.style(okStyle, "✓"))
		default:
			_, _ = fmt.Fprintf(w, "%s installed to %s\n", a.style(okStyle, "✓"), installed.InstallPath)
		}
		return
	}
	if installed == nil {
		return
	}

	switch {
	case installed.State == update.StateRolledBack:
		_, _ = fmt.Fprintf(w, "%s update failed; the previous version was restored\n", a.style(warnStyle, "!"))
	case apperrors.IsCode(err, apperrors.CodeRollbackFailure):
		_, _ = fmt.Fprintf(w, "%s update failed and the previous version could not be restored\n", a.style(failStyle, "✗"))
		if installed.BackupPath == "" {
			return
		}
		restore := fmt.Sprintf("sudo mv %s %s", shellArg(installed.BackupPath), shellArg(installed.InstallPath))
		_, _ = fmt.Fprintf(w, "  To recover, run:\n    %s\n", restore)
		if a.clipboard != nil {
			if cerr := a.clipboard(restore); cerr == nil {
				_, _ = fmt.Fprintln(w, a.style(versionStyle, "  (copied to clipboard)"))
			}
		}
	default:
		_, _ = fmt.Fprintf(w, "%s update failed; %s was not changed\n", a.style(warnStyle, "!"), installed.InstallPath)
	}
}

// shellArg quotes s for a POSIX shell when it needs quoting.
func shellArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (a *app) printSweep(w io.Writer, report update.SweepReport) {
	_, _ = fmt.Fprintf(w, "Removed %d work director%s, closed %d abandoned attempt%s\n",
		len(report.RemovedWorkDirs), plural(len(report.RemovedWorkDirs), "y", "ies"),
		len(report.Abandoned), plural(len(report.Abandoned), "", "s"))
	for _, dir := range report.RemovedWorkDirs {
		_, _ = fmt.Fprintf(w, "  %s %s\n", a.style(versionStyle, "removed"), dir)
	}
	for _, b := range report.LeftoverBackups {
		_, _ = fmt.Fprintf(w, "  %s %s\n", a.style(warnStyle, "backup still present:"), b)
	}
}

func (a *app) printHistory(w io.Writer, attempts []update.Attempt) {
	if len(attempts) == 0 {
		_, _ = fmt.Fprintln(w, "No update attempts recorded.")
		return
	}
	for _, at := range attempts {
		state := at.State.String()
		switch at.State {
		case update.StateCompleted:
			state = a.style(okStyle, state)
		case update.StateRolledBack:
			state = a.style(warnStyle, state)
		case update.StateFailed:
			state = a.style(failStyle, state)
		}
		target := at.TargetVersion
		if target == "" {
			target = "-"
		}
		line := fmt.Sprintf("%s  %-10s %-20s %s", shortID(at.ID), target, state, at.UpdatedAt.Format("2006-01-02 15:04"))
		if at.Error != "" {
			line += "  " + a.style(versionStyle, truncateName(at.Error, 60))
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
