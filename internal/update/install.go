package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// SwapOutcome tells the orchestrator what a failed or successful swap left behind.
type SwapOutcome int

const (
	// SwapUntouched means the installation was never modified.
	SwapUntouched SwapOutcome = iota
	// SwapDone means the new version is in place.
	SwapDone
	// SwapRolledBack means a partial swap was undone.
	SwapRolledBack
	// SwapHandedOff means an external installer took over.
	SwapHandedOff
)

// PlatformInstaller performs the platform-specific part of an install.
type PlatformInstaller interface {
	// Validate runs a shallow structural check of the artifact.
	Validate(artifact string) error
	// Swap puts the artifact's contents in place of the installation.
	Swap(ctx context.Context, ic *InstallContext, artifact string) (SwapOutcome, error)
	// Cleanup runs after a successful swap. Errors are logged, not fatal.
	Cleanup(ic *InstallContext) error
}

// Installed describes a finished install attempt.
type Installed struct {
	ID          string
	State       InstallState
	InstallPath string
	// BackupPath is where the previous version was moved, if anywhere.
	BackupPath string
	Elevated   bool
	// HandedOff is true when an external installer finishes the job.
	HandedOff bool
}

// Orchestrator drives the install state machine for one application.
type Orchestrator struct {
	appName     string
	installPath string
	tmpRoot     string
	installer   PlatformInstaller
	journal     *Journal
}

// NewOrchestrator creates an orchestrator. tmpRoot is the parent of work
// directories ("" means the OS temp dir); an artifact's directory is
// removed after an install only when it is a work directory there.
// journal may be nil.
func NewOrchestrator(appName, installPath, tmpRoot string, installer PlatformInstaller, journal *Journal) *Orchestrator {
	return &Orchestrator{
		appName:     appName,
		installPath: installPath,
		tmpRoot:     tmpRoot,
		installer:   installer,
		journal:     journal,
	}
}

// Install validates artifactPath and swaps it into place.
//
// On success the state is Completed. On failure the returned error carries a
// code and the Installed value reports RolledBack (installation restored) or
// Failed (installation untouched, or inconsistent after rollback_failure).
// The work directory holding the artifact is removed at any terminal state
// except an external installer hand-off.
func (o *Orchestrator) Install(ctx context.Context, artifactPath string) (*Installed, error) {
	ic := o.newContext(ctx, artifactPath)
	result := func() *Installed {
		return &Installed{
			ID:          ic.ID,
			State:       ic.state,
			InstallPath: ic.InstallPath,
			BackupPath:  ic.BackupPath,
			Elevated:    ic.Elevated,
		}
	}

	fail := func(err error) (*Installed, error) {
		_ = ic.advanceWithError(StateFailed, err)
		if !apperrors.Recoverable(err) {
			debug.Alertf("installation at %s may be inconsistent: %v", ic.InstallPath, err)
			if ic.BackupPath != "" {
				debug.Alertf("the previous version is kept at %s; move it back to %s to recover", ic.BackupPath, ic.InstallPath)
			}
		}
		o.removeWorkDir(ic)
		return result(), err
	}

	info, err := os.Stat(artifactPath)
	if err != nil || info.IsDir() || info.Size() == 0 {
		if err == nil {
			err = fmt.Errorf("%s is empty or not a file", artifactPath)
		}
		return fail(apperrors.New(apperrors.CodeCorruptArtifact, "artifact unavailable", err))
	}
	if err := ic.advance(StateDownloaded); err != nil {
		return fail(err)
	}

	if err := ic.advance(StateValidating); err != nil {
		return fail(err)
	}
	if err := o.installer.Validate(artifactPath); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			err = apperrors.New(apperrors.CodeCorruptArtifact, "validate artifact", err)
		}
		return fail(err)
	}

	if err := ctx.Err(); err != nil {
		return fail(apperrors.New(apperrors.CodeIO, "install cancelled before swap", err))
	}
	if err := ic.advance(StateSwapping); err != nil {
		return fail(err)
	}

	outcome, err := o.installer.Swap(ctx, ic, artifactPath)
	if err != nil {
		if outcome == SwapRolledBack && apperrors.Recoverable(err) {
			_ = ic.advanceWithError(StateRolledBack, err)
			o.removeWorkDir(ic)
			return result(), err
		}
		return fail(err)
	}

	if err := ic.advance(StateSwapped); err != nil {
		return fail(err)
	}
	_ = ic.advance(StateCleaningUp)
	if outcome != SwapHandedOff {
		if err := o.installer.Cleanup(ic); err != nil {
			debug.Logf("install %s: cleanup: %v", ic.ID, err)
		}
	}
	_ = ic.advance(StateCompleted)

	installed := result()
	installed.HandedOff = outcome == SwapHandedOff
	if installed.HandedOff {
		debug.Logf("install %s: keeping %s for the external installer", ic.ID, ic.WorkDir)
	} else {
		o.removeWorkDir(ic)
	}
	return installed, nil
}

// newContext builds the context for an attempt, continuing the journal row
// that created the artifact's work directory when there is one.
func (o *Orchestrator) newContext(ctx context.Context, artifactPath string) *InstallContext {
	ic := &InstallContext{
		ID:          uuid.NewString(),
		AppName:     o.appName,
		WorkDir:     filepath.Dir(artifactPath),
		InstallPath: o.installPath,
		state:       StateIdle,
	}
	if o.journal == nil {
		return ic
	}

	if attempt, ok, err := o.journal.FindByWorkDir(ctx, ic.WorkDir); err != nil {
		debug.Logf("install: journal lookup for %s: %v", ic.WorkDir, err)
	} else if ok && !attempt.State.Terminal() && attempt.State <= StateDownloaded {
		ic.ID = attempt.ID
		ic.TargetVersion = attempt.TargetVersion
	} else if err := o.journal.Begin(ctx, Attempt{ID: ic.ID, App: o.appName, WorkDir: ic.WorkDir}); err != nil {
		debug.Logf("install: journal begin %s: %v", ic.ID, err)
	}

	ic.observer = func(ic *InstallContext, cause error) {
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		// The journal is bookkeeping; it never aborts an install.
		if err := o.journal.Record(context.WithoutCancel(ctx), ic.ID, ic.state, ic.BackupPath, msg); err != nil {
			debug.Logf("install %s: journal record: %v", ic.ID, err)
		}
	}
	return ic
}

// removeWorkDir deletes the attempt's work directory. Only directories the
// updater created are removed.
func (o *Orchestrator) removeWorkDir(ic *InstallContext) {
	if !removeWorkDir(o.tmpRoot, o.appName, ic.WorkDir) {
		debug.Logf("install %s: left %s in place", ic.ID, ic.WorkDir)
	}
}
