package update

import (
	"os"
	"os/exec"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// Relauncher starts the freshly installed application and exits the
// current process. Callers must stop their own background work first.
type Relauncher struct {
	target      PlatformTarget
	installPath string
	executable  string
	handedOff   bool

	// start spawns a detached process; exit ends this one. Tests replace both.
	start func(name string, args ...string) error
	exit  func(code int)
}

func startDetached(name string, args ...string) error {
	//nolint:gosec // G204: relaunching the application's own executable
	cmd := exec.Command(name, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Relaunch spawns the new version and exits with status 0. It returns only
// when the spawn fails.
func (r *Relauncher) Relaunch() error {
	switch {
	case r.handedOff:
		// The external installer restarts the application itself.
		debug.Log("relaunch: installer took over, exiting")
	case r.target.OS == OSMacOS:
		debug.Logf("relaunch: open -n %s", r.installPath)
		if err := r.start("open", "-n", r.installPath); err != nil {
			return apperrors.New(apperrors.CodeIO, "relaunch application", err)
		}
	case r.target.OS == OSWindows:
		debug.Logf("relaunch: %s", r.executable)
		if err := r.start(r.executable); err != nil {
			return apperrors.New(apperrors.CodeIO, "relaunch application", err)
		}
	default:
		return apperrors.New(apperrors.CodeUnsupported, "relaunch is not supported on "+string(r.target.OS), nil)
	}
	debug.Close()
	r.exit(0)
	return nil
}

func newRelauncher(target PlatformTarget, installPath, executable string, handedOff bool) *Relauncher {
	return &Relauncher{
		target:      target,
		installPath: installPath,
		executable:  executable,
		handedOff:   handedOff,
		start:       startDetached,
		exit:        os.Exit,
	}
}
