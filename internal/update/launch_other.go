//go:build !windows

package update

import apperrors "uplift/internal/errors"

// ShellLauncher is only functional on Windows.
type ShellLauncher struct{}

// NewShellLauncher returns the platform launcher.
func NewShellLauncher() Launcher {
	return ShellLauncher{}
}

// Launch always fails off Windows.
func (ShellLauncher) Launch(string, ArtifactKind, []string) error {
	return apperrors.New(apperrors.CodeUnsupported, "installer hand-off requires Windows", nil)
}
