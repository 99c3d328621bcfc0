//go:build windows

package update

import (
	"errors"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"

	apperrors "uplift/internal/errors"
)

// ShellLauncher starts installers through ShellExecute with the runas verb,
// which shows the UAC consent prompt.
type ShellLauncher struct{}

// NewShellLauncher returns the platform launcher.
func NewShellLauncher() Launcher {
	return ShellLauncher{}
}

// Launch runs an .exe directly or an .msi through msiexec /i.
func (ShellLauncher) Launch(installer string, kind ArtifactKind, args []string) error {
	file := installer
	var params []string
	if kind == KindMSI {
		file = "msiexec.exe"
		params = append(params, "/i", windows.EscapeArg(installer))
	}
	for _, a := range args {
		params = append(params, windows.EscapeArg(a))
	}

	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return err
	}
	filePtr, err := windows.UTF16PtrFromString(file)
	if err != nil {
		return err
	}
	paramsPtr, err := windows.UTF16PtrFromString(strings.Join(params, " "))
	if err != nil {
		return err
	}
	dirPtr, err := windows.UTF16PtrFromString(filepath.Dir(installer))
	if err != nil {
		return err
	}

	err = windows.ShellExecute(0, verb, filePtr, paramsPtr, dirPtr, windows.SW_SHOWNORMAL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, windows.ERROR_CANCELLED):
		return apperrors.New(apperrors.CodeElevationDenied, "installer elevation was cancelled", err)
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return apperrors.New(apperrors.CodeElevationDenied, "installer elevation was denied", err)
	case errors.Is(err, windows.ERROR_FILE_NOT_FOUND):
		return apperrors.New(apperrors.CodeCorruptArtifact, "installer not found", err)
	case errors.Is(err, windows.ERROR_SHARING_VIOLATION):
		return apperrors.New(apperrors.CodeIO, "installer is in use", err)
	default:
		return apperrors.New(apperrors.CodeIO, "launch installer", err)
	}
}
