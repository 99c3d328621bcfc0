package update

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

var (
	peMagic  = []byte("MZ")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Launcher starts an installer with elevation and returns once it is running.
type Launcher interface {
	Launch(installer string, kind ArtifactKind, args []string) error
}

// windowsInstaller hands the installer artifact to the OS and steps aside.
// A running executable cannot replace itself, so the external installer
// does the swap and the restart.
type windowsInstaller struct {
	launcher Launcher
	args     []string
}

func newWindowsInstaller(launcher Launcher, args []string) *windowsInstaller {
	return &windowsInstaller{launcher: launcher, args: args}
}

// Validate checks the PE or OLE compound-file signature.
func (w *windowsInstaller) Validate(artifact string) error {
	var magic []byte
	switch kind := KindOf(artifact); kind {
	case KindEXE:
		magic = peMagic
	case KindMSI:
		magic = oleMagic
	default:
		return apperrors.New(apperrors.CodeUnsupported, fmt.Sprintf("cannot install %s artifacts on Windows", kind), nil)
	}

	//nolint:gosec // G304: artifact is inside the work directory
	f, err := os.Open(artifact)
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "open installer", err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "read installer header", err)
	}
	if !bytes.Equal(head, magic) {
		return apperrors.New(apperrors.CodeCorruptArtifact, "installer signature does not match its extension", nil)
	}
	return nil
}

// Swap launches the installer through the runas verb. Nothing belonging to
// the running application is touched, so every failure leaves it intact.
func (w *windowsInstaller) Swap(ctx context.Context, ic *InstallContext, artifact string) (SwapOutcome, error) {
	if err := ctx.Err(); err != nil {
		return SwapUntouched, apperrors.New(apperrors.CodeIO, "install cancelled before launch", err)
	}
	if err := ic.advance(StateElevationRequested); err != nil {
		return SwapUntouched, err
	}
	ic.Elevated = true

	debug.Logf("install %s: launching %s with runas", ic.ID, artifact)
	if err := w.launcher.Launch(artifact, KindOf(artifact), w.args); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			err = apperrors.New(apperrors.CodeIO, "launch installer", err)
		}
		return SwapUntouched, err
	}
	return SwapHandedOff, nil
}

// Cleanup is a no-op: the installer still reads from the work directory.
func (w *windowsInstaller) Cleanup(*InstallContext) error {
	return nil
}
