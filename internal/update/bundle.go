package update

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// kolyTrailerSize is the size of the UDIF trailer that ends every .dmg.
const kolyTrailerSize = 512

// bundleInstaller replaces a macOS .app bundle by renaming it aside and
// renaming the new bundle into its place.
type bundleInstaller struct {
	installPath string
	elevator    Elevator
	images      diskImage
	// rename is os.Rename; tests inject failures through it.
	rename func(oldpath, newpath string) error
	now    func() time.Time
}

func newBundleInstaller(installPath string, elevator Elevator) *bundleInstaller {
	return &bundleInstaller{
		installPath: installPath,
		elevator:    elevator,
		images:      hdiutil{},
		rename:      os.Rename,
		now:         time.Now,
	}
}

// Validate checks that a .app.zip holds a bundle with an Info.plist, or
// that a .dmg ends with its koly trailer.
func (b *bundleInstaller) Validate(artifact string) error {
	switch kind := KindOf(artifact); kind {
	case KindAppZip:
		return validateAppZip(artifact)
	case KindDMG:
		return validateDiskImage(artifact)
	default:
		return apperrors.New(apperrors.CodeUnsupported, fmt.Sprintf("cannot install %s artifacts on macOS", kind), nil)
	}
}

func validateAppZip(artifact string) error {
	r, err := zip.OpenReader(artifact)
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "open zip archive", err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		name := strings.TrimPrefix(filepath.ToSlash(f.Name), "./")
		if strings.HasPrefix(name, "__MACOSX/") {
			continue
		}
		if strings.HasSuffix(name, ".app/Contents/Info.plist") {
			return nil
		}
	}
	return apperrors.New(apperrors.CodeCorruptArtifact, "zip archive has no .app bundle with Contents/Info.plist", nil)
}

func validateDiskImage(artifact string) error {
	//nolint:gosec // G304: artifact is inside the work directory
	f, err := os.Open(artifact)
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "open disk image", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "stat disk image", err)
	}
	if info.Size() < kolyTrailerSize {
		return apperrors.New(apperrors.CodeCorruptArtifact, "disk image is truncated", nil)
	}
	trailer := make([]byte, 4)
	if _, err := f.ReadAt(trailer, info.Size()-kolyTrailerSize); err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "read disk image trailer", err)
	}
	if !bytes.Equal(trailer, []byte("koly")) {
		return apperrors.New(apperrors.CodeCorruptArtifact, "disk image has no koly trailer", nil)
	}
	return nil
}

// Swap stages the new bundle and performs the rename pair.
func (b *bundleInstaller) Swap(ctx context.Context, ic *InstallContext, artifact string) (outcome SwapOutcome, err error) {
	staged, err := b.stage(ctx, ic, artifact)
	if err != nil {
		return SwapUntouched, err
	}
	info, err := ReadBundleInfo(staged)
	if err != nil {
		return SwapUntouched, err
	}
	debug.Logf("install %s: staged %s version %s", ic.ID, filepath.Base(staged), info.ShortVersion)

	ic.BackupPath = b.installPath + ".backup"
	if err := b.clearStaleBackup(ic); err != nil {
		return SwapUntouched, err
	}
	colocated, err := b.colocate(ic, staged)
	if err != nil {
		return SwapUntouched, err
	}
	if colocated != staged {
		defer func() {
			if outcome != SwapDone {
				_ = os.RemoveAll(colocated)
			}
		}()
		staged = colocated
	}
	if err := ctx.Err(); err != nil {
		return SwapUntouched, apperrors.New(apperrors.CodeIO, "install cancelled before swap", err)
	}

	// From here on the rename pair runs to completion regardless of ctx.
	existed := pathExists(b.installPath)
	if existed {
		if err := b.rename(b.installPath, ic.BackupPath); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return b.swapElevated(ic, staged)
			}
			return SwapUntouched, apperrors.New(apperrors.CodeIO, "move installed bundle aside", err)
		}
		debug.Logf("install %s: backed up %s to %s", ic.ID, b.installPath, ic.BackupPath)
	}

	if err := b.rename(staged, b.installPath); err != nil {
		if !existed {
			if errors.Is(err, fs.ErrPermission) {
				return b.swapElevated(ic, staged)
			}
			return SwapUntouched, apperrors.New(apperrors.CodeIO, "move new bundle into place", err)
		}
		rolled, rbErr := b.rollback(ic, err)
		if apperrors.IsCode(rbErr, apperrors.CodePermission) {
			// The old bundle is back in place; the elevated shell redoes both moves.
			return b.swapElevated(ic, staged)
		}
		return rolled, rbErr
	}
	debug.Logf("install %s: new bundle in place at %s", ic.ID, b.installPath)
	return SwapDone, nil
}

// stage extracts or copies the bundle into the work directory.
func (b *bundleInstaller) stage(ctx context.Context, ic *InstallContext, artifact string) (string, error) {
	stageDir := filepath.Join(ic.WorkDir, "staged")
	if err := os.RemoveAll(stageDir); err != nil {
		return "", apperrors.New(apperrors.CodeIO, "clear staging directory", err)
	}

	switch KindOf(artifact) {
	case KindAppZip:
		if err := os.MkdirAll(stageDir, 0o700); err != nil {
			return "", apperrors.New(apperrors.CodeIO, "create staging directory", err)
		}
		if err := extractZip(artifact, stageDir); err != nil {
			return "", err
		}
		return findBundle(stageDir)
	case KindDMG:
		return stageFromDiskImage(ctx, b.images, artifact, filepath.Join(ic.WorkDir, "mount"), stageDir)
	default:
		return "", apperrors.New(apperrors.CodeUnsupported, "unsupported macOS artifact", nil)
	}
}

// clearStaleBackup removes a backup left by an earlier attempt when the
// installation itself is intact. A backup without an installation is the
// only copy of the app and blocks the attempt.
func (b *bundleInstaller) clearStaleBackup(ic *InstallContext) error {
	if !pathExists(ic.BackupPath) {
		return nil
	}
	if !pathExists(b.installPath) {
		return apperrors.New(apperrors.CodeIO,
			fmt.Sprintf("%s is missing but a backup exists at %s; restore it before updating", b.installPath, ic.BackupPath), nil)
	}
	debug.Logf("install %s: removing stale backup %s", ic.ID, ic.BackupPath)
	if err := os.RemoveAll(ic.BackupPath); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return apperrors.New(apperrors.CodePermission, "remove stale backup", err)
		}
		return apperrors.New(apperrors.CodeIO, "remove stale backup", err)
	}
	return nil
}

// colocate moves the staged bundle next to the installation when the
// work directory is on another filesystem, so both renames stay atomic.
// When the install directory is not writable the bundle stays put and
// the privileged mv handles the copy.
func (b *bundleInstaller) colocate(ic *InstallContext, staged string) (string, error) {
	installDir := filepath.Dir(b.installPath)
	same, err := sameDevice(staged, installDir)
	if err != nil {
		return "", apperrors.New(apperrors.CodeIO, "compare filesystems", err)
	}
	if same {
		return staged, nil
	}

	sibling := filepath.Join(installDir, "."+filepath.Base(b.installPath)+".uplift-"+ic.ID)
	debug.Logf("install %s: work dir is on another filesystem, copying bundle to %s", ic.ID, sibling)
	if err := copyTree(staged, sibling); err != nil {
		_ = os.RemoveAll(sibling)
		if errors.Is(err, fs.ErrPermission) {
			return staged, nil
		}
		return "", apperrors.New(apperrors.CodeIO, "copy bundle next to installation", err)
	}
	return sibling, nil
}

// swapElevated makes the single elevation attempt for this install.
func (b *bundleInstaller) swapElevated(ic *InstallContext, staged string) (SwapOutcome, error) {
	if err := ic.advance(StateElevationRequested); err != nil {
		return SwapUntouched, err
	}
	ic.Elevated = true
	if b.elevator == nil {
		return SwapUntouched, apperrors.New(apperrors.CodeElevationDenied, "administrator rights are required and no elevation channel is available", nil)
	}

	err := b.elevator.SwapBundle(staged, b.installPath, ic.BackupPath)
	if err == nil {
		debug.Logf("install %s: elevated swap succeeded", ic.ID)
		return SwapDone, nil
	}
	if apperrors.CodeOf(err) == apperrors.CodeUnknown {
		err = apperrors.New(apperrors.CodeElevationDenied, "elevated swap failed", err)
	}
	debug.Logf("install %s: elevated swap failed: %v", ic.ID, err)

	if pathExists(b.installPath) {
		return SwapUntouched, err
	}
	if restoreErr := b.rename(ic.BackupPath, b.installPath); restoreErr != nil {
		return SwapRolledBack, apperrors.New(apperrors.CodeRollbackFailure,
			fmt.Sprintf("restore %s from %s", b.installPath, ic.BackupPath), errors.Join(err, restoreErr))
	}
	return SwapRolledBack, err
}

// rollback renames the backup back after the second rename failed.
func (b *bundleInstaller) rollback(ic *InstallContext, cause error) (SwapOutcome, error) {
	debug.Logf("install %s: rolling back after %v", ic.ID, cause)
	if err := b.rename(ic.BackupPath, b.installPath); err != nil {
		return SwapRolledBack, apperrors.New(apperrors.CodeRollbackFailure,
			fmt.Sprintf("restore %s from %s", b.installPath, ic.BackupPath), errors.Join(cause, err))
	}
	code := apperrors.CodeIO
	if errors.Is(cause, fs.ErrPermission) {
		code = apperrors.CodePermission
	}
	return SwapRolledBack, apperrors.New(code, "move new bundle into place", cause)
}

// Cleanup removes the backup and refreshes the bundle's modification time
// so Finder and LaunchServices notice the new version.
func (b *bundleInstaller) Cleanup(ic *InstallContext) error {
	var errs []error
	if ic.BackupPath != "" && pathExists(ic.BackupPath) {
		if err := os.RemoveAll(ic.BackupPath); err != nil {
			errs = append(errs, fmt.Errorf("remove backup: %w", err))
		}
	}
	now := b.now()
	if err := os.Chtimes(b.installPath, now, now); err != nil {
		errs = append(errs, fmt.Errorf("touch bundle: %w", err))
	}
	return errors.Join(errs...)
}
