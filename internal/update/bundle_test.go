package update

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "uplift/internal/errors"
)

type bundleFixture struct {
	installPath string
	tmpRoot     string
	installer   *bundleInstaller
	elevator    *fakeElevator
}

func newBundleFixture(t *testing.T) *bundleFixture {
	t.Helper()
	apps := filepath.Join(t.TempDir(), "Applications")
	installPath := writeBundle(t, apps, "MyApp", "0.1.0")
	elevator := &fakeElevator{}
	return &bundleFixture{
		installPath: installPath,
		tmpRoot:     t.TempDir(),
		installer:   newBundleInstaller(installPath, elevator),
		elevator:    elevator,
	}
}

func (f *bundleFixture) orchestrator() *Orchestrator {
	return NewOrchestrator("MyApp", f.installPath, f.tmpRoot, f.installer, nil)
}

func (f *bundleFixture) zipArtifact(t *testing.T, version string) string {
	t.Helper()
	return writeArtifact(t, f.tmpRoot, "MyApp", version, "MyApp-"+version+"-mac.app.zip", appZip(t, "MyApp", version))
}

func installedVersion(t *testing.T, bundle string) string {
	t.Helper()
	v, err := BundleVersion(bundle)
	if err != nil {
		t.Fatalf("BundleVersion(%s): %v", bundle, err)
	}
	return v
}

func assertGone(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected %s to be removed, stat err = %v", path, err)
	}
}

func TestInstallAppZipReplacesBundle(t *testing.T) {
	f := newBundleFixture(t)
	artifact := f.zipArtifact(t, "0.2.0")

	installed, err := f.orchestrator().Install(context.Background(), artifact)
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if installed.State != StateCompleted {
		t.Fatalf("state = %s, want completed", installed.State)
	}
	if installed.Elevated || installed.HandedOff {
		t.Fatalf("unexpected flags: %+v", installed)
	}
	if got := installedVersion(t, f.installPath); got != "0.2.0" {
		t.Fatalf("installed version = %s, want 0.2.0", got)
	}

	exe := filepath.Join(f.installPath, "Contents", "MacOS", "MyApp")
	info, err := os.Stat(exe)
	if err != nil {
		t.Fatalf("stat executable: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("executable mode = %v, want 0755", info.Mode().Perm())
	}

	assertGone(t, f.installPath+".backup")
	assertGone(t, filepath.Dir(artifact))
	if f.elevator.calls != 0 {
		t.Fatalf("elevator called %d times without a permission error", f.elevator.calls)
	}
}

func TestInstallFreshBundle(t *testing.T) {
	f := newBundleFixture(t)
	if err := os.RemoveAll(f.installPath); err != nil {
		t.Fatalf("remove bundle: %v", err)
	}

	installed, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if installed.State != StateCompleted {
		t.Fatalf("state = %s, want completed", installed.State)
	}
	if got := installedVersion(t, f.installPath); got != "0.2.0" {
		t.Fatalf("installed version = %s, want 0.2.0", got)
	}
}

func TestInstallRollsBackWhenSecondRenameFails(t *testing.T) {
	f := newBundleFixture(t)
	before := treeSnapshot(t, f.installPath)
	artifact := f.zipArtifact(t, "0.2.0")

	f.installer.rename = func(oldpath, newpath string) error {
		if newpath == f.installPath && oldpath != f.installPath+".backup" {
			return errors.New("disk full")
		}
		return os.Rename(oldpath, newpath)
	}

	installed, err := f.orchestrator().Install(context.Background(), artifact)
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.IsCode(err, apperrors.CodeIO) {
		t.Fatalf("expected io error, got %v", err)
	}
	if installed.State != StateRolledBack {
		t.Fatalf("state = %s, want rolled_back", installed.State)
	}
	assertSameTree(t, before, treeSnapshot(t, f.installPath))
	assertGone(t, f.installPath+".backup")
	assertGone(t, filepath.Dir(artifact))
}

func TestInstallReportsRollbackFailure(t *testing.T) {
	f := newBundleFixture(t)
	backup := f.installPath + ".backup"
	f.installer.rename = func(oldpath, newpath string) error {
		if newpath == f.installPath {
			return errors.New("device went away")
		}
		return os.Rename(oldpath, newpath)
	}

	installed, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if !apperrors.IsCode(err, apperrors.CodeRollbackFailure) {
		t.Fatalf("expected rollback_failure, got %v", err)
	}
	if apperrors.Recoverable(err) {
		t.Fatal("rollback failure must not be recoverable")
	}
	if installed.State != StateFailed {
		t.Fatalf("state = %s, want failed", installed.State)
	}
	if got := installedVersion(t, backup); got != "0.1.0" {
		t.Fatalf("backup holds version %s, want 0.1.0", got)
	}
}

func TestInstallElevatesOnceOnPermissionError(t *testing.T) {
	f := newBundleFixture(t)
	f.elevator.perform = true
	f.installer.rename = func(oldpath, newpath string) error {
		return permissionDenied(oldpath, newpath)
	}

	installed, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if f.elevator.calls != 1 {
		t.Fatalf("elevator called %d times, want 1", f.elevator.calls)
	}
	if !installed.Elevated || installed.State != StateCompleted {
		t.Fatalf("unexpected result: %+v", installed)
	}
	if got := installedVersion(t, f.installPath); got != "0.2.0" {
		t.Fatalf("installed version = %s, want 0.2.0", got)
	}
}

// denyMoveIn fails only the rename that moves the staged bundle into place.
func denyMoveIn(installPath string) func(oldpath, newpath string) error {
	return func(oldpath, newpath string) error {
		if newpath == installPath && oldpath != installPath+".backup" {
			return permissionDenied(oldpath, newpath)
		}
		return os.Rename(oldpath, newpath)
	}
}

func TestInstallElevatesAfterMoveInIsDenied(t *testing.T) {
	f := newBundleFixture(t)
	f.elevator.perform = true
	f.installer.rename = denyMoveIn(f.installPath)

	installed, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if f.elevator.calls != 1 {
		t.Fatalf("elevator called %d times, want 1", f.elevator.calls)
	}
	if !installed.Elevated || installed.State != StateCompleted {
		t.Fatalf("unexpected result: %+v", installed)
	}
	if got := installedVersion(t, f.installPath); got != "0.2.0" {
		t.Fatalf("installed version = %s, want 0.2.0", got)
	}
	assertGone(t, f.installPath+".backup")
}

func TestInstallMoveInDeniedAndElevationRefused(t *testing.T) {
	f := newBundleFixture(t)
	before := treeSnapshot(t, f.installPath)
	f.elevator.err = apperrors.New(apperrors.CodeElevationDenied, "administrator prompt was cancelled", nil)
	f.installer.rename = denyMoveIn(f.installPath)

	installed, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if !apperrors.IsCode(err, apperrors.CodeElevationDenied) {
		t.Fatalf("expected elevation_denied, got %v", err)
	}
	if f.elevator.calls != 1 {
		t.Fatalf("elevator called %d times, want exactly 1", f.elevator.calls)
	}
	if installed.State != StateFailed {
		t.Fatalf("state = %s, want failed", installed.State)
	}
	assertSameTree(t, before, treeSnapshot(t, f.installPath))
	assertGone(t, f.installPath+".backup")
}

func TestInstallElevationDeniedLeavesBundleUntouched(t *testing.T) {
	f := newBundleFixture(t)
	before := treeSnapshot(t, f.installPath)
	f.elevator.err = apperrors.New(apperrors.CodeElevationDenied, "administrator prompt was cancelled", nil)
	f.installer.rename = func(oldpath, newpath string) error {
		return permissionDenied(oldpath, newpath)
	}
	artifact := f.zipArtifact(t, "0.2.0")

	installed, err := f.orchestrator().Install(context.Background(), artifact)
	if !apperrors.IsCode(err, apperrors.CodeElevationDenied) {
		t.Fatalf("expected elevation_denied, got %v", err)
	}
	if f.elevator.calls != 1 {
		t.Fatalf("elevator called %d times, want exactly 1", f.elevator.calls)
	}
	if installed.State != StateFailed {
		t.Fatalf("state = %s, want failed", installed.State)
	}
	assertSameTree(t, before, treeSnapshot(t, f.installPath))
	assertGone(t, filepath.Dir(artifact))
}

func TestInstallElevationFailureRestoresMovedBundle(t *testing.T) {
	f := newBundleFixture(t)
	before := treeSnapshot(t, f.installPath)
	f.installer.elevator = elevatorFunc(func(_, installPath, backupPath string) error {
		// The privileged shell moved the bundle aside, then died.
		if err := os.Rename(installPath, backupPath); err != nil {
			return err
		}
		return errors.New("osascript: killed")
	})
	f.installer.rename = func(oldpath, newpath string) error {
		if oldpath == f.installPath {
			return permissionDenied(oldpath, newpath)
		}
		return os.Rename(oldpath, newpath)
	}

	installed, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if !apperrors.IsCode(err, apperrors.CodeElevationDenied) {
		t.Fatalf("expected elevation_denied, got %v", err)
	}
	if installed.State != StateRolledBack {
		t.Fatalf("state = %s, want rolled_back", installed.State)
	}
	assertSameTree(t, before, treeSnapshot(t, f.installPath))
}

type elevatorFunc func(staged, installPath, backupPath string) error

func (fn elevatorFunc) SwapBundle(staged, installPath, backupPath string) error {
	return fn(staged, installPath, backupPath)
}

func TestInstallRejectsCorruptArtifacts(t *testing.T) {
	noPlist := func(t *testing.T) []byte {
		t.Helper()
		data := appZip(t, "MyApp", "0.2.0")
		// Rename the entry so the archive has no Info.plist.
		return bytes.ReplaceAll(data, []byte("Info.plist"), []byte("Info.plisx"))
	}

	tests := []struct {
		name     string
		artifact string
		data     func(t *testing.T) []byte
		code     apperrors.Code
	}{
		{"empty file", "MyApp.app.zip", func(*testing.T) []byte { return nil }, apperrors.CodeCorruptArtifact},
		{"not a zip", "MyApp.app.zip", func(*testing.T) []byte { return []byte("<html>rate limited</html>") }, apperrors.CodeCorruptArtifact},
		{"no Info.plist", "MyApp.app.zip", noPlist, apperrors.CodeCorruptArtifact},
		{"dmg without trailer", "MyApp.dmg", func(*testing.T) []byte { return bytes.Repeat([]byte{0}, 4096) }, apperrors.CodeCorruptArtifact},
		{"windows installer", "MyApp-setup.exe", func(*testing.T) []byte { return []byte("MZ\x90\x00") }, apperrors.CodeUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBundleFixture(t)
			before := treeSnapshot(t, f.installPath)
			artifact := writeArtifact(t, f.tmpRoot, "MyApp", "0.2.0", tt.artifact, tt.data(t))

			installed, err := f.orchestrator().Install(context.Background(), artifact)
			if !apperrors.IsCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			if installed.State != StateFailed {
				t.Fatalf("state = %s, want failed", installed.State)
			}
			assertSameTree(t, before, treeSnapshot(t, f.installPath))
			assertGone(t, filepath.Dir(artifact))
		})
	}
}

func TestInstallMissingArtifact(t *testing.T) {
	f := newBundleFixture(t)
	installed, err := f.orchestrator().Install(context.Background(), filepath.Join(f.tmpRoot, "missing.app.zip"))
	if !apperrors.IsCode(err, apperrors.CodeCorruptArtifact) {
		t.Fatalf("expected corrupt_artifact, got %v", err)
	}
	if installed.State != StateFailed {
		t.Fatalf("state = %s, want failed", installed.State)
	}
}

func TestInstallCancelledBeforeSwap(t *testing.T) {
	f := newBundleFixture(t)
	before := treeSnapshot(t, f.installPath)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	installed, err := f.orchestrator().Install(ctx, f.zipArtifact(t, "0.2.0"))
	if !apperrors.IsCode(err, apperrors.CodeIO) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled io error, got %v", err)
	}
	if installed.State != StateFailed {
		t.Fatalf("state = %s, want failed", installed.State)
	}
	assertSameTree(t, before, treeSnapshot(t, f.installPath))
}

func TestInstallDiskImage(t *testing.T) {
	f := newBundleFixture(t)
	volume := t.TempDir()
	writeBundle(t, volume, "MyApp", "0.3.0")
	if err := os.Symlink("/Applications", filepath.Join(volume, "Applications")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	images := &fakeDiskImage{contents: volume}
	f.installer.images = images

	image := make([]byte, 8192)
	copy(image[len(image)-kolyTrailerSize:], "koly")
	artifact := writeArtifact(t, f.tmpRoot, "MyApp", "0.3.0", "MyApp-0.3.0.dmg", image)

	installed, err := f.orchestrator().Install(context.Background(), artifact)
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if installed.State != StateCompleted {
		t.Fatalf("state = %s, want completed", installed.State)
	}
	if !images.attached || !images.detached {
		t.Fatalf("expected attach and detach, got %+v", images)
	}
	if got := installedVersion(t, f.installPath); got != "0.3.0" {
		t.Fatalf("installed version = %s, want 0.3.0", got)
	}
}

func TestInstallRemovesStaleBackup(t *testing.T) {
	f := newBundleFixture(t)
	stale := writeBundle(t, t.TempDir(), "MyApp", "0.0.9")
	if err := os.Rename(stale, f.installPath+".backup"); err != nil {
		t.Fatalf("place stale backup: %v", err)
	}

	if _, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0")); err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	if got := installedVersion(t, f.installPath); got != "0.2.0" {
		t.Fatalf("installed version = %s, want 0.2.0", got)
	}
	assertGone(t, f.installPath+".backup")
}

func TestInstallRefusesWhenOnlyBackupExists(t *testing.T) {
	f := newBundleFixture(t)
	backup := f.installPath + ".backup"
	if err := os.Rename(f.installPath, backup); err != nil {
		t.Fatalf("move bundle: %v", err)
	}

	installed, err := f.orchestrator().Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if !apperrors.IsCode(err, apperrors.CodeIO) {
		t.Fatalf("expected io error, got %v", err)
	}
	if installed.State != StateFailed {
		t.Fatalf("state = %s, want failed", installed.State)
	}
	if got := installedVersion(t, backup); got != "0.1.0" {
		t.Fatalf("backup holds version %s, want 0.1.0", got)
	}
	assertGone(t, f.installPath)
}

func TestInstallJournalsAttempt(t *testing.T) {
	f := newBundleFixture(t)
	journal := openTestJournal(t)
	orch := NewOrchestrator("MyApp", f.installPath, f.tmpRoot, f.installer, journal)

	installed, err := orch.Install(context.Background(), f.zipArtifact(t, "0.2.0"))
	if err != nil {
		t.Fatalf("Install returned error: %v", err)
	}
	attempt, err := journal.Get(context.Background(), installed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if attempt.State != StateCompleted {
		t.Fatalf("journal state = %s, want completed", attempt.State)
	}
	if attempt.BackupPath != f.installPath+".backup" {
		t.Fatalf("journal backup = %q", attempt.BackupPath)
	}
}
