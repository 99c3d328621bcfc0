package update

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// diskImage attaches and detaches macOS disk images.
type diskImage interface {
	Attach(ctx context.Context, image, mountPoint string) error
	Detach(mountPoint string) error
}

// hdiutil drives /usr/bin/hdiutil.
type hdiutil struct{}

func (hdiutil) Attach(ctx context.Context, image, mountPoint string) error {
	//nolint:gosec // G204: arguments are paths inside the work directory
	cmd := exec.CommandContext(ctx, "/usr/bin/hdiutil", "attach",
		"-nobrowse", "-readonly", "-noautoopen", "-noverify",
		"-mountpoint", mountPoint, image)
	if out, err := cmd.CombinedOutput(); err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact,
			fmt.Sprintf("mount disk image: %s", strings.TrimSpace(string(out))), err)
	}
	return nil
}

func (hdiutil) Detach(mountPoint string) error {
	//nolint:gosec // G204: mount point is inside the work directory
	out, err := exec.Command("/usr/bin/hdiutil", "detach", mountPoint, "-force").CombinedOutput()
	if err != nil {
		return fmt.Errorf("detach %s: %s: %w", mountPoint, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// stageFromDiskImage mounts image and copies its bundle into stageDir.
func stageFromDiskImage(ctx context.Context, images diskImage, image, mountPoint, stageDir string) (string, error) {
	for _, dir := range []string{mountPoint, stageDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", apperrors.New(apperrors.CodeIO, "create staging directory", err)
		}
	}
	if err := images.Attach(ctx, image, mountPoint); err != nil {
		return "", err
	}
	defer func() {
		if err := images.Detach(mountPoint); err != nil {
			debug.Logf("dmg: %v", err)
		}
	}()

	mounted, err := findBundle(mountPoint)
	if err != nil {
		return "", err
	}
	staged := filepath.Join(stageDir, filepath.Base(mounted))
	if err := copyTree(mounted, staged); err != nil {
		return "", apperrors.New(apperrors.CodeIO, "copy bundle from disk image", err)
	}
	return staged, nil
}
