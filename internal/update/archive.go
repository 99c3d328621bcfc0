package update

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "uplift/internal/errors"
)

// Zip "version made by" hosts whose external attributes carry Unix modes.
const (
	zipCreatorUnix  = 3
	zipCreatorMacOS = 19
)

// zipEntryMode returns the mode to give an extracted entry. Archives
// written without Unix modes get 0755 for anything under Contents/MacOS
// and 0644 otherwise.
func zipEntryMode(f *zip.File) fs.FileMode {
	creator := f.CreatorVersion >> 8
	if (creator == zipCreatorUnix || creator == zipCreatorMacOS) && f.ExternalAttrs>>16 != 0 {
		return f.Mode()
	}
	if f.FileInfo().IsDir() {
		return fs.ModeDir | 0o755
	}
	if strings.Contains(filepath.ToSlash(f.Name), "Contents/MacOS/") {
		return 0o755
	}
	return 0o644
}

// extractZip unpacks archive into dest, preserving modes and symlinks.
// Entries that would land outside dest are rejected.
func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "open zip archive", err)
	}
	defer func() { _ = r.Close() }()

	root, err := filepath.Abs(dest)
	if err != nil {
		return apperrors.New(apperrors.CodeIO, "resolve extraction directory", err)
	}

	for _, f := range r.File {
		target, err := zipEntryPath(root, f.Name)
		if err != nil {
			return err
		}
		mode := zipEntryMode(f)

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperrors.New(apperrors.CodeIO, "create directory", err)
			}
			if err := os.Chmod(target, mode.Perm()|0o700); err != nil {
				return apperrors.New(apperrors.CodeIO, "set directory mode", err)
			}
		case mode&fs.ModeSymlink != 0:
			if err := extractSymlink(f, target); err != nil {
				return err
			}
		default:
			if err := extractFile(f, target, mode.Perm()); err != nil {
				return err
			}
		}
	}
	return nil
}

func zipEntryPath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apperrors.New(apperrors.CodeCorruptArtifact, fmt.Sprintf("zip entry %q escapes the archive", name), nil)
	}
	return filepath.Join(root, clean), nil
}

func extractSymlink(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "open zip entry", err)
	}
	defer func() { _ = rc.Close() }()

	link, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "read symlink entry", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperrors.New(apperrors.CodeIO, "create directory", err)
	}
	if err := os.Symlink(string(link), target); err != nil {
		return apperrors.New(apperrors.CodeIO, "create symlink", err)
	}
	return nil
}

func extractFile(f *zip.File, target string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperrors.New(apperrors.CodeIO, "create directory", err)
	}
	rc, err := f.Open()
	if err != nil {
		return apperrors.New(apperrors.CodeCorruptArtifact, "open zip entry", err)
	}
	defer func() { _ = rc.Close() }()

	//nolint:gosec // G304: extracting to a work directory we control
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return apperrors.New(apperrors.CodeIO, "create file", err)
	}
	//nolint:gosec // G110: release archives come from the configured release source
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return apperrors.New(apperrors.CodeCorruptArtifact, "extract "+f.Name, err)
	}
	if err := out.Close(); err != nil {
		return apperrors.New(apperrors.CodeIO, "close file", err)
	}
	// OpenFile applies the umask; set the archived mode exactly.
	if err := os.Chmod(target, perm); err != nil {
		return apperrors.New(apperrors.CodeIO, "set file mode", err)
	}
	return nil
}

// copyTree copies src to dst, preserving modes and symlinks.
// dst must not exist.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.IsDir():
			return os.Mkdir(target, info.Mode().Perm()|0o700)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	//nolint:gosec // G304: copying a bundle the updater staged or mounted
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	//nolint:gosec // G304: destination is inside a work directory we control
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, perm)
}
