package update

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	apperrors "uplift/internal/errors"
)

// workDirPrefix is the name prefix of every work directory for app.
func workDirPrefix(app string) string {
	return app + "-update-"
}

// newWorkDir creates <root>/<app>-update-<version>-<unique>.
func newWorkDir(root, app string, target Version) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	unique := strings.SplitN(uuid.NewString(), "-", 2)[0]
	name := fmt.Sprintf("%s%s-%s", workDirPrefix(app), target, unique)
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", apperrors.New(apperrors.CodeIO, "create work directory", err)
	}
	return dir, nil
}

// isWorkDir reports whether dir was named by newWorkDir for app and sits
// directly under root. A matching name elsewhere belongs to the user.
func isWorkDir(root, app, dir string) bool {
	if app == "" || !strings.HasPrefix(filepath.Base(dir), workDirPrefix(app)) {
		return false
	}
	return sameDir(filepath.Dir(filepath.Clean(dir)), workRoot(root))
}

func workRoot(root string) string {
	if root == "" {
		root = os.TempDir()
	}
	return filepath.Clean(root)
}

// sameDir compares two directories, resolving symlinks such as macOS
// /var -> /private/var when the plain paths differ.
func sameDir(a, b string) bool {
	if a == b {
		return true
	}
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		return false
	}
	rb, err := filepath.EvalSymlinks(b)
	return err == nil && ra == rb
}

// listWorkDirs returns every work directory for app under root.
func listWorkDirs(root, app string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(workRoot(root), workDirPrefix(app)+"*"))
	if err != nil {
		return nil, err
	}
	dirs := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}
	return dirs, nil
}
