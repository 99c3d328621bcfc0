package update

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"howett.net/plist"
)

// writeBundle creates <dir>/<name>.app with an Info.plist and executable.
func writeBundle(t *testing.T, dir, name, version string) string {
	t.Helper()
	bundle := filepath.Join(dir, name+".app")
	for rel, content := range bundleFiles(t, name, version) {
		path := filepath.Join(bundle, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		mode := fs.FileMode(0o644)
		if strings.HasPrefix(rel, "Contents/MacOS/") {
			mode = 0o755
		}
		if err := os.WriteFile(path, content, mode); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return bundle
}

func bundleFiles(t *testing.T, name, version string) map[string][]byte {
	t.Helper()
	return map[string][]byte{
		"Contents/Info.plist":          infoPlist(t, name, version),
		"Contents/MacOS/" + name:       []byte("#!/bin/sh\necho " + name + " " + version + "\n"),
		"Contents/Resources/notes.txt": []byte("resources for " + version),
	}
}

func infoPlist(t *testing.T, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := plist.NewEncoderForFormat(&buf, plist.XMLFormat)
	enc.Indent("\t")
	err := enc.Encode(BundleInfo{
		Identifier:   "com.example." + strings.ToLower(name),
		Name:         name,
		ShortVersion: version,
		BuildVersion: version,
		Executable:   name,
	})
	if err != nil {
		t.Fatalf("encode plist: %v", err)
	}
	return buf.Bytes()
}

// appZip builds a .app.zip for name at version. Entries carry no Unix
// modes, like archives produced by many CI zip tools.
func appZip(t *testing.T, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for rel, content := range bundleFiles(t, name, version) {
		w, err := zw.Create(name + ".app/" + rel)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// treeSnapshot maps every path under root to its mode and content.
func treeSnapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	snap := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := info.Mode().String()
		if !d.IsDir() {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			entry += ":" + string(data)
		}
		snap[rel] = entry
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", root, err)
	}
	return snap
}

func assertSameTree(t *testing.T, want, got map[string]string) {
	t.Helper()
	if len(want) != len(got) {
		t.Errorf("tree has %d entries, want %d", len(got), len(want))
	}
	for path, w := range want {
		if g, ok := got[path]; !ok {
			t.Errorf("missing %s after rollback", path)
		} else if g != w {
			t.Errorf("%s changed: got %q, want %q", path, g, w)
		}
	}
}

// fakeElevator counts calls and optionally performs the swap unprivileged.
type fakeElevator struct {
	calls   int
	err     error
	perform bool
}

func (e *fakeElevator) SwapBundle(staged, installPath, backupPath string) error {
	e.calls++
	if e.err != nil {
		return e.err
	}
	if e.perform {
		if err := os.Rename(installPath, backupPath); err != nil {
			return err
		}
		if err := os.Rename(staged, installPath); err != nil {
			return err
		}
		return os.RemoveAll(backupPath)
	}
	return nil
}

// fakeLauncher records launches instead of spawning processes.
type fakeLauncher struct {
	calls     int
	installer string
	kind      ArtifactKind
	args      []string
	err       error
}

func (l *fakeLauncher) Launch(installer string, kind ArtifactKind, args []string) error {
	l.calls++
	l.installer, l.kind, l.args = installer, kind, args
	return l.err
}

// fakeDiskImage "mounts" by copying a prepared directory to the mount point.
type fakeDiskImage struct {
	contents string
	attached bool
	detached bool
}

func (d *fakeDiskImage) Attach(_ context.Context, _ string, mountPoint string) error {
	d.attached = true
	if err := os.Remove(mountPoint); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return copyTree(d.contents, mountPoint)
}

func (d *fakeDiskImage) Detach(string) error {
	d.detached = true
	return nil
}

// permissionDenied mimics the error os.Rename returns for EACCES.
func permissionDenied(oldpath, newpath string) error {
	return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrPermission}
}

// writeArtifact writes data into a new work dir under root.
func writeArtifact(t *testing.T, root, app, version, name string, data []byte) string {
	t.Helper()
	dir, err := newWorkDir(root, app, MustParseVersion(version))
	if err != nil {
		t.Fatalf("newWorkDir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}
