package update

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	apperrors "uplift/internal/errors"
)

type zipEntry struct {
	name string
	body string
	mode fs.FileMode // zero means no Unix mode is recorded
}

func writeZip(t *testing.T, entries []zipEntry) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			hdr.SetMode(e.mode)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	path := filepath.Join(t.TempDir(), "archive.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	return path
}

func TestExtractZipModes(t *testing.T) {
	archive := writeZip(t, []zipEntry{
		{name: "A.app/Contents/MacOS/A", body: "bin"},
		{name: "A.app/Contents/Info.plist", body: "plist"},
		{name: "A.app/Contents/Helpers/tool", body: "tool", mode: 0o750},
		{name: "A.app/Contents/Resources/readonly.txt", body: "ro", mode: 0o444},
	})
	dest := t.TempDir()

	if err := extractZip(archive, dest); err != nil {
		t.Fatalf("extractZip: %v", err)
	}

	tests := map[string]fs.FileMode{
		"A.app/Contents/MacOS/A":                0o755,
		"A.app/Contents/Info.plist":             0o644,
		"A.app/Contents/Helpers/tool":           0o750,
		"A.app/Contents/Resources/readonly.txt": 0o444,
	}
	for rel, want := range tests {
		info, err := os.Stat(filepath.Join(dest, filepath.FromSlash(rel)))
		if err != nil {
			t.Fatalf("stat %s: %v", rel, err)
		}
		if got := info.Mode().Perm(); got != want {
			t.Errorf("%s mode = %v, want %v", rel, got, want)
		}
	}
}

func TestExtractZipSymlink(t *testing.T) {
	archive := writeZip(t, []zipEntry{
		{name: "A.app/Contents/Frameworks/Lib.framework/Versions/A/Lib", body: "lib", mode: 0o755},
		{name: "A.app/Contents/Frameworks/Lib.framework/Lib", body: "Versions/A/Lib", mode: fs.ModeSymlink | 0o777},
	})
	dest := t.TempDir()

	if err := extractZip(archive, dest); err != nil {
		t.Fatalf("extractZip: %v", err)
	}
	link := filepath.Join(dest, "A.app", "Contents", "Frameworks", "Lib.framework", "Lib")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "Versions/A/Lib" {
		t.Fatalf("symlink target = %q", target)
	}
}

func TestExtractZipRejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../evil", "A.app/../../evil", "/abs/evil"} {
		t.Run(name, func(t *testing.T) {
			archive := writeZip(t, []zipEntry{{name: name, body: "x"}})
			dest := filepath.Join(t.TempDir(), "out")
			mustMkdirAll(t, dest)

			err := extractZip(archive, dest)
			if !apperrors.IsCode(err, apperrors.CodeCorruptArtifact) {
				t.Fatalf("expected corrupt_artifact, got %v", err)
			}
			if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "evil")); err == nil {
				t.Fatal("entry escaped the extraction directory")
			}
		})
	}
}

func TestCopyTreePreservesModesAndLinks(t *testing.T) {
	src := filepath.Join(t.TempDir(), "A.app")
	mustMkdirAll(t, filepath.Join(src, "Contents", "MacOS"))
	if err := os.WriteFile(filepath.Join(src, "Contents", "MacOS", "A"), []byte("bin"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("MacOS/A", filepath.Join(src, "Contents", "current")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "copy.app")

	if err := copyTree(src, dst); err != nil {
		t.Fatalf("copyTree: %v", err)
	}
	assertSameTree(t, treeSnapshot(t, src), treeSnapshot(t, dst))
	if target, err := os.Readlink(filepath.Join(dst, "Contents", "current")); err != nil || target != "MacOS/A" {
		t.Fatalf("symlink not copied: %q, %v", target, err)
	}
}
