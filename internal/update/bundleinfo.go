package update

import (
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"

	apperrors "uplift/internal/errors"
)

// BundleInfo holds the Info.plist keys the updater reads.
type BundleInfo struct {
	Identifier   string `plist:"CFBundleIdentifier"`
	Name         string `plist:"CFBundleName"`
	ShortVersion string `plist:"CFBundleShortVersionString"`
	BuildVersion string `plist:"CFBundleVersion"`
	Executable   string `plist:"CFBundleExecutable"`
}

// ReadBundleInfo parses <bundle>/Contents/Info.plist in any plist format.
func ReadBundleInfo(bundle string) (BundleInfo, error) {
	path := filepath.Join(bundle, "Contents", "Info.plist")
	//nolint:gosec // G304: bundle path is the installation or a staged copy
	data, err := os.ReadFile(path)
	if err != nil {
		return BundleInfo{}, apperrors.New(apperrors.CodeCorruptArtifact, "read Info.plist", err)
	}
	return decodeBundleInfo(data)
}

func decodeBundleInfo(data []byte) (BundleInfo, error) {
	var info BundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return BundleInfo{}, apperrors.New(apperrors.CodeCorruptArtifact, "parse Info.plist", err)
	}
	if info.Executable == "" && info.Identifier == "" {
		return BundleInfo{}, apperrors.New(apperrors.CodeCorruptArtifact, "Info.plist has no bundle identifier or executable", nil)
	}
	return info, nil
}

// BundleVersion returns CFBundleShortVersionString, or CFBundleVersion
// when the short version is missing.
func BundleVersion(bundle string) (string, error) {
	info, err := ReadBundleInfo(bundle)
	if err != nil {
		return "", err
	}
	if info.ShortVersion != "" {
		return info.ShortVersion, nil
	}
	return info.BuildVersion, nil
}

// BundlePathFromExecutable maps /Applications/X.app/Contents/MacOS/X to
// /Applications/X.app. Paths outside a bundle map to their directory.
func BundlePathFromExecutable(executable string) string {
	dir := filepath.Dir(executable)
	slashed := filepath.ToSlash(dir)
	if strings.HasSuffix(slashed, "/Contents/MacOS") {
		return filepath.Dir(filepath.Dir(dir))
	}
	if idx := strings.Index(slashed, ".app/"); idx >= 0 {
		return filepath.FromSlash(slashed[:idx+len(".app")])
	}
	return dir
}

// findBundle returns the shallowest *.app directory under root.
func findBundle(root string) (string, error) {
	level := []string{root}
	for depth := 0; depth < 3 && len(level) > 0; depth++ {
		var next []string
		for _, dir := range level {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return "", apperrors.New(apperrors.CodeIO, "read staging directory", err)
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				path := filepath.Join(dir, e.Name())
				if strings.HasSuffix(e.Name(), ".app") {
					return path, nil
				}
				if e.Name() != "__MACOSX" {
					next = append(next, path)
				}
			}
		}
		level = next
	}
	return "", apperrors.New(apperrors.CodeCorruptArtifact, "no .app bundle found in artifact", nil)
}
