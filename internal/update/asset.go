package update

import (
	"strings"
	"unicode"

	"uplift/internal/debug"
)

// ArtifactKind is the installable format of a release asset.
type ArtifactKind int

const (
	// KindUnknown is any asset the updater cannot install.
	KindUnknown ArtifactKind = iota
	// KindAppZip is a zipped macOS .app bundle.
	KindAppZip
	// KindDMG is a macOS disk image containing an .app bundle.
	KindDMG
	// KindEXE is a Windows setup executable.
	KindEXE
	// KindMSI is a Windows Installer package.
	KindMSI
)

// String returns the file extension for the kind.
func (k ArtifactKind) String() string {
	switch k {
	case KindAppZip:
		return ".app.zip"
	case KindDMG:
		return ".dmg"
	case KindEXE:
		return ".exe"
	case KindMSI:
		return ".msi"
	default:
		return "unknown"
	}
}

// OS returns the platform the kind installs on.
func (k ArtifactKind) OS() OS {
	switch k {
	case KindAppZip, KindDMG:
		return OSMacOS
	case KindEXE, KindMSI:
		return OSWindows
	default:
		return OSUnknown
	}
}

// KindOf classifies a file name by its suffix, case-insensitively.
func KindOf(name string) ArtifactKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".app.zip"):
		return KindAppZip
	case strings.HasSuffix(lower, ".dmg"):
		return KindDMG
	case strings.HasSuffix(lower, ".exe"):
		return KindEXE
	case strings.HasSuffix(lower, ".msi"):
		return KindMSI
	default:
		return KindUnknown
	}
}

// assetArch is the architecture marker found in an asset name.
type assetArch int

const (
	archNone assetArch = iota
	archX64
	archArm64
	archUniversal
)

var (
	// OS words match whole name segments, so "mac" in "Emacs" or "win"
	// in "Twine" says nothing about the platform.
	osWords = map[string]OS{
		"macos":   OSMacOS,
		"darwin":  OSMacOS,
		"osx":     OSMacOS,
		"mac":     OSMacOS,
		"windows": OSWindows,
		"win":     OSWindows,
	}
	x64Tokens   = []string{"x86_64", "amd64", "x64"}
	arm64Tokens = []string{"aarch64", "arm64"}
)

type assetClass struct {
	kind ArtifactKind
	os   OS
	arch assetArch
}

func classifyAsset(name string) assetClass {
	lower := strings.ToLower(name)
	c := assetClass{kind: KindOf(lower), os: OSUnknown, arch: archNone}
	c.os = assetOS(lower, c.kind)

	switch {
	case containsAny(lower, x64Tokens):
		c.arch = archX64
	case containsAny(lower, arm64Tokens):
		c.arch = archArm64
	case strings.Contains(lower, "universal"):
		c.arch = archUniversal
	}
	return c
}

// assetOS decides the OS of a lowercased asset name. Segments are split on
// anything but letters and digits, and trailing digits are ignored so
// "win64" and "macos14" count. The extension decides unless the name
// names only the other OS.
func assetOS(lower string, kind ArtifactKind) OS {
	implied := kind.OS()
	named := OSUnknown
	segments := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, seg := range segments {
		os, ok := osWords[strings.TrimRight(seg, "0123456789")]
		if !ok {
			continue
		}
		if os == implied {
			return implied
		}
		named = os
	}
	if named == OSUnknown {
		return implied
	}
	return named
}

func containsAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

func archMarker(a Arch) assetArch {
	switch a {
	case ArchX64:
		return archX64
	case ArchArm64:
		return archArm64
	default:
		return archNone
	}
}

// SelectAsset picks the asset to install on target.
//
// Candidates are assets whose extension installs on target.OS and whose
// name does not name only a different OS. Among candidates, an exact
// architecture marker wins, then a "universal" marker, then the first
// candidate in input order. Targets other than macOS and
// Windows never match.
func SelectAsset(assets []ReleaseAsset, target PlatformTarget) (ReleaseAsset, bool) {
	if !target.Installable() {
		return ReleaseAsset{}, false
	}

	want := archMarker(target.Arch)
	var (
		universal *ReleaseAsset
		first     *ReleaseAsset
	)
	for i := range assets {
		c := classifyAsset(assets[i].Name)
		if c.kind == KindUnknown || c.os != target.OS || c.kind.OS() != target.OS {
			continue
		}
		if want != archNone && c.arch == want {
			return assets[i], true
		}
		if c.arch == archUniversal && universal == nil {
			universal = &assets[i]
		}
		if first == nil {
			first = &assets[i]
		}
	}

	if universal != nil {
		debug.Logf("asset: no %s asset for %s, using universal %s", target.Arch, target.OS, universal.Name)
		return *universal, true
	}
	if first != nil {
		debug.Logf("asset: no %s or universal asset for %s, falling back to %s", target.Arch, target.OS, first.Name)
		return *first, true
	}
	return ReleaseAsset{}, false
}
