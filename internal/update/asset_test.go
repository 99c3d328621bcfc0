package update

import "testing"

func assetsNamed(names ...string) []ReleaseAsset {
	assets := make([]ReleaseAsset, len(names))
	for i, n := range names {
		assets[i] = ReleaseAsset{Name: n, URL: "https://example.invalid/" + n}
	}
	return assets
}

func TestSelectAsset(t *testing.T) {
	macArm := PlatformTarget{OS: OSMacOS, Arch: ArchArm64}
	macX64 := PlatformTarget{OS: OSMacOS, Arch: ArchX64}
	winX64 := PlatformTarget{OS: OSWindows, Arch: ArchX64}
	winArm := PlatformTarget{OS: OSWindows, Arch: ArchArm64}

	tests := []struct {
		name   string
		assets []ReleaseAsset
		target PlatformTarget
		want   string
		ok     bool
	}{
		{
			name:   "exact arch wins over universal",
			assets: assetsNamed("App-macos-universal.app.zip", "App-macos-aarch64.app.zip", "App-windows-x64.exe"),
			target: macArm,
			want:   "App-macos-aarch64.app.zip",
			ok:     true,
		},
		{
			name:   "universal wins over unmarked",
			assets: assetsNamed("App-mac.dmg", "App-mac-universal.app.zip"),
			target: macX64,
			want:   "App-mac-universal.app.zip",
			ok:     true,
		},
		{
			name:   "first candidate when no arch marker",
			assets: assetsNamed("App-setup.msi", "App-setup.exe"),
			target: winX64,
			want:   "App-setup.msi",
			ok:     true,
		},
		{
			name:   "first exact match in input order",
			assets: assetsNamed("App-win-amd64.msi", "App-windows-x86_64.exe"),
			target: winX64,
			want:   "App-win-amd64.msi",
			ok:     true,
		},
		{
			name:   "extension implies OS",
			assets: assetsNamed("App-1.0.0-arm64.exe", "App-1.0.0-arm64.app.zip"),
			target: macArm,
			want:   "App-1.0.0-arm64.app.zip",
			ok:     true,
		},
		{
			name:   "darwin is not windows",
			assets: assetsNamed("App-darwin-arm64.app.zip"),
			target: winArm,
			ok:     false,
		},
		{
			name:   "OS token and extension must agree",
			assets: assetsNamed("App-windows-x64.dmg"),
			target: winX64,
			ok:     false,
		},
		{
			name:   "mac inside an app name does not make a windows installer macOS",
			assets: assetsNamed("Emacs-29.1-windows-x64.exe"),
			target: winX64,
			want:   "Emacs-29.1-windows-x64.exe",
			ok:     true,
		},
		{
			name:   "mac inside an app name with only a windows word",
			assets: assetsNamed("Machinist-1.0-win-x64.msi"),
			target: winX64,
			want:   "Machinist-1.0-win-x64.msi",
			ok:     true,
		},
		{
			name:   "win inside an app name does not make a bundle windows",
			assets: assetsNamed("Twine-2.6.2-x64.app.zip"),
			target: macX64,
			want:   "Twine-2.6.2-x64.app.zip",
			ok:     true,
		},
		{
			name:   "darwin inside an app name is not an OS word",
			assets: assetsNamed("Darwinia-1.4-x64.exe"),
			target: winX64,
			want:   "Darwinia-1.4-x64.exe",
			ok:     true,
		},
		{
			name:   "OS words with version digits",
			assets: assetsNamed("App-1.0-macos14-arm64.dmg", "App-1.0-win64.exe"),
			target: winArm,
			want:   "App-1.0-win64.exe",
			ok:     true,
		},
		{
			name:   "name mentioning both OSes follows the extension",
			assets: assetsNamed("App-windows-to-mac-migrator-x64.exe"),
			target: winX64,
			want:   "App-windows-to-mac-migrator-x64.exe",
			ok:     true,
		},
		{
			name:   "unsupported extensions ignored",
			assets: assetsNamed("App-macos-arm64.tar.gz", "App-macos-arm64.zip", "checksums.txt"),
			target: macArm,
			ok:     false,
		},
		{
			name:   "other arch used as last resort",
			assets: assetsNamed("App-windows-x64.exe"),
			target: winArm,
			want:   "App-windows-x64.exe",
			ok:     true,
		},
		{
			name:   "case insensitive",
			assets: assetsNamed("APP-MACOS-ARM64.APP.ZIP"),
			target: macArm,
			want:   "APP-MACOS-ARM64.APP.ZIP",
			ok:     true,
		},
		{
			name:   "linux target never matches",
			assets: assetsNamed("App-linux-x64.exe", "App-universal.dmg"),
			target: PlatformTarget{OS: OSLinux, Arch: ArchX64},
			ok:     false,
		},
		{
			name:   "unknown target never matches",
			assets: assetsNamed("App-universal.dmg"),
			target: PlatformTarget{OS: OSUnknown, Arch: ArchUnknown},
			ok:     false,
		},
		{
			name:   "empty asset list",
			target: macArm,
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectAsset(tt.assets, tt.target)
			if ok != tt.ok {
				t.Fatalf("SelectAsset() ok = %v, want %v (got %q)", ok, tt.ok, got.Name)
			}
			if got.Name != tt.want {
				t.Errorf("SelectAsset() = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestAssetOS(t *testing.T) {
	tests := []struct {
		name string
		want OS
	}{
		{"emacs-29.1-windows-x64.exe", OSWindows},
		{"imacros-setup.msi", OSWindows},
		{"twine-2.6.2.dmg", OSMacOS},
		{"app_darwin_arm64.app.zip", OSMacOS},
		{"app-windows-x64.dmg", OSWindows},
		{"app-macos.exe", OSMacOS},
		{"app.osx.dmg", OSMacOS},
		{"app-linux.tar.gz", OSUnknown},
	}
	for _, tt := range tests {
		if got := assetOS(tt.name, KindOf(tt.name)); got != tt.want {
			t.Errorf("assetOS(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want ArtifactKind
	}{
		{"App.app.zip", KindAppZip},
		{"App.zip", KindUnknown},
		{"App.DMG", KindDMG},
		{"setup.exe", KindEXE},
		{"setup.msi", KindMSI},
		{"notes.md", KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.name); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
