package update

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/host"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// OS identifies an operating system the updater knows about.
type OS string

const (
	OSMacOS   OS = "macos"
	OSWindows OS = "windows"
	OSLinux   OS = "linux"
	OSUnknown OS = "unknown"
)

// Arch identifies a CPU architecture.
type Arch string

const (
	ArchX64     Arch = "x64"
	ArchArm64   Arch = "arm64"
	ArchUnknown Arch = "unknown"
)

// PlatformTarget is the OS and architecture an update is resolved for.
type PlatformTarget struct {
	OS   OS
	Arch Arch
}

// String returns "os/arch".
func (p PlatformTarget) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

// Installable reports whether the updater can install on this target.
func (p PlatformTarget) Installable() bool {
	return p.OS == OSMacOS || p.OS == OSWindows
}

// ParseOS maps user-facing or GOOS-style names to an OS.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "macos", "darwin", "osx", "mac":
		return OSMacOS, nil
	case "windows", "win":
		return OSWindows, nil
	case "linux":
		return OSLinux, nil
	default:
		return OSUnknown, apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("unknown operating system %q", s), nil)
	}
}

// ParseArch maps user-facing, GOARCH-style, or kernel names to an Arch.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x64", "amd64", "x86_64":
		return ArchX64, nil
	case "arm64", "aarch64":
		return ArchArm64, nil
	default:
		return ArchUnknown, apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("unknown architecture %q", s), nil)
	}
}

// kernelArch is a function variable to allow overriding in tests.
var kernelArch = host.KernelArch

// DetectPlatform reports the platform of the running process.
// With native set, the kernel-reported architecture wins over the one
// the binary was compiled for, so an emulated build can pick native assets.
func DetectPlatform(native bool) PlatformTarget {
	target := PlatformTarget{OS: OSUnknown, Arch: ArchUnknown}
	if os, err := ParseOS(runtime.GOOS); err == nil {
		target.OS = os
	}
	if arch, err := ParseArch(runtime.GOARCH); err == nil {
		target.Arch = arch
	}
	if !native {
		return target
	}

	reported, err := kernelArch()
	if err != nil {
		debug.Logf("platform: kernel arch unavailable, keeping %s: %v", target.Arch, err)
		return target
	}
	if arch, err := ParseArch(reported); err == nil && arch != target.Arch {
		debug.Logf("platform: kernel reports %s, overriding build arch %s", arch, target.Arch)
		target.Arch = arch
	}
	return target
}

// ResolvePlatform applies optional os/arch overrides on top of detection.
// Empty overrides keep the detected value.
func ResolvePlatform(osOverride, archOverride string, native bool) (PlatformTarget, error) {
	target := DetectPlatform(native)
	if strings.TrimSpace(osOverride) != "" {
		os, err := ParseOS(osOverride)
		if err != nil {
			return PlatformTarget{}, err
		}
		target.OS = os
	}
	if strings.TrimSpace(archOverride) != "" {
		arch, err := ParseArch(archOverride)
		if err != nil {
			return PlatformTarget{}, err
		}
		target.Arch = arch
	}
	return target, nil
}
