package update

import (
	"fmt"
	"strings"
	"time"

	apperrors "uplift/internal/errors"
)

// Config is the immutable input to New. Fields left empty fall back to
// detection or defaults; Validate checks the whole value at once.
type Config struct {
	// AppName namespaces work directories and journal rows.
	AppName string
	// CurrentVersion is the version of the running application.
	CurrentVersion string

	// RepoOwner and RepoName select the GitHub repository to query.
	RepoOwner string
	RepoName  string
	// APIBaseURL overrides the GitHub API endpoint.
	APIBaseURL string
	// ManifestPath, when set, replaces GitHub with a local manifest.
	ManifestPath string

	Headers map[string]string
	Proxy   string
	// Timeout bounds each network operation; zero means no limit.
	Timeout time.Duration

	// ExecutablePath overrides the running executable when deriving the
	// install path.
	ExecutablePath string
	// InstallerArgs are appended to the Windows installer command line.
	InstallerArgs []string

	// Platform overrides detection when its OS is set.
	Platform   PlatformTarget
	NativeArch bool

	AllowPrerelease bool

	// JournalPath is the attempts database; empty disables the journal.
	JournalPath string
}

// Validate checks every field and reports the first problem as a
// configuration error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		return configError("app name is required")
	}
	if strings.ContainsAny(c.AppName, `/\`) {
		return configError(fmt.Sprintf("app name %q must not contain path separators", c.AppName))
	}
	if _, err := ParseVersion(c.CurrentVersion); err != nil {
		return apperrors.New(apperrors.CodeConfigurationError, "current version", err)
	}
	if c.ManifestPath == "" && (strings.TrimSpace(c.RepoOwner) == "" || strings.TrimSpace(c.RepoName) == "") {
		return configError("repository owner and name are required without a release manifest")
	}
	if err := validateHeaders(c.Headers); err != nil {
		return err
	}
	if _, err := parseProxy(c.Proxy); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return configError("timeout must not be negative")
	}
	if c.Platform.OS != "" && c.Platform.OS != OSUnknown && c.Platform.Arch == "" {
		return configError("platform override needs an architecture")
	}
	return nil
}

func configError(msg string) error {
	return apperrors.New(apperrors.CodeConfigurationError, msg, nil)
}
