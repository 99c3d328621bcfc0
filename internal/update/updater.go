package update

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// Updater ties the release source, downloader, and platform installer
// together for one application.
type Updater struct {
	cfg         Config
	current     Version
	target      PlatformTarget
	executable  string
	installPath string
	tmpRoot     string

	httpClient   *http.Client
	source       ReleaseSource
	downloader   *Downloader
	journal      *Journal
	elevator     Elevator
	launcher     Launcher
	installer    PlatformInstaller
	orchestrator *Orchestrator

	// test hooks
	images diskImage
	rename func(oldpath, newpath string) error
	start  func(name string, args ...string) error
	exit   func(code int)

	lastInstall *Installed
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithReleaseSource replaces the source derived from Config.
func WithReleaseSource(source ReleaseSource) UpdaterOption {
	return func(u *Updater) {
		u.source = source
	}
}

// WithUpdaterHTTPClient sets the HTTP client used for listing and downloads.
func WithUpdaterHTTPClient(client *http.Client) UpdaterOption {
	return func(u *Updater) {
		u.httpClient = client
	}
}

// WithElevator replaces the AppleScript elevation channel.
func WithElevator(elevator Elevator) UpdaterOption {
	return func(u *Updater) {
		u.elevator = elevator
	}
}

// WithLauncher replaces the runas installer launcher.
func WithLauncher(launcher Launcher) UpdaterOption {
	return func(u *Updater) {
		u.launcher = launcher
	}
}

// WithTempDir sets the parent of per-attempt work directories.
func WithTempDir(dir string) UpdaterOption {
	return func(u *Updater) {
		u.tmpRoot = dir
	}
}

// New validates cfg and prepares every component. The platform installer
// is chosen here, once, from the target OS.
func New(cfg Config, opts ...UpdaterOption) (*Updater, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	current, err := ParseVersion(cfg.CurrentVersion)
	if err != nil {
		return nil, err
	}

	u := &Updater{
		cfg:     cfg,
		current: current,
		tmpRoot: os.TempDir(),
	}
	for _, opt := range opts {
		opt(u)
	}

	u.target = cfg.Platform
	if u.target.OS == "" {
		u.target = DetectPlatform(cfg.NativeArch)
	}

	if err := u.resolvePaths(); err != nil {
		return nil, err
	}

	if u.httpClient == nil {
		proxy, err := parseProxy(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		u.httpClient = newHTTPClient(proxy)
	}
	if u.source == nil {
		u.source = u.defaultSource()
	}
	u.downloader = NewDownloader(
		WithDownloadClient(u.httpClient),
		WithDownloadHeaders(cfg.Headers),
		WithDownloadTimeout(cfg.Timeout),
	)

	if cfg.JournalPath != "" {
		journal, err := OpenJournal(context.Background(), cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		u.journal = journal
	}

	u.installer = u.newInstaller()
	u.orchestrator = NewOrchestrator(cfg.AppName, u.installPath, u.tmpRoot, u.installer, u.journal)

	debug.Logf("updater: %s %s on %s, install path %s", cfg.AppName, current, u.target, u.installPath)
	return u, nil
}

func (u *Updater) resolvePaths() error {
	exe := u.cfg.ExecutablePath
	if exe == "" {
		path, err := os.Executable()
		if err != nil {
			return apperrors.New(apperrors.CodeIO, "get executable path", err)
		}
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
		exe = path
	}
	u.executable = exe

	switch u.target.OS {
	case OSMacOS:
		u.installPath = BundlePathFromExecutable(exe)
	default:
		u.installPath = filepath.Dir(exe)
	}
	return nil
}

func (u *Updater) defaultSource() ReleaseSource {
	if u.cfg.ManifestPath != "" {
		return NewFileSource(u.cfg.ManifestPath)
	}
	opts := []SourceOption{
		WithHTTPClient(u.httpClient),
		WithHeaders(u.cfg.Headers),
		WithTimeout(u.cfg.Timeout),
	}
	if u.cfg.APIBaseURL != "" {
		opts = append(opts, WithBaseURL(u.cfg.APIBaseURL))
	}
	return NewGitHubSource(u.cfg.RepoOwner, u.cfg.RepoName, opts...)
}

func (u *Updater) newInstaller() PlatformInstaller {
	switch u.target.OS {
	case OSMacOS:
		elevator := u.elevator
		if elevator == nil {
			elevator = NewAppleScriptElevator()
		}
		b := newBundleInstaller(u.installPath, elevator)
		if u.images != nil {
			b.images = u.images
		}
		if u.rename != nil {
			b.rename = u.rename
		}
		return b
	case OSWindows:
		launcher := u.launcher
		if launcher == nil {
			launcher = NewShellLauncher()
		}
		return newWindowsInstaller(launcher, u.cfg.InstallerArgs)
	default:
		return nil
	}
}

// Close releases the journal.
func (u *Updater) Close() error {
	return u.journal.Close()
}

// Target returns the platform updates are resolved for.
func (u *Updater) Target() PlatformTarget {
	return u.target
}

// CurrentVersion returns the running version.
func (u *Updater) CurrentVersion() Version {
	return u.current
}

// InstallPath returns the bundle or directory that an install replaces.
func (u *Updater) InstallPath() string {
	return u.installPath
}

// Resolve lists releases and compares them to the running version.
// It has no side effects beyond the network request.
func (u *Updater) Resolve(ctx context.Context) (Resolution, error) {
	releases, err := u.source.Releases(ctx)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(u.current, releases, u.target, ResolveOptions{AllowPrerelease: u.cfg.AllowPrerelease})
}

// Check returns a plan when a compatible newer version exists, nil when
// the application is up to date, and a no_compatible_asset error when a
// newer version ships nothing for this platform.
func (u *Updater) Check(ctx context.Context) (*UpdatePlan, error) {
	res, err := u.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case StatusAvailable:
		return res.Plan, nil
	case StatusIncompatible:
		return nil, res.Err()
	default:
		return nil, nil
	}
}

// Download fetches the plan's asset into a fresh work directory and
// returns the artifact path. Work directories left by earlier attempts
// are swept first. A plan can be downloaded once; a failed download
// releases it for a retry.
func (u *Updater) Download(ctx context.Context, plan *UpdatePlan, progress ProgressFunc) (string, error) {
	if err := plan.claim(); err != nil {
		return "", err
	}

	if _, err := u.journal.Sweep(ctx, u.cfg.AppName, u.tmpRoot, ""); err != nil {
		debug.Logf("download: sweep: %v", err)
	}

	dir, err := newWorkDir(u.tmpRoot, u.cfg.AppName, plan.Target)
	if err != nil {
		plan.unclaim()
		return "", err
	}

	id := uuid.NewString()
	if u.journal != nil {
		if err := u.journal.Begin(ctx, Attempt{
			ID:            id,
			App:           u.cfg.AppName,
			TargetVersion: plan.Target.String(),
			WorkDir:       dir,
			State:         StateIdle,
		}); err != nil {
			debug.Logf("download: journal begin: %v", err)
		}
	}

	path, err := u.downloader.Download(ctx, plan.Asset, dir, progress)
	if err != nil {
		plan.unclaim()
		_ = os.RemoveAll(dir)
		u.record(id, StateFailed, err)
		return "", err
	}
	u.record(id, StateDownloaded, nil)
	return path, nil
}

func (u *Updater) record(id string, state InstallState, cause error) {
	if u.journal == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := u.journal.Record(context.Background(), id, state, "", msg); err != nil {
		debug.Logf("journal: %v", err)
	}
}

// Install validates and installs a downloaded artifact.
func (u *Updater) Install(ctx context.Context, artifact string) (*Installed, error) {
	if u.installer == nil {
		return nil, apperrors.New(apperrors.CodeUnsupported,
			fmt.Sprintf("installing is not supported on %s", u.target.OS), nil)
	}
	installed, err := u.orchestrator.Install(ctx, artifact)
	if err == nil {
		u.lastInstall = installed
	}
	return installed, err
}

// Update runs check, download, and install. It reports whether a new
// version was installed or handed to an installer.
func (u *Updater) Update(ctx context.Context, progress ProgressFunc) (bool, error) {
	plan, err := u.Check(ctx)
	if err != nil || plan == nil {
		return false, err
	}
	artifact, err := u.Download(ctx, plan, progress)
	if err != nil {
		return false, err
	}
	if _, err := u.Install(ctx, artifact); err != nil {
		return false, err
	}
	return true, nil
}

// Relaunch starts the installed version and exits the process.
func (u *Updater) Relaunch() error {
	handedOff := u.lastInstall != nil && u.lastInstall.HandedOff
	r := newRelauncher(u.target, u.installPath, u.executable, handedOff)
	if u.start != nil {
		r.start = u.start
	}
	if u.exit != nil {
		r.exit = u.exit
	}
	return r.Relaunch()
}

// Sweep removes work directories of earlier attempts and reports
// leftover backups.
func (u *Updater) Sweep(ctx context.Context) (SweepReport, error) {
	return u.journal.Sweep(ctx, u.cfg.AppName, u.tmpRoot, "")
}

// Attempts lists journaled attempts, oldest first. Without a journal the
// list is empty.
func (u *Updater) Attempts(ctx context.Context) ([]Attempt, error) {
	if u.journal == nil {
		return nil, nil
	}
	return u.journal.List(ctx, u.cfg.AppName)
}
