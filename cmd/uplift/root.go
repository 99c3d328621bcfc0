package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"uplift/internal/config"
	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
	"uplift/internal/update"
)

// app carries the output streams and test seams shared by every command.
type app struct {
	out    io.Writer
	errOut io.Writer
	plain  bool

	// opts are appended to every update.New call; tests inject fakes here.
	opts      []update.UpdaterOption
	clipboard func(string) error
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:       out,
		errOut:    errOut,
		clipboard: writeClipboard,
	}
}

// Flags whose values map one-to-one onto configuration keys.
var (
	stringFlagKeys = map[string]string{
		"app":             config.KeyAppName,
		"current-version": config.KeyAppVersion,
		"owner":           config.KeyRepoOwner,
		"repo":            config.KeyRepoName,
		"api-url":         config.KeyRepoAPIURL,
		"manifest":        config.KeyReleaseManifest,
		"proxy":           config.KeyHTTPProxy,
		"executable":      config.KeyInstallExecutablePath,
		"temp-dir":        config.KeyInstallTempDir,
		"os":              config.KeyPlatformOS,
		"arch":            config.KeyPlatformArch,
		"journal":         config.KeyJournalPath,
	}
	boolFlagKeys = map[string]string{
		"native-arch": config.KeyPlatformNativeArch,
		"prerelease":  config.KeyReleasePrerelease,
		"debug":       config.KeyDebug,
	}
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "uplift",
		Short: "Check for, download, and install desktop application updates",
		Long: `uplift finds the newest release of a desktop application on GitHub (or in a
local manifest), downloads the asset built for this platform, and installs it.

On macOS the .app bundle is swapped in place, asking for administrator rights
once if needed and restoring the previous bundle on failure. On Windows the
downloaded installer is started with elevation and takes over.

Settings come from ~/.uplift/config.yaml, a .uplift/config.yaml found in the
working directory or a parent, UPLIFT_* environment variables, and flags, in
increasing order of precedence.

Exit status: 0 success, 1 error, 2 configuration error, 3 no asset for this
platform, 4 elevation denied, 5 rollback failed (installation needs repair).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			debug.Close()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.String("app", "", "Application name (namespaces temp dirs and journal rows)")
	flags.String("current-version", "", "Version of the installed application")
	flags.String("owner", "", "GitHub repository owner")
	flags.String("repo", "", "GitHub repository name")
	flags.String("api-url", "", "GitHub API base URL (for GitHub Enterprise)")
	flags.String("manifest", "", "Read releases from a local .yaml, .toml, or .json manifest instead of GitHub")
	flags.String("proxy", "", "Proxy URL (http, https, socks5)")
	flags.Duration("timeout", config.DefaultHTTPTimeout, "Limit for each network operation (0 disables)")
	flags.StringToString("header", nil, "Extra request header, as name=value (repeatable)")
	flags.String("executable", "", "Path of the installed executable (defaults to this process)")
	flags.StringArray("installer-arg", nil, "Argument passed to the Windows installer (repeatable)")
	flags.String("temp-dir", "", "Parent directory for download work directories")
	flags.String("os", "", "Target OS override: macos, windows, linux")
	flags.String("arch", "", "Target architecture override: x64, arm64")
	flags.Bool("native-arch", false, "Prefer the kernel-reported architecture over the build's")
	flags.Bool("prerelease", false, "Consider prerelease versions")
	flags.String("journal", "", `Attempt journal database (default ~/.uplift/journal.db, "off" disables)`)
	flags.Bool("debug", false, "Write a debug log to ~/.uplift/debug.log")
	flags.BoolVar(&a.plain, "plain", false, "Plain line output without colors or animation")

	_ = root.RegisterFlagCompletionFunc("os", fixedCompletion(string(update.OSMacOS), string(update.OSWindows), string(update.OSLinux)))
	_ = root.RegisterFlagCompletionFunc("arch", fixedCompletion(string(update.ArchX64), string(update.ArchArm64)))

	root.AddCommand(
		newCheckCmd(a),
		newDownloadCmd(a),
		newInstallCmd(a),
		newUpdateCmd(a),
		newSweepCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

func fixedCompletion(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

// setup loads configuration, layers explicitly set flags on top, and
// starts debug logging.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Initialize(); err != nil {
		return apperrors.New(apperrors.CodeConfigurationError, "load configuration", err)
	}
	overrides, err := collectOverrides(cmd.Flags())
	if err != nil {
		return apperrors.New(apperrors.CodeConfigurationError, "read flags", err)
	}
	if err := config.ApplyOverrides(overrides); err != nil {
		return apperrors.New(apperrors.CodeConfigurationError, "apply flags", err)
	}
	if err := debug.Init(config.GetBool(config.KeyDebug)); err != nil {
		_, _ = fmt.Fprintf(a.errOut, "Warning: debug logging disabled: %v\n", err)
	}
	if !a.plain && !isTerminal(a.out) {
		a.plain = true
	}
	return nil
}

// collectOverrides returns the configuration values of flags the user set
// explicitly, so unset flags never mask config files or the environment.
func collectOverrides(flags *pflag.FlagSet) (map[string]any, error) {
	overrides := map[string]any{}
	for name, key := range stringFlagKeys {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return nil, err
		}
		overrides[key] = strings.TrimSpace(v)
	}
	for name, key := range boolFlagKeys {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return nil, err
		}
		overrides[key] = v
	}
	if flags.Changed("timeout") {
		v, err := flags.GetDuration("timeout")
		if err != nil {
			return nil, err
		}
		overrides[config.KeyHTTPTimeout] = v
	}
	if flags.Changed("header") {
		v, err := flags.GetStringToString("header")
		if err != nil {
			return nil, err
		}
		overrides[config.KeyHTTPHeaders] = v
	}
	if flags.Changed("installer-arg") {
		v, err := flags.GetStringArray("installer-arg")
		if err != nil {
			return nil, err
		}
		overrides[config.KeyInstallArgs] = v
	}
	return overrides, nil
}

// buildConfig turns the merged configuration into an update.Config.
func buildConfig() (update.Config, error) {
	platform, err := update.ResolvePlatform(
		config.GetString(config.KeyPlatformOS),
		config.GetString(config.KeyPlatformArch),
		config.GetBool(config.KeyPlatformNativeArch),
	)
	if err != nil {
		return update.Config{}, err
	}

	journalPath := strings.TrimSpace(config.GetString(config.KeyJournalPath))
	switch strings.ToLower(journalPath) {
	case "":
		journalPath, err = config.DefaultJournalPath()
		if err != nil {
			return update.Config{}, apperrors.New(apperrors.CodeConfigurationError, "journal path", err)
		}
	case "off", "none":
		journalPath = ""
	}

	return update.Config{
		AppName:         config.GetString(config.KeyAppName),
		CurrentVersion:  config.GetString(config.KeyAppVersion),
		RepoOwner:       config.GetString(config.KeyRepoOwner),
		RepoName:        config.GetString(config.KeyRepoName),
		APIBaseURL:      config.GetString(config.KeyRepoAPIURL),
		ManifestPath:    config.GetString(config.KeyReleaseManifest),
		Headers:         config.GetStringMapString(config.KeyHTTPHeaders),
		Proxy:           config.GetString(config.KeyHTTPProxy),
		Timeout:         config.GetDuration(config.KeyHTTPTimeout),
		ExecutablePath:  config.GetString(config.KeyInstallExecutablePath),
		InstallerArgs:   config.GetStringSlice(config.KeyInstallArgs),
		Platform:        platform,
		NativeArch:      config.GetBool(config.KeyPlatformNativeArch),
		AllowPrerelease: config.GetBool(config.KeyReleasePrerelease),
		JournalPath:     journalPath,
	}, nil
}

// updater builds an Updater from the current configuration.
func (a *app) updater() (*update.Updater, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	opts := []update.UpdaterOption{}
	if dir := strings.TrimSpace(config.GetString(config.KeyInstallTempDir)); dir != "" {
		opts = append(opts, update.WithTempDir(dir))
	}
	return update.New(cfg, append(opts, a.opts...)...)
}

func closeUpdater(u *update.Updater) {
	if err := u.Close(); err != nil {
		debug.Logf("close updater: %v", err)
	}
}

// isTerminal reports whether w is a terminal that accepts colors and
// cursor movement. NO_COLOR and redirected output both count as no.
func isTerminal(w io.Writer) bool {
	return termenv.NewOutput(w).EnvColorProfile() != termenv.Ascii
}
