package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uplift/internal/config"
	apperrors "uplift/internal/errors"
	"uplift/internal/update"
)

func newCheckCmd(a *app) *cobra.Command {
	var notes bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a newer compatible release exists",
		Long: `Check lists releases and compares them with the installed version.
It never downloads or changes anything on disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.updater()
			if err != nil {
				return err
			}
			defer closeUpdater(u)

			res, err := u.Resolve(cmd.Context())
			if err != nil {
				return err
			}
			a.printResolution(cmd.OutOrStdout(), u, res, notes)
			return res.Err()
		},
	}
	cmd.Flags().BoolVar(&notes, "notes", true, "Show release notes")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download the newest compatible release into a work directory",
		Long: `Download resolves the newest compatible release and saves its asset into a
fresh work directory, printing the artifact path. Work directories left by
earlier attempts are removed first. Pass the path to "uplift install".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.updater()
			if err != nil {
				return err
			}
			defer closeUpdater(u)

			plan, err := u.Check(cmd.Context())
			if err != nil {
				return err
			}
			if plan == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", u.CurrentVersion())
				return nil
			}
			artifact, err := a.download(cmd.Context(), u, plan)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), artifact)
			return nil
		},
	}
}

func newInstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install <artifact>",
		Short: "Install a downloaded artifact",
		Long: `Install validates a downloaded .app.zip, .dmg, .exe, or .msi and installs it.
The artifact's work directory is removed afterwards, except when a Windows
installer is still running from it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.updater()
			if err != nil {
				return err
			}
			defer closeUpdater(u)

			artifact, err := filepath.Abs(args[0])
			if err != nil {
				return apperrors.New(apperrors.CodeIO, "resolve artifact path", err)
			}
			installed, err := a.install(cmd.Context(), u, artifact)
			a.printInstalled(cmd.OutOrStdout(), installed, err)
			return err
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var relaunch bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check, download, and install in one step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.updater()
			if err != nil {
				return err
			}
			defer closeUpdater(u)

			out := cmd.OutOrStdout()
			res, err := u.Resolve(cmd.Context())
			if err != nil {
				return err
			}
			a.printResolution(out, u, res, false)
			if res.Status != update.StatusAvailable {
				return res.Err()
			}

			artifact, err := a.download(cmd.Context(), u, res.Plan)
			if err != nil {
				return err
			}
			installed, err := a.install(cmd.Context(), u, artifact)
			a.printInstalled(out, installed, err)
			if err != nil || !relaunch {
				return err
			}
			closeUpdater(u)
			return u.Relaunch()
		},
	}
	cmd.Flags().BoolVar(&relaunch, "relaunch", false, "Start the new version and exit after a successful install")
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove work directories left by earlier attempts",
		Long: `Sweep marks journaled attempts that never finished as failed, deletes their
work directories and any other leftover ones, and lists backups that still
sit next to the installation. Backups are never deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.updater()
			if err != nil {
				return err
			}
			defer closeUpdater(u)

			report, err := u.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			a.printSweep(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List journaled update attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.updater()
			if err != nil {
				return err
			}
			defer closeUpdater(u)

			attempts, err := u.Attempts(cmd.Context())
			if err != nil {
				return err
			}
			a.printHistory(cmd.OutOrStdout(), attempts)
			return nil
		},
	}
}

// settableKeys are the keys "config set" accepts, with how to parse them.
var settableKeys = map[string]func(string) (any, error){
	config.KeyAppName:               parseString,
	config.KeyAppVersion:            parseString,
	config.KeyRepoOwner:             parseString,
	config.KeyRepoName:              parseString,
	config.KeyRepoAPIURL:            parseString,
	config.KeyHTTPProxy:             parseString,
	config.KeyHTTPTimeout:           parseDuration,
	config.KeyInstallExecutablePath: parseString,
	config.KeyInstallTempDir:        parseString,
	config.KeyPlatformOS:            parseOS,
	config.KeyPlatformArch:          parseArch,
	config.KeyPlatformNativeArch:    parseBool,
	config.KeyReleasePrerelease:     parseBool,
	config.KeyReleaseManifest:       parseString,
	config.KeyJournalPath:           parseString,
	config.KeyDebug:                 parseBool,
}

func parseString(s string) (any, error) { return s, nil }

func parseBool(s string) (any, error) { return strconv.ParseBool(s) }

func parseOS(s string) (any, error) {
	os, err := update.ParseOS(s)
	return string(os), err
}

func parseArch(s string) (any, error) {
	arch, err := update.ParseArch(s)
	return string(arch), err
}

func parseDuration(s string) (any, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, err
	}
	return d.String(), nil
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change saved settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Save a setting to the project or user config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(strings.TrimSpace(args[0]))
			parse, ok := settableKeys[key]
			if !ok {
				return apperrors.New(apperrors.CodeConfigurationError,
					fmt.Sprintf("unknown setting %q (known: %s)", key, strings.Join(settableKeyNames(), ", ")), nil)
			}
			value, err := parse(args[1])
			if err != nil {
				return apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("invalid value for %s", key), err)
			}
			if err := config.SaveSetting(key, value); err != nil {
				return apperrors.New(apperrors.CodeIO, "save setting", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(strings.TrimSpace(args[0]))
			if _, ok := settableKeys[key]; !ok {
				return apperrors.New(apperrors.CodeConfigurationError, fmt.Sprintf("unknown setting %q", key), nil)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.GetString(key))
			return nil
		},
	})
	return cmd
}

func settableKeyNames() []string {
	names := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

// download runs u.Download behind a progress display.
func (a *app) download(ctx context.Context, u *update.Updater, plan *update.UpdatePlan) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rep := a.newReporter(cancel)
	defer rep.Stop()
	rep.Stage("Downloading", plan.Asset.Name)

	var received int64
	return u.Download(ctx, plan, func(n int) {
		received += int64(n)
		rep.Progress(received, plan.Asset.Size)
	})
}

// install runs u.Install behind a spinner.
func (a *app) install(ctx context.Context, u *update.Updater, artifact string) (*update.Installed, error) {
	rep := a.newReporter(nil)
	rep.Stage("Installing", u.InstallPath())
	installed, err := u.Install(ctx, artifact)
	rep.Stop()
	return installed, err
}
