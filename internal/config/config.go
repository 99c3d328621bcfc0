// Package config loads uplift settings from layered YAML files, UPLIFT_*
// environment variables, and command-line overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyAppName    = "app.name"
	KeyAppVersion = "app.version"
	KeyRepoOwner  = "repo.owner"
	KeyRepoName   = "repo.name"
	KeyRepoAPIURL = "repo.api-url"

	KeyHTTPHeaders = "http.headers"
	KeyHTTPProxy   = "http.proxy"
	KeyHTTPTimeout = "http.timeout"

	KeyInstallExecutablePath = "install.executable-path"
	KeyInstallArgs           = "install.args"
	KeyInstallTempDir        = "install.temp-dir"

	KeyPlatformOS         = "platform.os"
	KeyPlatformArch       = "platform.arch"
	KeyPlatformNativeArch = "platform.native-arch"

	KeyReleasePrerelease = "release.prerelease"
	KeyReleaseManifest   = "release.manifest"

	KeyJournalPath = "journal.path"
	KeyDebug       = "debug"
)

const (
	// DefaultHTTPTimeout bounds a whole release listing or download.
	DefaultHTTPTimeout = 10 * time.Minute
	// DirName is the per-user and per-project configuration directory.
	DirName   = ".uplift"
	fileName  = "config.yaml"
	envPrefix = "UPLIFT"
)

// defaults lists every key with its zero configuration.
var defaults = map[string]any{
	KeyAppName:               "",
	KeyAppVersion:            "",
	KeyRepoOwner:             "",
	KeyRepoName:              "",
	KeyRepoAPIURL:            "",
	KeyHTTPHeaders:           map[string]string{},
	KeyHTTPProxy:             "",
	KeyHTTPTimeout:           DefaultHTTPTimeout,
	KeyInstallExecutablePath: "",
	KeyInstallArgs:           []string{},
	KeyInstallTempDir:        "",
	KeyPlatformOS:            "",
	KeyPlatformArch:          "",
	KeyPlatformNativeArch:    false,
	KeyReleasePrerelease:     false,
	KeyReleaseManifest:       "",
	KeyJournalPath:           "",
	KeyDebug:                 false,
}

type initSettings struct {
	workingDir        string
	projectConfigPath string
	userConfigPath    string
}

// Option configures Initialize. Tests use it to pin file locations.
type Option func(*initSettings)

// WithWorkingDir sets where project config discovery starts.
func WithWorkingDir(dir string) Option {
	return func(s *initSettings) { s.workingDir = dir }
}

// WithProjectConfig skips discovery and uses path as the project config.
func WithProjectConfig(path string) Option {
	return func(s *initSettings) { s.projectConfigPath = path }
}

// WithUserConfig replaces ~/.uplift/config.yaml.
func WithUserConfig(path string) Option {
	return func(s *initSettings) { s.userConfigPath = path }
}

var (
	once    sync.Once
	mu      sync.RWMutex
	current *viper.Viper
	initErr error

	// userConfigOverride replaces the user config path in tests.
	userConfigOverride string
)

// Initialize loads configuration once. Later sources win:
// defaults, user config, project config, environment, overrides.
func Initialize(opts ...Option) error {
	once.Do(func() {
		var s initSettings
		for _, opt := range opts {
			opt(&s)
		}
		if s.userConfigPath == "" {
			s.userConfigPath = userConfigOverride
		}
		initErr = load(s)
	})
	return initErr
}

func load(s initSettings) error {
	userPath := strings.TrimSpace(s.userConfigPath)
	if userPath == "" {
		p, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userPath = p
	}

	projectPath := strings.TrimSpace(s.projectConfigPath)
	if projectPath == "" {
		start := strings.TrimSpace(s.workingDir)
		if start == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("determine working directory: %w", err)
			}
			start = wd
		}
		p, err := findProjectConfig(start)
		if err != nil {
			return err
		}
		projectPath = p
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, layer := range []struct{ name, path string }{
		{"user", userPath},
		{"project", projectPath},
	} {
		if err := mergeFile(v, layer.path); err != nil {
			return fmt.Errorf("load %s config: %w", layer.name, err)
		}
	}

	mu.Lock()
	current = v
	mu.Unlock()
	return nil
}

// mergeFile layers the YAML at path onto v. Missing and empty files are
// skipped.
func mergeFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	//nolint:gosec // G304: reading user and project config is the point
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("read %s: %w", path, err)
	case len(bytes.TrimSpace(data)) == 0:
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, DirName, fileName), nil
}

// findProjectConfig walks from dir toward the root and returns the first
// .uplift/config.yaml, or "" when there is none.
func findProjectConfig(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, DirName, fileName)
		info, err := os.Stat(candidate)
		switch {
		case err == nil && info.IsDir():
			return "", fmt.Errorf("config path %s is a directory", candidate)
		case err == nil:
			return candidate, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func instance() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return nil, errors.New("configuration not initialized")
	}
	return current, nil
}

// lookup reads key with get, returning the zero value when configuration
// failed to load.
func lookup[T any](key string, get func(*viper.Viper, string) T) T {
	v, err := instance()
	if err != nil {
		var zero T
		return zero
	}
	return get(v, key)
}

// GetString returns a string setting.
func GetString(key string) string { return lookup(key, (*viper.Viper).GetString) }

// GetBool returns a boolean setting.
func GetBool(key string) bool { return lookup(key, (*viper.Viper).GetBool) }

// GetDuration returns a duration setting such as http.timeout.
func GetDuration(key string) time.Duration { return lookup(key, (*viper.Viper).GetDuration) }

// GetStringSlice returns a list setting such as install.args.
func GetStringSlice(key string) []string { return lookup(key, (*viper.Viper).GetStringSlice) }

// GetStringMapString returns a map setting such as http.headers. Keys read
// from files come back lowercased, which is harmless for header names.
func GetStringMapString(key string) map[string]string {
	return lookup(key, (*viper.Viper).GetStringMapString)
}

// Set changes one key in the live configuration.
func Set(key string, value any) error {
	return ApplyOverrides(map[string]any{key: value})
}

// ApplyOverrides sets values on top of every other source, typically from
// command-line flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	v, err := instance()
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	for key, value := range overrides {
		v.Set(key, value)
	}
	return nil
}

// DefaultJournalPath returns ~/.uplift/journal.db, used when journal.path is unset.
func DefaultJournalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, DirName, "journal.db"), nil
}

// SaveSetting writes key to the nearest project config when one exists,
// otherwise to the user config (creating its directory), and applies it to
// the live configuration. Other settings in the file are preserved.
func SaveSetting(key string, value any) error {
	target, err := writableConfigPath()
	if err != nil {
		return fmt.Errorf("find config path: %w", err)
	}

	file := viper.New()
	file.SetConfigType("yaml")
	file.SetConfigFile(target)
	if err := file.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read %s: %w", target, err)
		}
	}
	file.Set(key, value)

	//nolint:gosec // G301: user config directory uses standard permissions
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := file.WriteConfigAs(target); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return Set(key, value)
}

func writableConfigPath() (string, error) {
	if wd, err := os.Getwd(); err == nil {
		if p, err := findProjectConfig(wd); err == nil && p != "" {
			return p, nil
		}
	}
	if userConfigOverride != "" {
		return userConfigOverride, nil
	}
	return defaultUserConfigPath()
}

func reset() {
	mu.Lock()
	defer mu.Unlock()
	current = nil
	initErr = nil
	once = sync.Once{}
	userConfigOverride = ""
}

// ResetForTesting gives tests in other packages an empty configuration
// rooted in a temp directory. The returned function restores a clean
// state and should run at cleanup.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	userConfigOverride = filepath.Join(tmp, "user.yaml")
	_ = Initialize(WithWorkingDir(tmp))
	return reset
}
