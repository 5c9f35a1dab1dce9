package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load. A double
// underscore separates nesting levels: SCHEMASYNC_FETCH__TIMEOUT sets
// fetch.timeout.
const EnvPrefix = "SCHEMASYNC_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

var configNames = []string{"schemasync.yaml", "schemasync.yml"}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"host":          "host",
	"workspace":     "workspace",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"metrics-addr":  "metrics.addr",
	"fetch-timeout": "fetch.timeout",
	"bypass-cache":  "fetch.bypass_cache",
	"retry-failed":  "fetch.retry_failed",
	"reject-stale":  "fetch.reject_stale",
	"server-cmd":    "server.command",
}

// FlagKey returns the config key a command-line flag overrides.
func FlagKey(flag string) (string, bool) {
	key, ok := flagKeys[flag]
	return key, ok
}

// Defaults returns the default configuration values keyed by config path.
func Defaults() map[string]any {
	return map[string]any{
		"host":               DefaultHost,
		"workspace":          ".",
		"language_ids":       []string{"kusto", "sql"},
		"notebook_types":     []string{"kusto-notebook", "jupyter-notebook"},
		"server.command":     "",
		"server.args":        []string{},
		"server.timeout":     DefaultServerTimeout,
		"fetch.timeout":      DefaultFetchTimeout,
		"fetch.bypass_cache": false,
		"fetch.retry_failed": false,
		"fetch.reject_stale": true,
		"log.level":          DefaultLogLevel,
		"log.format":         DefaultLogFormat,
		"metrics.addr":       "",
	}
}

// Default configuration values.
const (
	DefaultHost          = "desktop"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultFetchTimeout  = "30s"
	DefaultServerTimeout = "10s"
)

// findConfigFile searches upward from startDir for a schemasync config
// file. Returns empty string if none is found within maxUpwardSearchLevels.
func findConfigFile(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load loads configuration from defaults, the config file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults. An explicit cfgFile must exist; otherwise the
// nearest schemasync.yaml above the working directory is used if present.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	root := cwd
	if cfgFile == "" {
		cfgFile = findConfigFile(cwd)
	} else if _, err := os.Stat(cfgFile); err != nil {
		return nil, fmt.Errorf("config file %s: %w", cfgFile, err)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		if abs, err := filepath.Abs(cfgFile); err == nil {
			root = filepath.Dir(abs)
		}
	}

	// 3. Environment: SCHEMASYNC_LOG__LEVEL -> log.level
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	workspaceFromFlag := false
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			if key == "workspace" {
				workspaceFromFlag = true
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Env vars arrive as plain strings, so list keys are split on commas.
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = cfgFile

	// Flag paths are relative to the working directory, file paths to the
	// config file's directory.
	base := root
	if workspaceFromFlag {
		base = cwd
	}
	cfg.Workspace = resolvePathRelativeTo(expandEnvVars(cfg.Workspace), base)
	cfg.Server.Command = expandEnvVars(cfg.Server.Command)
	for i, arg := range cfg.Server.Args {
		cfg.Server.Args[i] = expandEnvVars(arg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
// Unset variables are left as-is.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}
