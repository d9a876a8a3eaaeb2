// Package config loads corral's TOML configuration file; environment
// variables override the file, which overrides built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	corralerrors "github.com/corralhq/corral/internal/common/errors"
)

// ProviderConfig is one [providers.<name>] table: a named, configured
// binding of a provider backend.
type ProviderConfig struct {
	Backend string         `mapstructure:"backend"`
	Fields  map[string]any `mapstructure:",remain"`
}

// AgentTypeConfig is one [agent_types.<name>] table.
type AgentTypeConfig struct {
	Command string   `mapstructure:"command"`
	CLIArgs []string `mapstructure:"cli_args"`
}

// Config holds all top-level configuration for corral.
type Config struct {
	DefaultHostDir  string                     `mapstructure:"default_host_dir"`
	Prefix          string                     `mapstructure:"prefix"`
	EnabledBackends []string                   `mapstructure:"enabled_backends"`
	DisabledPlugins []string                   `mapstructure:"disabled_plugins"`
	Providers       map[string]ProviderConfig  `mapstructure:"providers"`
	AgentTypes      map[string]AgentTypeConfig `mapstructure:"agent_types"`
	Logging         logLoggingConfig           `mapstructure:"logging"`

	// known top-level keys, used to detect and warn about unknown ones
	// per spec §6 ("Unknown top-level keys warn and are ignored").
}

type logLoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

var knownTopLevelKeys = map[string]bool{
	"default_host_dir": true,
	"prefix":            true,
	"enabled_backends":  true,
	"disabled_plugins":  true,
	"providers":         true,
	"agent_types":       true,
	"logging":           true,
}

var requiredProviderKeys = map[string]bool{
	"backend": true,
}

// DefaultHostDir returns "~/.corral/" with $HOME expanded.
func DefaultHostDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".corral")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_host_dir", DefaultHostDir())
	v.SetDefault("prefix", "corral-")
	v.SetDefault("enabled_backends", []string{"local"})
	v.SetDefault("disabled_plugins", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from $HOST_DIR/config.toml (or the given path),
// environment variables (CORRAL_ prefix), and defaults; per viper's merge
// rules env overrides file, which overrides defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CORRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("toml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(DefaultHostDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, corralerrors.Config("error reading config file: %v", err)
		}
	}

	warnUnknownTopLevelKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, corralerrors.Config("error unmarshaling config: %v", err)
	}

	if err := validateProviders(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func warnUnknownTopLevelKeys(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		top := strings.SplitN(key, ".", 2)[0]
		if !knownTopLevelKeys[top] {
			fmt.Fprintf(os.Stderr, "corral: warning: unknown config key %q ignored\n", top)
		}
	}
}

// validateProviders enforces that every [providers.<name>] table declares
// backend= and rejects genuinely unknown provider keys (spec §6: "unknown
// provider keys error", distinct from unknown top-level keys which only
// warn).
func validateProviders(cfg *Config) error {
	knownKeys := map[string]map[string]bool{
		"local":         {},
		"docker":        {"image": true, "docker_api": true, "bind_root": true},
		"ssh":           {"hosts": true},
		"cloud-sandbox": {"api_token": true, "image": true},
	}
	for name, p := range cfg.Providers {
		if p.Backend == "" {
			return corralerrors.Config("providers.%s: missing required field 'backend'", name)
		}
		allowed, ok := knownKeys[p.Backend]
		if !ok {
			continue // unknown backend names are reported when backends are built
		}
		for key := range p.Fields {
			if !allowed[key] {
				return corralerrors.Config("providers.%s: unknown key %q for backend %q", name, key, p.Backend)
			}
		}
	}
	return nil
}
