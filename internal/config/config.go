// Package config loads the single configuration object of spec §6 via
// github.com/spf13/viper, grounded on ipiton-alert-history-service's
// viper-based config loading in the retrieval pack: built-in defaults, an
// optional YAML file, and PKG_-prefixed environment variables, in
// ascending precedence (per viper's normal resolution order).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the configuration object of spec §6. There is no package-level
// singleton instance: Load returns a value the caller threads explicitly,
// per the §9 rearchitecture note replacing process-wide config/event/repo
// singletons with an explicit Context.
type Config struct {
	DBDir    string `mapstructure:"dbdir"`
	CacheDir string `mapstructure:"cachedir"`
	ABI      string `mapstructure:"abi"`

	AssumeAlwaysYes  bool `mapstructure:"assume_always_yes"`
	DefaultAlwaysYes bool `mapstructure:"default_always_yes"`
	RepoAutoupdate   bool `mapstructure:"repo_autoupdate"`
	HandleRCScripts  bool `mapstructure:"handle_rc_scripts"`
	AutoClean        bool `mapstructure:"autoclean"`
	Permissive       bool `mapstructure:"permissive"`
	CaseSensitive    bool `mapstructure:"case_sensitive_match"`
	RunScripts       bool `mapstructure:"run_scripts"`
	DebugLevel       int  `mapstructure:"debug_level"`

	FetchRetry   int `mapstructure:"fetch_retry"`
	FetchTimeout int `mapstructure:"fetch_timeout"`

	UnsetTimestamp bool `mapstructure:"unset_timestamp"`

	ReposDir []string `mapstructure:"repos_dir"`

	PluginsConfDir   string   `mapstructure:"plugins_conf_dir"`
	PkgEnablePlugins bool     `mapstructure:"pkg_enable_plugins"`
	Plugins          []string `mapstructure:"plugins"`

	EventPipe string `mapstructure:"event_pipe"`

	BackupLibraryDir string `mapstructure:"backup_library_dir"`
}

// Defaults mirrors the conventional defaults spec §6 implies for each
// field (a fresh install with no env/file overrides).
func Defaults() Config {
	return Config{
		DBDir:            "/var/db/pkg",
		CacheDir:         "/var/cache/pkg",
		ABI:              "",
		FetchRetry:       3,
		FetchTimeout:     30,
		RunScripts:       true,
		BackupLibraryDir: "/usr/local/lib/compat/pkg",
	}
}

// Load builds a Config from, in ascending precedence: built-in defaults,
// an optional YAML file at path (skipped if path is ""), and PKG_-prefixed
// environment variables (e.g. PKG_DBDIR, PKG_CACHEDIR, PKG_ASSUME_ALWAYS_YES).
func Load(path string) (Config, error) {
	v := viper.New()
	def := Defaults()
	v.SetDefault("dbdir", def.DBDir)
	v.SetDefault("cachedir", def.CacheDir)
	v.SetDefault("fetch_retry", def.FetchRetry)
	v.SetDefault("fetch_timeout", def.FetchTimeout)
	v.SetDefault("run_scripts", def.RunScripts)
	v.SetDefault("backup_library_dir", def.BackupLibraryDir)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("PKG")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Unmarshal only sees keys viper already knows; bind the keys that have
	// no default so their PKG_ variables are read too.
	for _, key := range []string{"abi", "assume_always_yes", "default_always_yes", "repo_autoupdate",
		"handle_rc_scripts", "autoclean", "permissive", "case_sensitive_match", "debug_level",
		"unset_timestamp", "repos_dir", "plugins_conf_dir", "pkg_enable_plugins", "plugins", "event_pipe"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return cfg, nil
}
