// Package config provides configuration management for devloop using Viper
// for flexible loading from files, environment variables, and command-line
// flags.
//
// The configuration system supports YAML files, environment variable
// overrides with a DEVLOOP_ prefix, and validation. It resolves the project
// manifest (.devloop.yml) into an immutable Config that is constructed once
// at startup and passed by reference to each component constructor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ManifestName is the base name of the project settings file. Changes to a
// file with this name trigger a rebuild without a client broadcast.
const ManifestName = ".devloop.yml"

// HMRPortOffset is added to the serving port to derive the live-reload port.
const HMRPortOffset = 10

// Config is the resolved project configuration. It is immutable once loaded.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Build  BuildConfig  `yaml:"build"`
	Watch  WatchConfig  `yaml:"watch"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Open    bool   `yaml:"open"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

type BuildConfig struct {
	Entries  []string   `yaml:"entries"`
	OutDir   string     `yaml:"out_dir"`
	Copy     []CopyRule `yaml:"copy"`
	External []string   `yaml:"external"`
	Release  bool       `yaml:"release"`
	Format   string     `yaml:"format"`
	HMR      bool       `yaml:"hmr"`
	Command  string     `yaml:"command"`
}

// CopyRule mirrors a static source tree into the output directory verbatim,
// outside the bundler's module graph.
type CopyRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type WatchConfig struct {
	Root   string   `yaml:"root"`
	Ignore []string `yaml:"ignore"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HMRPort returns the live-reload port derived from the serving port.
func (c *Config) HMRPort() int {
	return c.Server.Port + HMRPortOffset
}

// Secure reports whether the server should listen with TLS.
func (c *Config) Secure() bool {
	return c.Server.TLSCert != "" || c.Server.TLSKey != ""
}

// Load resolves the configuration from viper and applies defaults and
// validation.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Workarounds for viper slice handling when values come from the config
	// file rather than flags.
	if viper.IsSet("build.entries") && len(config.Build.Entries) == 0 {
		config.Build.Entries = viper.GetStringSlice("build.entries")
	}
	if viper.IsSet("build.external") && len(config.Build.External) == 0 {
		config.Build.External = viper.GetStringSlice("build.external")
	}
	if viper.IsSet("watch.ignore") && len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = viper.GetStringSlice("watch.ignore")
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 3000
	}
	if len(config.Build.Entries) == 0 {
		config.Build.Entries = []string{"src/index.tsx"}
	}
	if config.Build.OutDir == "" {
		config.Build.OutDir = "dist"
	}
	if config.Build.Format == "" {
		config.Build.Format = "esm"
	}
	if config.Build.Command == "" {
		config.Build.Command = "esbuild"
	}
	if !viper.IsSet("build.hmr") {
		config.Build.HMR = true
	}
	if config.Watch.Root == "" {
		config.Watch.Root = "."
	}
	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = []string{"node_modules", ".git"}
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Validate checks configuration values for security and correctness.
func Validate(config *Config) error {
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateBuild(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}
	return nil
}

func validateServer(server *ServerConfig) error {
	if server.Port < 0 || server.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", server.Port)
	}
	// The live-reload listener binds port+10 on the same host.
	if server.Port+HMRPortOffset > 65535 {
		return fmt.Errorf("port %d leaves no room for the live-reload port", server.Port)
	}

	if server.Host != "" {
		dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerous {
			if strings.Contains(server.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	// TLS is all-or-nothing, and missing material is a startup-fatal
	// configuration error rather than something to limp past.
	if (server.TLSCert == "") != (server.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	if server.TLSCert != "" {
		if _, err := os.Stat(server.TLSCert); err != nil {
			return fmt.Errorf("tls_cert: %w", err)
		}
		if _, err := os.Stat(server.TLSKey); err != nil {
			return fmt.Errorf("tls_key: %w", err)
		}
	}

	return nil
}

func validateBuild(build *BuildConfig) error {
	if len(build.Entries) == 0 {
		return fmt.Errorf("at least one entry point is required")
	}

	outDir := filepath.Clean(build.OutDir)
	if strings.Contains(outDir, "..") {
		return fmt.Errorf("out_dir contains path traversal: %s", build.OutDir)
	}

	switch build.Format {
	case "esm", "cjs", "iife":
	default:
		return fmt.Errorf("unknown module format %q", build.Format)
	}

	// Every copy destination must resolve inside the output directory.
	for _, rule := range build.Copy {
		if rule.From == "" || rule.To == "" {
			return fmt.Errorf("copy rule requires both from and to")
		}
		dest := filepath.Clean(filepath.Join(outDir, rule.To))
		if dest != outDir && !strings.HasPrefix(dest, outDir+string(os.PathSeparator)) {
			return fmt.Errorf("copy destination %q escapes output directory %q", rule.To, build.OutDir)
		}
	}

	return nil
}
