package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, []string{"src/index.tsx"}, cfg.Build.Entries)
	assert.Equal(t, "dist", cfg.Build.OutDir)
	assert.Equal(t, "esm", cfg.Build.Format)
	assert.Equal(t, "esbuild", cfg.Build.Command)
	assert.True(t, cfg.Build.HMR)
	assert.False(t, cfg.Build.Release)
	assert.Equal(t, ".", cfg.Watch.Root)
	assert.Contains(t, cfg.Watch.Ignore, "node_modules")
}

func TestLoadFromViperValues(t *testing.T) {
	resetViper(t)

	viper.Set("server.port", 8080)
	viper.Set("build.entries", []string{"app/main.ts", "app/admin.ts"})
	viper.Set("build.external", []string{"react"})
	viper.Set("build.hmr", false)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"app/main.ts", "app/admin.ts"}, cfg.Build.Entries)
	assert.Equal(t, []string{"react"}, cfg.Build.External)
	assert.False(t, cfg.Build.HMR)
}

func TestHMRPort(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 3000}}
	assert.Equal(t, 3010, cfg.HMRPort())
}

func TestValidatePortRange(t *testing.T) {
	resetViper(t)
	viper.Set("server.port", 70000)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateHostCharacters(t *testing.T) {
	resetViper(t)
	viper.Set("server.host", "localhost;rm -rf /")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateCopyRuleEscape(t *testing.T) {
	testCases := []struct {
		name    string
		to      string
		wantErr bool
	}{
		{"nested destination", "assets/static", false},
		{"root of outdir", ".", false},
		{"parent escape", "../outside", true},
		{"deep escape", "a/../../outside", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Server: ServerConfig{Port: 3000},
				Build: BuildConfig{
					Entries: []string{"src/index.tsx"},
					OutDir:  "dist",
					Format:  "esm",
					Copy:    []CopyRule{{From: "static", To: tc.to}},
				},
			}
			err := Validate(cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTLSPairing(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 3000, TLSCert: "cert.pem"},
		Build:  BuildConfig{Entries: []string{"src/index.tsx"}, OutDir: "dist", Format: "esm"},
	}
	assert.Error(t, Validate(cfg), "cert without key must be rejected")
}

func TestValidateTLSFilesMustExist(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")

	cfg := &Config{
		Server: ServerConfig{Port: 3000, TLSCert: cert, TLSKey: key},
		Build:  BuildConfig{Entries: []string{"src/index.tsx"}, OutDir: "dist", Format: "esm"},
	}
	assert.Error(t, Validate(cfg), "missing cert files must be rejected")

	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o644))
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o600))
	assert.NoError(t, Validate(cfg))
	assert.True(t, cfg.Secure())
}

func TestValidateFormat(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 3000},
		Build:  BuildConfig{Entries: []string{"a.ts"}, OutDir: "dist", Format: "umd"},
	}
	assert.Error(t, Validate(cfg))
}
