package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecBundlerArguments(t *testing.T) {
	b := NewExecBundler("esbuild", ".")

	args, err := b.arguments(BundleConfig{
		Entries:   []string{"src/index.tsx", "src/admin.tsx"},
		OutDir:    "dist",
		Platform:  "browser",
		Format:    "esm",
		Minify:    true,
		Sourcemap: "inline",
		Defines:   map[string]string{"DEBUG": "false"},
		Loaders:   map[string]string{".png": "file", ".svg": "file"},
		External:  []string{"react"},
		Banner:    "/* hmr */",
	})
	require.NoError(t, err)

	assert.Equal(t, "src/index.tsx", args[0])
	assert.Equal(t, "src/admin.tsx", args[1])
	assert.Contains(t, args, "--bundle")
	assert.Contains(t, args, "--outdir=dist")
	assert.Contains(t, args, "--platform=browser")
	assert.Contains(t, args, "--format=esm")
	assert.Contains(t, args, "--minify")
	assert.Contains(t, args, "--sourcemap=inline")
	assert.Contains(t, args, "--define:DEBUG=false")
	assert.Contains(t, args, "--loader:.png=file")
	assert.Contains(t, args, "--loader:.svg=file")
	assert.Contains(t, args, "--external:react")
	assert.Contains(t, args, "--banner:js=/* hmr */")
	assert.Contains(t, args, "--asset-names=assets/[name]-[hash]")
}

func TestExecBundlerArgumentsOmitOptionalFlags(t *testing.T) {
	b := NewExecBundler("esbuild", ".")

	args, err := b.arguments(BundleConfig{
		Entries: []string{"src/index.tsx"},
		OutDir:  "dist",
	})
	require.NoError(t, err)

	assert.NotContains(t, args, "--minify")
	for _, arg := range args {
		assert.NotContains(t, arg, "--sourcemap")
		assert.NotContains(t, arg, "--banner")
	}
}

func TestExecBundlerRejectsUnknownCommand(t *testing.T) {
	b := NewExecBundler("webpack", ".")

	_, err := b.arguments(BundleConfig{Entries: []string{"a.ts"}, OutDir: "dist"})
	assert.Error(t, err)
}

func TestExecBundlerRejectsInjectionInEntries(t *testing.T) {
	b := NewExecBundler("esbuild", ".")

	_, err := b.arguments(BundleConfig{
		Entries: []string{"src/index.tsx; rm -rf /"},
		OutDir:  "dist",
	})
	assert.Error(t, err)
}

func TestParseDiagnostics(t *testing.T) {
	msgs := parseDiagnostics([]byte("error: unexpected token\n\n1 error\n"))
	require.Len(t, msgs, 2)
	assert.Equal(t, "error: unexpected token", msgs[0].Text)

	empty := parseDiagnostics(nil)
	require.Len(t, empty, 1)
	assert.NotEmpty(t, empty[0].Text)
}
