package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	modDir := filepath.Join(dir, "modules")
	require.NoError(t, os.MkdirAll(modDir, 0755))

	cfg := fmt.Sprintf("modules:\n  dir: %q\nlogging:\n  format: json\n  level: error\n", modDir)
	path := filepath.Join(dir, "modkernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, modDir
}

func writeModule(t *testing.T, dir, name, depends string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("manifest.yaml")
	require.NoError(t, err)
	manifest := fmt.Sprintf("name: %s\nversion: \"2.1\"\nauthor: ozan\nmain: warehouse.%s\n", name, name)
	if depends != "" {
		manifest += "depends: " + depends + "\n"
	}
	_, err = w.Write([]byte(manifest))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, strings.ToLower(name)+".zip"), buf.Bytes(), 0644))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "modkernel dev")
}

func TestValidateCommand(t *testing.T) {
	path, modDir := setupWorkspace(t)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, modDir)
	assert.Contains(t, out, "Admin API:  disabled")
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modkernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: redis\n"), 0644))

	_, err := execute(t, "validate", "--config", path)
	require.ErrorIs(t, err, errInvalidConfig)
}

func TestModulesCommand(t *testing.T) {
	path, modDir := setupWorkspace(t)
	writeModule(t, modDir, "Core", "")
	writeModule(t, modDir, "Shop", "Core")

	out, err := execute(t, "modules", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Shop")
	assert.Contains(t, out, "Core")
}

func TestModulesCommand_Empty(t *testing.T) {
	path, _ := setupWorkspace(t)

	out, err := execute(t, "modules", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No modules in")
}

func TestExcludeInclude(t *testing.T) {
	path, modDir := setupWorkspace(t)
	writeModule(t, modDir, "Shop", "")

	out, err := execute(t, "exclude", "Shop", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Module Shop excluded (module.Shop.2.1.ozan.exclude)")

	data, err := os.ReadFile(filepath.Join(modDir, "modules.properties"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "module.Shop.2.1.ozan.exclude = true")

	out, err = execute(t, "modules", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "true")

	out, err = execute(t, "include", "shop", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Module Shop included")

	_, err = execute(t, "exclude", "Missing", "--config", path)
	require.Error(t, err)
}
