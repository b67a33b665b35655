package main

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/wearpkg/internal/config"
	"github.com/mattjoyce/wearpkg/internal/pkgfile"
	"github.com/mattjoyce/wearpkg/internal/stage"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestRunConfigCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "config.yaml")
	writeFile(t, good, "service:\n  name: check\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", good})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Configuration valid")

	badDir := t.TempDir()
	bad := filepath.Join(badDir, "config.yaml")
	writeFile(t, bad, "install:\n  queue_capacity: -1\n")

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", bad, "--json"})
	})
	assert.Equal(t, 1, code)

	var result checkResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Error, "install.queue_capacity")
}

func TestRunConfigLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "service:\n  name: lock\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", path, "--dry-run"})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "HASH ")
	assert.Contains(t, stdout, "Dry run")
	_, err := os.Stat(filepath.Join(dir, config.ChecksumsFile))
	assert.True(t, os.IsNotExist(err))

	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", path})
	})
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Wrote ")

	_, err = config.Load(path)
	assert.NoError(t, err)
}

func TestRunConfigNounUnknownAction(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"frobnicate"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown config action")
}

func TestPackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.yaml")
	writeFile(t, manifest, `
package: com.example.watchface
version_code: 7
target_sdk_version: 24
label: Watch Face
launcher: true
permissions:
  - android.permission.BODY_SENSORS
features:
  - name: android.hardware.type.watch
    required: true
`)

	icon := image.NewRGBA(image.Rect(0, 0, 2, 2))
	icon.Set(0, 0, color.RGBA{G: 255, A: 255})
	iconPath := filepath.Join(dir, "icon.png")
	f, err := os.Create(iconPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, icon))
	require.NoError(t, f.Close())

	for _, alg := range stage.SupportedAlgorithms {
		t.Run(alg, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "watchface.pkg")
			require.NoError(t, pack(manifest, iconPath, out, alg))

			stager, err := stage.New(t.TempDir(), "")
			require.NoError(t, err)
			src, err := os.Open(out)
			require.NoError(t, err)
			defer src.Close()

			art, err := stager.Stage(context.Background(), "com.example.watchface", src, alg)
			require.NoError(t, err)

			pkg, err := pkgfile.Parse(art.Path)
			require.NoError(t, err)
			assert.Equal(t, "com.example.watchface", pkg.Name)
			assert.Equal(t, int64(7), pkg.VersionCode)
			assert.Equal(t, 24, pkg.TargetSDKVersion)
			assert.True(t, pkg.HasLauncher)
			assert.Equal(t, []string{"android.permission.BODY_SENSORS"}, pkg.RequestedPermissions)
			require.NotNil(t, pkg.Icon)
			assert.Equal(t, icon.Bounds(), pkg.Icon.Bounds())
		})
	}
}

func TestPackRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.yaml")
	writeFile(t, manifest, "package: com.example.watchface\nversion_code: 1\n")
	out := filepath.Join(dir, "out.pkg")

	err := pack(manifest, "", out, "brotli")
	assert.Error(t, err)

	writeFile(t, manifest, "package: \"\"\n")
	err = pack(manifest, "", out, "")
	assert.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "failed pack must not leave output behind")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runPack([]string{"--manifest", manifest})
	})
	assert.Equal(t, 1, code)
	assert.True(t, strings.Contains(stderr, "--out"))
}
