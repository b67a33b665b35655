package pm

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/wearpkg/internal/pkgfile"
	"github.com/mattjoyce/wearpkg/internal/storage"
)

func newLocal(t *testing.T, features ...string) (*Local, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "packages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l, err := NewLocal(db, filepath.Join(dir, "installed"), features, logger)
	require.NoError(t, err)
	t.Cleanup(l.Wait)
	return l, &buf
}

func writePackage(t *testing.T, m pkgfile.Manifest) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), m.Package+".pkg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, pkgfile.Write(f, m, nil))
	require.NoError(t, f.Close())
	return path
}

func await(t *testing.T, ch <-chan Completion) Completion {
	t.Helper()
	c, ok := <-ch
	require.True(t, ok, "completion channel closed without a value")
	_, open := <-ch
	assert.False(t, open, "completion channel must be closed after one value")
	return c
}

func TestLocalInstallQueryUninstall(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()

	path := writePackage(t, pkgfile.Manifest{
		Package:     "com.example.watch",
		VersionCode: 3,
		Permissions: []string{"android.permission.VIBRATE", "android.permission.WAKE_LOCK"},
	})

	_, err := l.QueryInstalled(ctx, "com.example.watch")
	assert.ErrorIs(t, err, ErrNotFound)

	ch, err := l.Install(ctx, InstallParams{ArtifactPath: path, Originator: "com.example.watch"})
	require.NoError(t, err)
	c := await(t, ch)
	assert.True(t, c.Succeeded())
	assert.Equal(t, "com.example.watch", c.PackageName)

	// The artifact may be removed by the caller once completion is delivered.
	require.NoError(t, os.Remove(path))

	existing, err := l.QueryInstalled(ctx, "com.example.watch")
	require.NoError(t, err)
	assert.Equal(t, int64(3), existing.VersionCode)
	assert.Equal(t, []RequestedPermission{
		{Name: "android.permission.VIBRATE", Granted: true},
		{Name: "android.permission.WAKE_LOCK", Granted: true},
	}, existing.RequestedPermissions)
	assert.Len(t, existing.GrantedPermissions(), 2)

	ch, err = l.Uninstall(ctx, "com.example.watch", FlagDeleteAllUsers)
	require.NoError(t, err)
	assert.True(t, await(t, ch).Succeeded())

	_, err = l.QueryInstalled(ctx, "com.example.watch")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalInstallRequiresReplaceFlagForUpgrade(t *testing.T) {
	l, _ := newLocal(t)
	ctx := context.Background()

	v1 := writePackage(t, pkgfile.Manifest{Package: "com.example.watch", VersionCode: 1})
	ch, err := l.Install(ctx, InstallParams{ArtifactPath: v1})
	require.NoError(t, err)
	require.True(t, await(t, ch).Succeeded())

	v2 := writePackage(t, pkgfile.Manifest{Package: "com.example.watch", VersionCode: 2})
	ch, err = l.Install(ctx, InstallParams{ArtifactPath: v2})
	require.NoError(t, err)
	assert.Equal(t, ErrorAlreadyExists, await(t, ch).ReturnCode)

	ch, err = l.Install(ctx, InstallParams{ArtifactPath: v2, Flags: FlagReplaceExisting})
	require.NoError(t, err)
	require.True(t, await(t, ch).Succeeded())

	existing, err := l.QueryInstalled(ctx, "com.example.watch")
	require.NoError(t, err)
	assert.Equal(t, int64(2), existing.VersionCode)
}

func TestLocalInstallInvalidArchive(t *testing.T) {
	l, _ := newLocal(t)

	path := filepath.Join(t.TempDir(), "garbage.pkg")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o600))

	ch, err := l.Install(context.Background(), InstallParams{ArtifactPath: path})
	require.NoError(t, err)
	assert.Equal(t, ErrorInvalidArchive, await(t, ch).ReturnCode)

	_, err = l.Install(context.Background(), InstallParams{ArtifactPath: filepath.Join(t.TempDir(), "missing.pkg")})
	assert.Error(t, err)
}

func TestLocalUninstallUnknownPackage(t *testing.T) {
	l, buf := newLocal(t)

	ch, err := l.Uninstall(context.Background(), "com.example.unknown", FlagDeleteAllUsers)
	require.NoError(t, err)
	c := await(t, ch)
	assert.Equal(t, DeleteFailedInternal, c.ReturnCode)
	assert.False(t, c.Succeeded())
	assert.Contains(t, buf.String(), "cannot uninstall unknown package")

	_, err = l.Uninstall(context.Background(), " ", 0)
	assert.Error(t, err)
}

func TestLocalHasFeature(t *testing.T) {
	l, _ := newLocal(t, "android.hardware.type.watch")
	assert.True(t, l.HasFeature("android.hardware.type.watch"))
	assert.False(t, l.HasFeature("android.hardware.nfc"))
}

func TestFlagsAndGrantedPermissions(t *testing.T) {
	f := FlagReplaceExisting
	assert.True(t, f.Has(FlagReplaceExisting))
	assert.False(t, f.Has(FlagDeleteAllUsers))

	var nilPkg *ExistingPackage
	assert.Empty(t, nilPkg.GrantedPermissions())

	e := &ExistingPackage{RequestedPermissions: []RequestedPermission{{Name: "a", Granted: true}, {Name: "b"}}}
	assert.Equal(t, map[string]struct{}{"a": {}}, e.GrantedPermissions())
}
