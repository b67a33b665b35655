package content

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.pkg")
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o600))

	for _, locator := range []string{path, "file://" + path, "file://localhost" + path} {
		rc, err := FileSource{}.Open(context.Background(), locator)
		require.NoError(t, err, locator)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "bytes", string(data))
	}
}

func TestFileSourceOpenErrors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := FileSource{}.Open(ctx, filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, err = FileSource{}.Open(ctx, dir)
	assert.Error(t, err, "directories are not content")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = FileSource{}.Open(cancelled, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolvePath(t *testing.T) {
	got, err := ResolvePath(" /tmp/a.pkg ")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.pkg", got)

	for _, bad := range []string{"", "https://example.com/a.pkg", "file://remote/a.pkg", "file://"} {
		_, err := ResolvePath(bad)
		assert.Error(t, err, bad)
	}
}
