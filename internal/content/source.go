// Package content opens install content addressed by a locator.
package content

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// FileSource opens file:// URIs and plain filesystem paths.
type FileSource struct{}

func (FileSource) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := ResolvePath(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open content %q: %w", locator, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat content %q: %w", locator, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("content %q is not a regular file", locator)
	}
	return f, nil
}

// ResolvePath turns a locator into a filesystem path. Only the file scheme
// is understood; other schemes are rejected.
func ResolvePath(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("locator is empty")
	}
	if !strings.Contains(locator, "://") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("parse locator %q: %w", locator, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported locator scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("locator %q names a remote host", locator)
	}
	if u.Path == "" {
		return "", fmt.Errorf("locator %q has no path", locator)
	}
	return u.Path, nil
}
