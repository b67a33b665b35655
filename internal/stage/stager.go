// Package stage keeps private, package-name addressed copies of install
// content and application icons while a request is being processed.
//
// Paths are keyed only by package name. Callers must serialize work per name;
// the install worker holds back an install until any earlier install of the
// same package has completed.
package stage

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	packageExt = ".pkg"
	iconExt    = ".png"
	iconDir    = "icons"
)

var (
	ErrStagingFailed      = errors.New("staging failed")
	ErrIconEncodingFailed = errors.New("icon encoding failed")
)

// Artifact describes a staged package file.
type Artifact struct {
	PackageName string
	Path        string
	Size        int64
	// Digest is the BLAKE3 hex digest of the staged (decompressed) bytes.
	Digest    string
	CreatedAt time.Time
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedFiles int
}

// Stager owns the staging directory. No other component reads or writes there.
type Stager struct {
	baseDir       string
	iconURIPrefix string
	now           func() time.Time
}

// New creates a stager rooted at baseDir. Icon URIs are iconURIPrefix followed
// by the package name; with an empty prefix a file:// URI is returned.
func New(baseDir, iconURIPrefix string) (*Stager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("staging base directory is empty")
	}
	return &Stager{
		baseDir:       filepath.Clean(trimmed),
		iconURIPrefix: iconURIPrefix,
		now:           time.Now,
	}, nil
}

func (s *Stager) BaseDir() string { return s.baseDir }

// Path returns the staged package path for packageName.
func (s *Stager) Path(packageName string) (string, error) {
	if err := ValidatePackageName(packageName); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, packageName+packageExt), nil
}

// IconPath returns the staged icon path for packageName.
func (s *Stager) IconPath(packageName string) (string, error) {
	if err := ValidatePackageName(packageName); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, iconDir, packageName+iconExt), nil
}

// Stage copies src into the staging path for packageName, decompressing it
// with algorithm. Any previously staged file for the name is replaced.
func (s *Stager) Stage(ctx context.Context, packageName string, src io.Reader, algorithm string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrStagingFailed, err)
	}
	path, err := s.Path(packageName)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrStagingFailed, err)
	}

	dec, err := newDecompressor(algorithm, src)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %q: %w", ErrStagingFailed, packageName, err)
	}
	defer dec.Close()

	if err := os.MkdirAll(s.baseDir, 0o700); err != nil {
		return Artifact{}, fmt.Errorf("%w: create staging directory: %w", ErrStagingFailed, err)
	}

	tmp, err := os.CreateTemp(s.baseDir, "."+packageName+".*.tmp")
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: create temp file: %w", ErrStagingFailed, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), &ctxReader{ctx: ctx, r: dec})
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: copy %q: %w", ErrStagingFailed, packageName, err)
	}
	if err := tmp.Sync(); err != nil {
		return Artifact{}, fmt.Errorf("%w: sync %q: %w", ErrStagingFailed, packageName, err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("%w: close %q: %w", ErrStagingFailed, packageName, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Artifact{}, fmt.Errorf("%w: rename %q: %w", ErrStagingFailed, packageName, err)
	}
	committed = true

	return Artifact{
		PackageName: packageName,
		Path:        path,
		Size:        n,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:   s.now(),
	}, nil
}

// StageIcon PNG-encodes icon to the icon path for packageName and returns the
// URI under which the icon is published.
func (s *Stager) StageIcon(packageName string, icon image.Image) (string, error) {
	if icon == nil {
		return "", fmt.Errorf("%w: %q has no icon", ErrIconEncodingFailed, packageName)
	}
	path, err := s.IconPath(packageName)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIconEncodingFailed, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, icon); err != nil {
		return "", fmt.Errorf("%w: encode %q: %w", ErrIconEncodingFailed, packageName, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("%w: create icon directory: %w", ErrIconEncodingFailed, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("%w: write %q: %w", ErrIconEncodingFailed, packageName, err)
	}

	if s.iconURIPrefix == "" {
		return "file://" + path, nil
	}
	return s.iconURIPrefix + packageName, nil
}

// ReadIcon returns the staged PNG bytes for packageName.
func (s *Stager) ReadIcon(packageName string) ([]byte, error) {
	path, err := s.IconPath(packageName)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Discard removes the staged package and icon for packageName. Missing files
// are not an error.
func (s *Stager) Discard(packageName string) error {
	pkgPath, err := s.Path(packageName)
	if err != nil {
		return err
	}
	icon, _ := s.IconPath(packageName)

	var errs []error
	for _, p := range []string{pkgPath, icon} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Cleanup removes every staged file, including abandoned temp files and
// icons. No request owns a staged file before admission starts, so it must
// only run at startup.
func (s *Stager) Cleanup(ctx context.Context) (CleanupReport, error) {
	report := CleanupReport{}

	for _, dir := range []string{s.baseDir, filepath.Join(s.baseDir, iconDir)} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("read staging directory: %w", err)
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if !entry.Type().IsRegular() {
				continue
			}
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				return report, fmt.Errorf("remove staged file %q: %w", entry.Name(), err)
			}
			report.DeletedFiles++
		}
	}

	return report, nil
}

// ValidatePackageName rejects names that cannot safely address a file.
func ValidatePackageName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("package name is empty")
	}
	if trimmed != name {
		return fmt.Errorf("package name %q has surrounding whitespace", name)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("package name %q is invalid", name)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return fmt.Errorf("package name %q must not contain path separators", name)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("package name %q is invalid", name)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
