package pm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/wearpkg/internal/pkgfile"
)

// Local is an Authority backed by a sqlite registry and an install directory.
// Permissions requested by an installed package are recorded as granted.
type Local struct {
	db         *sql.DB
	installDir string
	features   map[string]struct{}
	logger     *slog.Logger
	now        func() time.Time

	// mu serializes mutations; installs and uninstalls complete in goroutines.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewLocal creates a local authority. db must already carry the registry
// schema (see storage.OpenSQLite).
func NewLocal(db *sql.DB, installDir string, features []string, logger *slog.Logger) (*Local, error) {
	if db == nil {
		return nil, fmt.Errorf("database is nil")
	}
	if strings.TrimSpace(installDir) == "" {
		return nil, fmt.Errorf("install directory is empty")
	}
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return nil, fmt.Errorf("create install directory: %w", err)
	}
	set := make(map[string]struct{}, len(features))
	for _, f := range features {
		set[f] = struct{}{}
	}
	return &Local{
		db:         db,
		installDir: filepath.Clean(installDir),
		features:   set,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// HasFeature reports whether the device advertises name.
func (l *Local) HasFeature(name string) bool {
	_, ok := l.features[name]
	return ok
}

// Install accepts the artifact and completes asynchronously. The artifact is
// copied into the install directory before the Completion is sent.
func (l *Local) Install(ctx context.Context, params InstallParams) (<-chan Completion, error) {
	info, err := os.Stat(params.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("artifact %q is not a regular file", params.ArtifactPath)
	}

	ch := make(chan Completion, 1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(ch)
		ch <- l.install(context.WithoutCancel(ctx), params)
	}()
	return ch, nil
}

func (l *Local) install(ctx context.Context, params InstallParams) Completion {
	pkg, err := pkgfile.Parse(params.ArtifactPath)
	if err != nil {
		l.logger.Error("rejecting invalid archive", "path", params.ArtifactPath, "error", err)
		return Completion{ReturnCode: ErrorInvalidArchive}
	}
	c := Completion{PackageName: pkg.Name}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.QueryInstalled(ctx, pkg.Name)
	switch {
	case err == nil && !params.Flags.Has(FlagReplaceExisting):
		l.logger.Warn("package already installed", "package", pkg.Name)
		c.ReturnCode = ErrorAlreadyExists
		return c
	case err != nil && !errors.Is(err, ErrNotFound):
		l.logger.Error("failed to query registry", "package", pkg.Name, "error", err)
		c.ReturnCode = ErrorInternal
		return c
	}

	dest := filepath.Join(l.installDir, pkg.Name+".pkg")
	digest, err := copyFile(params.ArtifactPath, dest)
	if err != nil {
		l.logger.Error("failed to copy artifact", "package", pkg.Name, "error", err)
		c.ReturnCode = ErrorInternal
		return c
	}

	if err := l.record(ctx, pkg, digest, dest, params.Originator); err != nil {
		l.logger.Error("failed to record package", "package", pkg.Name, "error", err)
		c.ReturnCode = ErrorInternal
		return c
	}

	l.logger.Info("package installed",
		"package", pkg.Name,
		"version_code", pkg.VersionCode,
		"originator", params.Originator,
		"digest", digest,
	)
	c.ReturnCode = Succeeded
	return c
}

func (l *Local) record(ctx context.Context, pkg *pkgfile.Package, digest, path, originator string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO packages(name, version_code, target_sdk, label, digest, originator, path, installed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  version_code = excluded.version_code,
  target_sdk = excluded.target_sdk,
  label = excluded.label,
  digest = excluded.digest,
  originator = excluded.originator,
  path = excluded.path,
  installed_at = excluded.installed_at;
`, pkg.Name, pkg.VersionCode, pkg.TargetSDKVersion, pkg.Label, digest, originator, path, l.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert package: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM package_permissions WHERE package = ?;`, pkg.Name); err != nil {
		return fmt.Errorf("clear permissions: %w", err)
	}
	for i, name := range pkg.RequestedPermissions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO package_permissions(package, name, granted, position) VALUES(?, ?, 1, ?)
ON CONFLICT(package, name) DO NOTHING;
`, pkg.Name, name, i); err != nil {
			return fmt.Errorf("insert permission %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Uninstall removes packageName and completes asynchronously. Unknown names
// complete with DeleteFailedInternal.
func (l *Local) Uninstall(ctx context.Context, packageName string, flags Flags) (<-chan Completion, error) {
	if strings.TrimSpace(packageName) == "" {
		return nil, fmt.Errorf("package name is empty")
	}

	ch := make(chan Completion, 1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(ch)
		ch <- l.uninstall(context.WithoutCancel(ctx), packageName, flags)
	}()
	return ch, nil
}

func (l *Local) uninstall(ctx context.Context, packageName string, flags Flags) Completion {
	c := Completion{PackageName: packageName}

	l.mu.Lock()
	defer l.mu.Unlock()

	var path string
	err := l.db.QueryRowContext(ctx, `SELECT path FROM packages WHERE name = ?;`, packageName).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		l.logger.Warn("cannot uninstall unknown package", "package", packageName)
		c.ReturnCode = DeleteFailedInternal
		return c
	}
	if err != nil {
		l.logger.Error("failed to query registry", "package", packageName, "error", err)
		c.ReturnCode = DeleteFailedInternal
		return c
	}

	if _, err := l.db.ExecContext(ctx, `DELETE FROM packages WHERE name = ?;`, packageName); err != nil {
		l.logger.Error("failed to delete package", "package", packageName, "error", err)
		c.ReturnCode = DeleteFailedInternal
		return c
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("failed to remove installed artifact", "package", packageName, "path", path, "error", err)
	}

	l.logger.Info("package uninstalled", "package", packageName, "all_users", flags.Has(FlagDeleteAllUsers))
	c.ReturnCode = Succeeded
	return c
}

// QueryInstalled returns the registry snapshot for packageName.
func (l *Local) QueryInstalled(ctx context.Context, packageName string) (*ExistingPackage, error) {
	existing := &ExistingPackage{Name: packageName}
	err := l.db.QueryRowContext(ctx, `SELECT version_code FROM packages WHERE name = ?;`, packageName).Scan(&existing.VersionCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query package %q: %w", packageName, err)
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT name, granted FROM package_permissions WHERE package = ? ORDER BY position ASC;
`, packageName)
	if err != nil {
		return nil, fmt.Errorf("query permissions of %q: %w", packageName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p RequestedPermission
		var granted int
		if err := rows.Scan(&p.Name, &granted); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		p.Granted = granted == 1
		existing.RequestedPermissions = append(existing.RequestedPermissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return existing, nil
}

// Wait blocks until every accepted install and uninstall has completed.
func (l *Local) Wait() { l.wg.Wait() }

func copyFile(src, dest string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := blake3.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), in); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("rename: %w", err)
	}
	ok = true
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
