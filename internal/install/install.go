package install

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/wearpkg/internal/grant"
	"github.com/mattjoyce/wearpkg/internal/permission"
	"github.com/mattjoyce/wearpkg/internal/pkgfile"
	"github.com/mattjoyce/wearpkg/internal/pm"
)

// processInstall validates and submits an install. A nil return means the
// request was handed to a completion observer.
func (w *Worker) processInstall(ctx context.Context, j *job) error {
	req := j.install
	log := j.log

	if err := w.awaitPackage(ctx, req.PackageName, j); err != nil {
		return err
	}
	// Nothing below is cancelled by shutdown; a started request runs to completion.
	work := context.WithoutCancel(ctx)

	w.setState(StateStaging)
	existing, err := w.authority.QueryInstalled(work, req.PackageName)
	switch {
	case errors.Is(err, pm.ErrNotFound):
		existing = nil
	case err != nil:
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	var flags pm.Flags
	if existing != nil {
		flags |= pm.FlagReplaceExisting
		log.Debug("replacing package", "existing_version_code", existing.VersionCode)
	}

	src, err := w.content.Open(work, req.ContentLocator)
	if err != nil {
		return fmt.Errorf("%w: open content: %w", ErrStagingFailed, err)
	}
	j.staged = true
	art, err := w.stager.Stage(work, req.PackageName, src, req.CompressionAlgorithm)
	_ = src.Close()
	if err != nil {
		if !errors.Is(err, ErrStagingFailed) {
			err = fmt.Errorf("%w: %w", ErrStagingFailed, err)
		}
		return err
	}
	log.Debug("staged package", "path", art.Path, "size", art.Size, "digest", art.Digest)

	w.setState(StateParsing)
	pkg, err := w.parser.Parse(art.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if pkg == nil {
		return fmt.Errorf("%w: parser returned no package", ErrParseFailed)
	}
	if pkg.Name != req.PackageName {
		return fmt.Errorf("%w: archive declares %q", ErrNameMismatch, pkg.Name)
	}

	w.setState(StateVersionCompare)
	requested := pkg.RequestedPermissions
	if existing != nil {
		switch {
		case existing.VersionCode == pkg.VersionCode:
			if req.SkipIfSameVersion {
				return fmt.Errorf("%w: version code %d", ErrVersionSkipped, pkg.VersionCode)
			}
			log.Warn("version code of new package equals installed package", "version_code", pkg.VersionCode)
		case existing.VersionCode > pkg.VersionCode:
			log.Warn("version code of new package is lower than installed package",
				"version_code", pkg.VersionCode,
				"existing_version_code", existing.VersionCode,
			)
		}
		// Permissions granted to the installed package are not checked again.
		requested = permission.Without(requested, existing.GrantedPermissions())
	}

	if req.CheckPermissions {
		w.setState(StatePermissionCheck)
		if err := w.checkPermissions(work, j, pkg, requested); err != nil {
			return err
		}
	}

	w.setState(StateFeatureCheck)
	if missing := w.missingFeatures(pkg); len(missing) > 0 {
		for _, f := range missing {
			log.Error("device does not have required feature", "feature", f)
		}
		return fmt.Errorf("%w: %s", ErrFeatureMissing, strings.Join(missing, ", "))
	}

	w.setState(StateSubmitting)
	done, err := w.authority.Install(work, pm.InstallParams{
		ArtifactPath: art.Path,
		Flags:        flags,
		Originator:   req.PackageName,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	if done == nil {
		return fmt.Errorf("%w: no completion channel", ErrSubmissionFailed)
	}

	w.setState(StateAwaitingCompletion)
	w.observe(j, done)
	log.Info("sent installation request",
		"version_code", pkg.VersionCode,
		"replace_existing", flags.Has(pm.FlagReplaceExisting),
	)
	return nil
}

// checkPermissions compares requested against the companion's grant table.
// Any unavailable permission rejects the install; the matrix decides only
// whether the user is prompted first.
func (w *Worker) checkPermissions(ctx context.Context, j *job, pkg *pkgfile.Package, requested []string) error {
	req := j.install
	if req.PermissionLocator == "" {
		return fmt.Errorf("%w: permission source locator is empty", ErrPermissionUnavailable)
	}
	rows, err := w.permissions.Query(ctx, req.PermissionLocator)
	if err != nil {
		return fmt.Errorf("%w: query permission source: %w", ErrPermissionUnavailable, err)
	}

	result := permission.Evaluate(permission.TableFromRows(rows), requested, permission.Signals{
		CompanionSDKVersion:    req.CompanionSDKVersion,
		CompanionDeviceVersion: req.CompanionDeviceVersion,
		PackageTargetSDK:       pkg.TargetSDKVersion,
		DeviceSDKVersion:       w.opts.DeviceSDKVersion,
	})

	absent := make(map[string]struct{}, len(result.Absent))
	for _, name := range result.Absent {
		absent[name] = struct{}{}
	}
	for _, name := range result.Unavailable {
		if _, ok := absent[name]; ok {
			j.log.Error("permission is not declared by the companion application", "permission", name)
			continue
		}
		j.log.Warn("permission is not granted to the companion application", "permission", name)
	}

	if result.TargetMismatch {
		j.log.Warn("package should target the runtime permission model when its companion does",
			"target_sdk", pkg.TargetSDKVersion,
			"companion_sdk", req.CompanionSDKVersion,
		)
	}
	if result.Action == permission.RequireInteractiveGrant {
		w.requestGrant(ctx, j, pkg, result.Unavailable)
	}

	if !result.Satisfied() {
		return fmt.Errorf("%w: %s", ErrPermissionUnavailable, strings.Join(result.Unavailable, ", "))
	}
	return nil
}

// requestGrant prompts the user for unavailable permissions. Failures are
// logged and never change the outcome.
func (w *Worker) requestGrant(ctx context.Context, j *job, pkg *pkgfile.Package, unavailable []string) {
	if pkg.Label == "" {
		j.log.Error("cannot request permission grant: package has no label")
		return
	}
	iconURI, err := w.stager.StageIcon(pkg.Name, pkg.Icon)
	if err != nil {
		j.log.Error("cannot request permission grant: icon unavailable", "error", err)
		return
	}
	iconPNG, err := w.stager.ReadIcon(pkg.Name)
	if err != nil {
		j.log.Error("cannot request permission grant: staged icon unreadable", "error", err)
		return
	}

	prompt := grant.InstallPrompt{
		PackageName: pkg.Name,
		Label:       pkg.Label,
		IconURI:     iconURI,
		IconPNG:     iconPNG,
		Unavailable: append([]string(nil), unavailable...),
		HasLauncher: pkg.HasLauncher,
	}
	if err := w.notifier.NotifyInstall(ctx, prompt); err != nil {
		j.log.Error("failed to deliver permission grant prompt", "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.GrantPrompts.Inc()
	}
	j.log.Info("requested interactive permission grant", "permissions", unavailable, "label", pkg.Label)
}

// missingFeatures lists required features the device lacks, in declaration
// order. Optional features are ignored.
func (w *Worker) missingFeatures(pkg *pkgfile.Package) []string {
	var missing []string
	for _, f := range pkg.Features {
		if f.Name == "" || !f.Required {
			continue
		}
		if !w.authority.HasFeature(f.Name) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func (w *Worker) processUninstall(ctx context.Context, j *job) error {
	name := j.uninstall.PackageName
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: package name is empty", ErrInvalidRequest)
	}
	work := context.WithoutCancel(ctx)

	w.setState(StateSubmitting)
	done, err := w.authority.Uninstall(work, name, pm.FlagDeleteAllUsers)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	if done == nil {
		return fmt.Errorf("%w: no completion channel", ErrSubmissionFailed)
	}

	w.setState(StateAwaitingCompletion)
	w.observe(j, done)
	if err := w.notifier.NotifyUninstall(work, name); err != nil {
		j.log.Warn("failed to deliver uninstall notice", "error", err)
	}
	j.log.Info("sent delete request")
	return nil
}
