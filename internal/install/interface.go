package install

import (
	"context"
	"image"
	"io"

	"github.com/mattjoyce/wearpkg/internal/grant"
	"github.com/mattjoyce/wearpkg/internal/pkgfile"
	"github.com/mattjoyce/wearpkg/internal/stage"
)

//go:generate mockgen -destination=mocks/mock_install.go -package=mocks github.com/mattjoyce/wearpkg/internal/install PermissionSource,GrantNotifier

// PermissionSource returns raw (name, granted) rows for a locator.
type PermissionSource interface {
	Query(ctx context.Context, locator string) ([][]any, error)
}

// ContentSource opens install content for a locator.
type ContentSource interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// GrantNotifier delivers interactive grant prompts. Delivery is best effort.
type GrantNotifier interface {
	NotifyInstall(ctx context.Context, prompt grant.InstallPrompt) error
	NotifyUninstall(ctx context.Context, packageName string) error
}

// Parser reads a staged package.
type Parser interface {
	Parse(path string) (*pkgfile.Package, error)
}

// Stager owns staged artifacts and icons, addressed by package name.
type Stager interface {
	Stage(ctx context.Context, packageName string, src io.Reader, algorithm string) (stage.Artifact, error)
	StageIcon(packageName string, icon image.Image) (string, error)
	ReadIcon(packageName string) ([]byte, error)
	Discard(packageName string) error
}

// Publisher receives installer events.
type Publisher interface {
	Publish(eventType string, data any)
}
