// Package grant carries interactive permission-grant prompts to whatever
// surface shows them to the user.
package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/wearpkg/internal/events"
)

var ErrNoSubscribers = errors.New("no grant prompt subscribers")

// InstallPrompt asks the user to grant permissions a package needs.
type InstallPrompt struct {
	PackageName string   `json:"package"`
	Label       string   `json:"label"`
	IconURI     string   `json:"icon_uri"`
	IconPNG     []byte   `json:"icon_png,omitempty"`
	Unavailable []string `json:"unavailable_permissions"`
	HasLauncher bool     `json:"has_launcher"`
}

// Validate reports prompts that cannot be shown.
func (p InstallPrompt) Validate() error {
	if p.PackageName == "" {
		return fmt.Errorf("prompt has no package name")
	}
	if p.Label == "" {
		return fmt.Errorf("prompt for %q has no label", p.PackageName)
	}
	return nil
}

// HubNotifier publishes prompts as events. With RequireSubscriber set it
// fails when nobody is listening, which the installer only logs.
type HubNotifier struct {
	hub               *events.Hub
	logger            *slog.Logger
	RequireSubscriber bool
}

func NewHubNotifier(hub *events.Hub, logger *slog.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, logger: logger}
}

func (n *HubNotifier) NotifyInstall(ctx context.Context, prompt InstallPrompt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prompt.Validate(); err != nil {
		return err
	}
	if n.RequireSubscriber && n.hub.Subscribers() == 0 {
		return fmt.Errorf("%w: install prompt for %q", ErrNoSubscribers, prompt.PackageName)
	}
	n.hub.Publish(events.TypeGrantInstallRequested, prompt)
	n.logger.Debug("published install grant prompt",
		"package", prompt.PackageName,
		"unavailable", prompt.Unavailable,
	)
	return nil
}

func (n *HubNotifier) NotifyUninstall(ctx context.Context, packageName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if packageName == "" {
		return fmt.Errorf("uninstall notice has no package name")
	}
	if n.RequireSubscriber && n.hub.Subscribers() == 0 {
		return fmt.Errorf("%w: uninstall notice for %q", ErrNoSubscribers, packageName)
	}
	n.hub.Publish(events.TypeGrantUninstallRequested, events.PackageRef{PackageName: packageName})
	return nil
}
