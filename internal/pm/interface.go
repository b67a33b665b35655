// Package pm defines the contract of the package-management authority that
// actually installs and removes packages on the target device, together with
// Local, a sqlite-backed reference implementation.
package pm

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_authority.go -package=mocks github.com/mattjoyce/wearpkg/internal/pm Authority

// ErrNotFound is returned by QueryInstalled when no package has the name.
var ErrNotFound = errors.New("package not found")

// Flags modify install and uninstall behaviour.
type Flags uint32

const (
	// FlagReplaceExisting allows an install over an existing package.
	FlagReplaceExisting Flags = 1 << iota
	// FlagDeleteAllUsers removes a package for every user profile.
	FlagDeleteAllUsers
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Return codes reported in a Completion. Non-negative codes are success.
const (
	Succeeded            = 1
	DeleteFailedInternal = -1
	ErrorAlreadyExists   = -1
	ErrorInvalidArchive  = -2
	ErrorInternal        = -110
)

// Completion is the single result delivered for a submitted install or
// uninstall.
type Completion struct {
	PackageName string
	ReturnCode  int
}

func (c Completion) Succeeded() bool { return c.ReturnCode >= 0 }

// InstallParams describes an install submission. ArtifactPath must remain
// readable until the Completion is delivered.
type InstallParams struct {
	ArtifactPath string
	Flags        Flags
	Originator   string
}

// RequestedPermission is a permission declared by an installed package.
type RequestedPermission struct {
	Name    string
	Granted bool
}

// ExistingPackage is a snapshot of an installed package.
type ExistingPackage struct {
	Name                 string
	VersionCode          int64
	RequestedPermissions []RequestedPermission
}

// GrantedPermissions returns the set of granted permission names.
func (e *ExistingPackage) GrantedPermissions() map[string]struct{} {
	out := make(map[string]struct{})
	if e == nil {
		return out
	}
	for _, p := range e.RequestedPermissions {
		if p.Granted {
			out[p.Name] = struct{}{}
		}
	}
	return out
}

// Authority is the package manager of the target device. Install and
// Uninstall return once the work is accepted; the returned channel yields
// exactly one Completion and is then closed.
type Authority interface {
	Install(ctx context.Context, params InstallParams) (<-chan Completion, error)
	Uninstall(ctx context.Context, packageName string, flags Flags) (<-chan Completion, error)
	QueryInstalled(ctx context.Context, packageName string) (*ExistingPackage, error)
	HasFeature(name string) bool
}
