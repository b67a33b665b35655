// Package pkgfile reads and writes installable package archives.
//
// An archive is a zip file holding manifest.yaml and, optionally, icon.png.
package pkgfile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"
)

const (
	ManifestEntry = "manifest.yaml"
	IconEntry     = "icon.png"

	// MaxIconDimension bounds both sides of an icon, checked before the
	// pixels are decoded.
	MaxIconDimension = 1024

	maxManifestBytes = 1 << 20
	maxIconBytes     = 4 << 20
)

var ErrInvalidPackage = errors.New("invalid package archive")

// Manifest is the declarative part of a package.
type Manifest struct {
	Package          string    `yaml:"package"`
	VersionCode      int64     `yaml:"version_code"`
	TargetSDKVersion int       `yaml:"target_sdk_version"`
	Label            string    `yaml:"label,omitempty"`
	Launcher         bool      `yaml:"launcher,omitempty"`
	Permissions      []string  `yaml:"permissions,omitempty"`
	Features         []Feature `yaml:"features,omitempty"`
}

// Feature is a device capability the package declares.
type Feature struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
}

// Package is a parsed archive.
type Package struct {
	Name                 string
	VersionCode          int64
	TargetSDKVersion     int
	Label                string
	HasLauncher          bool
	RequestedPermissions []string
	Features             []Feature
	Icon                 image.Image
}

// Parser parses archives from disk.
type Parser struct{}

func (Parser) Parse(path string) (*Package, error) { return Parse(path) }

// Parse opens the archive at path.
func Parse(path string) (*Package, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", ErrInvalidPackage, path, err)
	}
	defer zr.Close()

	var (
		manifest *Manifest
		icon     image.Image
	)
	for _, f := range zr.File {
		switch f.Name {
		case ManifestEntry:
			manifest, err = readManifest(f)
			if err != nil {
				return nil, err
			}
		case IconEntry:
			icon, err = readIcon(f)
			if err != nil {
				return nil, err
			}
		}
	}
	if manifest == nil {
		return nil, fmt.Errorf("%w: %s missing", ErrInvalidPackage, ManifestEntry)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	return &Package{
		Name:                 manifest.Package,
		VersionCode:          manifest.VersionCode,
		TargetSDKVersion:     manifest.TargetSDKVersion,
		Label:                manifest.Label,
		HasLauncher:          manifest.Launcher,
		RequestedPermissions: append([]string(nil), manifest.Permissions...),
		Features:             append([]Feature(nil), manifest.Features...),
		Icon:                 icon,
	}, nil
}

// Validate checks the fields every archive must carry.
func (m *Manifest) Validate() error {
	if m.Package == "" {
		return fmt.Errorf("%w: package is required", ErrInvalidPackage)
	}
	if m.VersionCode < 0 {
		return fmt.Errorf("%w: version_code must not be negative", ErrInvalidPackage)
	}
	for i, f := range m.Features {
		if f.Name == "" {
			return fmt.Errorf("%w: features[%d].name is required", ErrInvalidPackage, i)
		}
	}
	return nil
}

// Write builds an archive for m with an optional icon.
func Write(w io.Writer, m Manifest, icon image.Image) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	zw := zip.NewWriter(w)
	mw, err := zw.Create(ManifestEntry)
	if err != nil {
		return fmt.Errorf("create manifest entry: %w", err)
	}
	if _, err := mw.Write(data); err != nil {
		return fmt.Errorf("write manifest entry: %w", err)
	}

	if icon != nil {
		if err := checkIconSize(icon.Bounds().Dx(), icon.Bounds().Dy()); err != nil {
			return err
		}
		iw, err := zw.Create(IconEntry)
		if err != nil {
			return fmt.Errorf("create icon entry: %w", err)
		}
		if err := png.Encode(iw, icon); err != nil {
			return fmt.Errorf("encode icon: %w", err)
		}
	}
	return zw.Close()
}

func readManifest(f *zip.File) (*Manifest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open manifest: %w", ErrInvalidPackage, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %w", ErrInvalidPackage, err)
	}
	if len(data) > maxManifestBytes {
		return nil, fmt.Errorf("%w: manifest exceeds %d bytes", ErrInvalidPackage, maxManifestBytes)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %w", ErrInvalidPackage, err)
	}
	return &m, nil
}

func readIcon(f *zip.File) (image.Image, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open icon: %w", ErrInvalidPackage, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxIconBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read icon: %w", ErrInvalidPackage, err)
	}
	if len(data) > maxIconBytes {
		return nil, fmt.Errorf("%w: icon exceeds %d bytes", ErrInvalidPackage, maxIconBytes)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode icon header: %w", ErrInvalidPackage, err)
	}
	if err := checkIconSize(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode icon: %w", ErrInvalidPackage, err)
	}
	return img, nil
}

func checkIconSize(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxIconDimension || height > MaxIconDimension {
		return fmt.Errorf("%w: icon is %dx%d, limit is %dx%d", ErrInvalidPackage, width, height, MaxIconDimension, MaxIconDimension)
	}
	return nil
}
