// Package installer downloads, verifies and places a single plugin archive.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/fetch"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/folder"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/progress"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/registry"
)

// DefaultMaxArchiveSize bounds the in-memory download of a plugin archive.
const DefaultMaxArchiveSize int64 = 256 << 20

var (
	ErrIncompatible     = errors.New("plugin is incompatible with host version")
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
	ErrInvalidArchive   = errors.New("invalid plugin archive")
)

// Options configures an Installer.
type Options struct {
	// HostVersion is matched against the plugin compatibility range.
	// Empty skips the check.
	HostVersion string
	// TempDir is where archives are extracted before placement.
	// Empty uses the system temp directory.
	TempDir string
	// MaxArchiveSize in bytes. Zero uses DefaultMaxArchiveSize.
	MaxArchiveSize int64
}

// Installer installs plugin archives described by registry metadata.
type Installer struct {
	fetch          *fetch.Client
	hostVersion    *semver.Version
	tempDir        string
	maxArchiveSize int64
}

// New creates an Installer. It fails if the host version is not a valid
// semantic version.
func New(f *fetch.Client, opts Options) (*Installer, error) {
	i := &Installer{
		fetch:          f,
		tempDir:        opts.TempDir,
		maxArchiveSize: opts.MaxArchiveSize,
	}
	if i.maxArchiveSize == 0 {
		i.maxArchiveSize = DefaultMaxArchiveSize
	}
	if opts.HostVersion != "" {
		v, err := semver.NewVersion(opts.HostVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid host version %q: %w", opts.HostVersion, err)
		}
		i.hostVersion = v
	}
	return i, nil
}

// Install places the plugin described by meta into destination/<name> and
// returns the path of the plugin folder. Nothing is written to destination
// unless all previous steps succeeded.
func (i *Installer) Install(ctx context.Context, meta *registry.Metadata, destination string, obs progress.Observer) (string, error) {
	return i.InstallInto(ctx, meta, destination, meta.Name, obs)
}

// InstallInto is Install with an explicit folder name, used to replace an
// existing plugin folder in place.
func (i *Installer) InstallInto(ctx context.Context, meta *registry.Metadata, destination, folderName string, obs progress.Observer) (_ string, err error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "plugin"), slog.String("plugin", meta.Name))

	if err := registry.ValidatePluginName(meta.Name); err != nil {
		return "", err
	}
	if err := registry.ValidatePluginName(folderName); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := i.checkCompatibility(meta, obs); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	progress.Info(obs, "Downloading Plugin")
	data, err := i.fetch.Get(ctx, meta.ArchiveURL, fetch.WithMaxBytes(i.maxArchiveSize))
	if err != nil {
		return "", fmt.Errorf("failed to download plugin archive: %w", err)
	}
	if err := VerifyChecksum(data, meta.ArchiveChecksum); err != nil {
		return "", err
	}
	progress.Success(obs, "Plugin Downloaded")
	logger.DebugContext(ctx, "plugin archive downloaded", slog.Int("bytes", len(data)))

	if err := ctx.Err(); err != nil {
		return "", err
	}
	progress.Info(obs, "Extracting Plugin")
	tmp, err := os.MkdirTemp(i.tempDir, "plugctl-"+meta.Name+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer func() {
		err = errors.Join(err, os.RemoveAll(tmp))
	}()

	if err := extract(data, tmp); err != nil {
		return "", err
	}
	for _, required := range []string{folder.EntryPoint, folder.MetadataFile} {
		if _, err := os.Stat(filepath.Join(tmp, required)); err != nil {
			return "", fmt.Errorf("%w: %s not found in archive", ErrInvalidArchive, required)
		}
	}
	if err := folder.InjectProvenance(tmp, folder.Provenance{
		Name:     meta.Name,
		Title:    meta.DisplayName,
		URL:      meta.PackageURL,
		Version:  meta.Version,
		RepoName: meta.Repository.Name,
		Author:   meta.Repository.Author,
	}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	progress.Success(obs, "Plugin Extracted")

	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := place(tmp, destination, folderName)
	if err != nil {
		return "", err
	}
	logger.DebugContext(ctx, "plugin placed", slog.String("folder", target))

	return target, nil
}

func (i *Installer) checkCompatibility(meta *registry.Metadata, obs progress.Observer) error {
	if meta.VersionCompat == "" || i.hostVersion == nil {
		return nil
	}
	progress.Info(obs, "Checking compatibility with host version")

	constraint, err := semver.NewConstraint(meta.VersionCompat)
	if err != nil {
		return fmt.Errorf("%w: invalid compatibility range %q: %w", ErrIncompatible, meta.VersionCompat, err)
	}
	if !constraint.Check(i.hostVersion) {
		return fmt.Errorf("%w: %s requires %s, host is %s", ErrIncompatible, meta.Name, meta.VersionCompat, i.hostVersion)
	}
	return nil
}

// place copies src into a staging folder inside destination and swaps it in
// as destination/name. The staging folder lives on the destination volume so
// the final rename cannot cross devices.
func place(src, destination, name string) (_ string, err error) {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return "", fmt.Errorf("failed to create plugin directory %s: %w", destination, err)
	}

	base := filepath.Base(name)
	target := filepath.Join(destination, base)

	staging, err := os.MkdirTemp(destination, "."+base+"-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, os.RemoveAll(staging))
		}
	}()

	if err := os.CopyFS(staging, os.DirFS(src)); err != nil {
		return "", fmt.Errorf("failed to copy plugin into staging directory: %w", err)
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return "", fmt.Errorf("failed to set permissions on staging directory: %w", err)
	}
	if err := os.RemoveAll(target); err != nil {
		return "", fmt.Errorf("failed to remove existing plugin folder %s: %w", target, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return "", fmt.Errorf("failed to move plugin into %s: %w", target, err)
	}

	return target, nil
}
