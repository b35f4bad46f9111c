// Package registry resolves plugin source references against ArtifactHub
// into verified plugin metadata.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/fetch"
)

const (
	DefaultPackagePrefix = "https://artifacthub.io/packages/headlamp/"
	DefaultAPIPrefix     = "https://artifacthub.io/api/v1/packages/headlamp/"
)

// Keys of the ArtifactHub "data" map that carry the plugin archive information.
const (
	DataArchiveURL      = "headlamp/plugin/archive-url"
	DataArchiveChecksum = "headlamp/plugin/archive-checksum"
	DataVersionCompat   = "headlamp/plugin/version-compat"
)

// DefaultTrustedArchivePatterns are the release and archive URL shapes of the
// code forges plugin archives may be downloaded from.
var DefaultTrustedArchivePatterns = []string{
	"https://github.com/*/*/releases/**",
	"https://github.com/*/*/archive/**",
	"https://bitbucket.org/*/*/downloads/**",
	"https://bitbucket.org/*/*/get/**",
	"https://gitlab.com/*/*/-/archive/**",
	"https://gitlab.com/*/*/releases/**",
}

var (
	ErrInvalidSource       = errors.New("invalid plugin source")
	ErrInvalidMetadata     = errors.New("invalid plugin metadata")
	ErrInvalidPluginName   = errors.New("invalid plugin name")
	ErrUntrustedArchiveURL = errors.New("untrusted archive url")
)

// Repository identifies the registry repository a plugin is published in.
type Repository struct {
	Name   string `json:"name"`
	Author string `json:"author"`
}

// Metadata is the verified registry information of one plugin version.
type Metadata struct {
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	DisplayName     string     `json:"displayName"`
	Repository      Repository `json:"repository"`
	ArchiveURL      string     `json:"archiveURL"`
	ArchiveChecksum string     `json:"archiveChecksum"`
	VersionCompat   string     `json:"versionCompat,omitempty"`
	// PackageURL is the human facing registry page of the plugin.
	// It is stored with the installed plugin and used to look up updates.
	PackageURL string `json:"packageURL"`
}

// payload is the subset of the ArtifactHub package response we consume.
type payload struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	DisplayName string `json:"display_name"`
	Repository  struct {
		Name      string `json:"name"`
		UserAlias string `json:"user_alias"`
	} `json:"repository"`
	// Data holds arbitrary annotations, only the archive keys are read.
	Data map[string]json.RawMessage `json:"data"`
}

// Options configures a Client.
type Options struct {
	PackagePrefix string
	APIPrefix     string
	// TrustedArchivePatterns extends DefaultTrustedArchivePatterns.
	TrustedArchivePatterns []string
}

// Client resolves plugin sources.
type Client struct {
	fetch         *fetch.Client
	packagePrefix string
	apiPrefix     string
	trusted       []glob.Glob
}

// New creates a Client. Trusted patterns are glob patterns using '/' as the
// separator, so "*" matches a single path segment and "**" any suffix.
func New(f *fetch.Client, opts Options) (*Client, error) {
	c := &Client{
		fetch:         f,
		packagePrefix: opts.PackagePrefix,
		apiPrefix:     opts.APIPrefix,
	}
	if c.packagePrefix == "" {
		c.packagePrefix = DefaultPackagePrefix
	}
	if c.apiPrefix == "" {
		c.apiPrefix = DefaultAPIPrefix
	}

	patterns := append(append([]string{}, DefaultTrustedArchivePatterns...), opts.TrustedArchivePatterns...)
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile trusted archive pattern %q: %w", pattern, err)
		}
		c.trusted = append(c.trusted, g)
	}

	return c, nil
}

// Resolve turns a registry package URL into verified metadata. If version is
// empty the latest version is resolved.
func (c *Client) Resolve(ctx context.Context, source, version string) (*Metadata, error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "plugin"))

	ref, ok := strings.CutPrefix(source, c.packagePrefix)
	ref = strings.Trim(ref, "/")
	if !ok || ref == "" {
		return nil, fmt.Errorf("%w: %q must start with %q", ErrInvalidSource, source, c.packagePrefix)
	}

	url := c.apiPrefix + ref
	if version != "" {
		url += "/" + version
	}

	logger.DebugContext(ctx, "resolving plugin metadata", slog.String("source", source), slog.String("url", url))

	var p payload
	if err := c.fetch.GetJSON(ctx, url, &p); err != nil {
		if errors.Is(err, fetch.ErrDecode) {
			return nil, fmt.Errorf("%w: failed to decode registry response for %s: %w", ErrInvalidMetadata, source, err)
		}
		return nil, fmt.Errorf("failed to fetch plugin metadata for %s: %w", source, err)
	}

	meta, err := c.toMetadata(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	logger.DebugContext(ctx, "resolved plugin metadata",
		slog.String("name", meta.Name),
		slog.String("version", meta.Version),
		slog.String("archive", meta.ArchiveURL))

	return meta, nil
}

func (c *Client) toMetadata(p payload) (*Metadata, error) {
	var data [3]string
	for i, key := range []string{DataArchiveURL, DataArchiveChecksum, DataVersionCompat} {
		raw, ok := p.Data[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, &data[i]); err != nil {
			return nil, fmt.Errorf("%w: data.%s must be a string", ErrInvalidMetadata, key)
		}
	}

	meta := &Metadata{
		Name:        p.Name,
		Version:     p.Version,
		DisplayName: p.DisplayName,
		Repository: Repository{
			Name:   p.Repository.Name,
			Author: p.Repository.UserAlias,
		},
		ArchiveURL:      data[0],
		ArchiveChecksum: data[1],
		VersionCompat:   data[2],
	}

	var missing []string
	for field, value := range map[string]string{
		"name":                        meta.Name,
		"version":                     meta.Version,
		"data." + DataArchiveURL:      meta.ArchiveURL,
		"data." + DataArchiveChecksum: meta.ArchiveChecksum,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: missing required fields %s", ErrInvalidMetadata, strings.Join(missing, ", "))
	}

	if err := ValidatePluginName(meta.Name); err != nil {
		return nil, err
	}
	if err := c.ValidateArchiveURL(meta.ArchiveURL); err != nil {
		return nil, err
	}

	meta.PackageURL = c.PackageURL(meta.Repository.Name, meta.Name)

	return meta, nil
}

// PackageURL returns the registry page of a plugin in a repository.
func (c *Client) PackageURL(repository, name string) string {
	return c.packagePrefix + repository + "/" + name
}

// ValidatePluginName rejects names that could escape the plugin directory.
func ValidatePluginName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidPluginName, name)
	}
	return nil
}

// ValidateArchiveURL checks url against the trusted archive patterns.
func (c *Client) ValidateArchiveURL(url string) error {
	for _, g := range c.trusted {
		if g.Match(url) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUntrustedArchiveURL, url)
}
