// Package plugintest provides an in-process ArtifactHub fake and archive
// builders for tests.
package plugintest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/fetch"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/registry"
)

// Plugin is a plugin version served by the Registry.
type Plugin struct {
	Repo        string
	Name        string
	Version     string
	DisplayName string
	Author      string
	Compat      string
	// Files of the archive, relative to its single top-level folder.
	// Nil uses DefaultFiles.
	Files map[string]string
	// Checksum overrides the declared checksum.
	Checksum string
	// ArchiveURL overrides the declared archive location.
	ArchiveURL string
}

// DefaultFiles returns a minimal valid plugin.
func DefaultFiles(name, version string) map[string]string {
	return map[string]string{
		"main.js":      "console.log('" + name + "');",
		"package.json": fmt.Sprintf(`{"name":%q,"version":%q}`, name, version),
	}
}

// Archive builds a gzipped tar containing files below root/.
func Archive(t testing.TB, root string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	dirs := map[string]bool{}
	writeDir := func(dir string) {
		if dirs[dir] {
			return
		}
		dirs[dir] = true
		require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: dir + "/", Mode: 0o755}))
	}

	writeDir(root)
	for _, name := range slices.Sorted(maps.Keys(files)) {
		content := files[name]
		for i, c := range name {
			if c == '/' {
				writeDir(root + "/" + name[:i])
			}
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     root + "/" + name,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// Registry serves package metadata under /api/ and archives under /releases/.
type Registry struct {
	Server *httptest.Server
	// Delay is applied to every archive download.
	Delay time.Duration

	mu          sync.Mutex
	t           testing.TB
	versions    map[string][]Plugin
	archives    map[string][]byte
	requests    []string
	inFlight    int
	maxInFlight int
}

// NewRegistry starts a Registry that is closed when the test ends.
func NewRegistry(t testing.TB) *Registry {
	r := &Registry{
		t:        t,
		versions: map[string][]Plugin{},
		archives: map[string][]byte{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{repo}/{name}", r.serveMetadata)
	mux.HandleFunc("GET /api/{repo}/{name}/{version}", r.serveMetadata)
	mux.HandleFunc("GET /releases/{repo}/{name}/{file}", r.serveArchive)
	r.Server = httptest.NewServer(mux)
	t.Cleanup(r.Server.Close)
	return r
}

// Add publishes a plugin version and returns its registry source reference.
// The last version added for a plugin is served as the latest.
func (r *Registry) Add(p Plugin) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Repo == "" {
		p.Repo = "test-repo"
	}
	if p.Version == "" {
		p.Version = "1.0.0"
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	if p.Files == nil {
		p.Files = DefaultFiles(p.Name, p.Version)
	}
	path := fmt.Sprintf("/releases/%s/%s/%s.tar.gz", p.Repo, p.Name, p.Version)
	archive := Archive(r.t, p.Name, p.Files)
	r.archives[path] = archive
	if p.ArchiveURL == "" {
		p.ArchiveURL = r.Server.URL + path
	}
	if p.Checksum == "" {
		p.Checksum = digest.SHA256.FromBytes(archive).Encoded()
	}

	key := p.Repo + "/" + p.Name
	r.versions[key] = append(r.versions[key], p)
	return r.Source(p.Repo, p.Name)
}

// Source returns the registry reference of a plugin.
func (r *Registry) Source(repo, name string) string {
	return registry.DefaultPackagePrefix + repo + "/" + name
}

// APIPrefix is the metadata endpoint prefix of the Registry.
func (r *Registry) APIPrefix() string {
	return r.Server.URL + "/api/"
}

// TrustedPattern matches the archive URLs served by the Registry.
func (r *Registry) TrustedPattern() string {
	return r.Server.URL + "/releases/**"
}

// Client returns a registry client talking to the Registry.
func (r *Registry) Client(f *fetch.Client) *registry.Client {
	c, err := registry.New(f, registry.Options{
		APIPrefix:              r.APIPrefix(),
		TrustedArchivePatterns: []string{r.TrustedPattern()},
	})
	require.NoError(r.t, err)
	return c
}

// Requests returns the request paths received so far.
func (r *Registry) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.requests)
}

// MaxInFlight is the highest number of concurrent archive downloads observed.
func (r *Registry) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

func (r *Registry) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req.URL.Path)
}

func (r *Registry) serveMetadata(w http.ResponseWriter, req *http.Request) {
	r.record(req)

	r.mu.Lock()
	versions := r.versions[req.PathValue("repo")+"/"+req.PathValue("name")]
	r.mu.Unlock()

	var p *Plugin
	if want := req.PathValue("version"); want != "" {
		for i := range versions {
			if versions[i].Version == want {
				p = &versions[i]
			}
		}
	} else if len(versions) > 0 {
		p = &versions[len(versions)-1]
	}
	if p == nil {
		http.NotFound(w, req)
		return
	}

	data := map[string]string{
		registry.DataArchiveURL:      p.ArchiveURL,
		registry.DataArchiveChecksum: p.Checksum,
	}
	if p.Compat != "" {
		data[registry.DataVersionCompat] = p.Compat
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":         p.Name,
		"version":      p.Version,
		"display_name": p.DisplayName,
		"repository": map[string]any{
			"name":       p.Repo,
			"user_alias": p.Author,
		},
		"data": data,
	})
}

func (r *Registry) serveArchive(w http.ResponseWriter, req *http.Request) {
	r.record(req)

	r.mu.Lock()
	archive, ok := r.archives[req.URL.Path]
	r.inFlight++
	r.maxInFlight = max(r.maxInFlight, r.inFlight)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if !ok {
		http.NotFound(w, req)
		return
	}
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	w.Header().Set("Content-Type", "application/gzip")
	_, _ = w.Write(archive)
}
