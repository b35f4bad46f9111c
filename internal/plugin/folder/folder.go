// Package folder reads and writes the on-disk layout of an installed plugin.
//
// A plugin folder is managed when it contains the entry point, the
// package.json metadata file, and the metadata file carries the managed-by
// marker set to true. Folders that are not managed are never modified.
package folder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

const (
	EntryPoint    = "main.js"
	MetadataFile  = "package.json"
	ConfigFile    = "config.json"
	ManagedMarker = "isManagedByHeadlampPlugin"
	// ProvenanceKey is the package.json key holding the registry provenance.
	ProvenanceKey = "artifacthub"
)

// ErrNotManaged is returned for folders that were not installed by plugctl.
var ErrNotManaged = errors.New("not a managed plugin folder")

// Provenance records where an installed plugin came from.
type Provenance struct {
	Name     string `json:"name"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Version  string `json:"version"`
	RepoName string `json:"repoName"`
	Author   string `json:"author"`
}

// Installed describes a managed plugin folder.
type Installed struct {
	FolderName         string `json:"folderName"`
	PluginName         string `json:"pluginName"`
	PluginTitle        string `json:"pluginTitle"`
	PluginVersion      string `json:"pluginVersion"`
	ArtifactHubURL     string `json:"artifacthubURL"`
	RepoName           string `json:"repoName"`
	Author             string `json:"author"`
	ArtifactHubVersion string `json:"artifacthubVersion"`
}

// Read returns the managed plugin in dir, or ErrNotManaged if dir does not
// qualify.
func Read(dir string) (*Installed, error) {
	if fi, err := os.Stat(filepath.Join(dir, EntryPoint)); err != nil || !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s: missing %s", ErrNotManaged, dir, EntryPoint)
	}

	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotManaged, dir, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s: %s is not valid json", ErrNotManaged, dir, MetadataFile)
	}
	if gjson.GetBytes(data, ManagedMarker).Type != gjson.True {
		return nil, fmt.Errorf("%w: %s: marker %s not set", ErrNotManaged, dir, ManagedMarker)
	}

	res := gjson.GetManyBytes(data,
		"name",
		"version",
		ProvenanceKey+".title",
		ProvenanceKey+".url",
		ProvenanceKey+".repoName",
		ProvenanceKey+".author",
		ProvenanceKey+".version",
	)

	installed := &Installed{
		FolderName:         filepath.Base(dir),
		PluginName:         res[0].String(),
		PluginVersion:      res[1].String(),
		PluginTitle:        res[2].String(),
		ArtifactHubURL:     res[3].String(),
		RepoName:           res[4].String(),
		Author:             res[5].String(),
		ArtifactHubVersion: res[6].String(),
	}
	if installed.PluginName == "" {
		installed.PluginName = installed.FolderName
	}
	return installed, nil
}

// IsManaged reports whether dir is a managed plugin folder.
func IsManaged(dir string) bool {
	_, err := Read(dir)
	return err == nil
}

// InjectProvenance writes the provenance block and the managed-by marker
// into the package.json of dir. All other fields are kept as they are.
func InjectProvenance(dir string, p Provenance) error {
	path := filepath.Join(dir, MetadataFile)
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", MetadataFile, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", MetadataFile, err)
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return fmt.Errorf("%s in %s is not a json object", MetadataFile, dir)
	}

	if data, err = sjson.SetBytes(data, ProvenanceKey, p); err != nil {
		return fmt.Errorf("failed to set %s in %s: %w", ProvenanceKey, MetadataFile, err)
	}
	if data, err = sjson.SetBytes(data, ManagedMarker, true); err != nil {
		return fmt.Errorf("failed to set %s in %s: %w", ManagedMarker, MetadataFile, err)
	}

	if err := os.WriteFile(path, pretty.Pretty(data), fi.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write %s: %w", MetadataFile, err)
	}
	return nil
}

// WriteConfig stores the opaque plugin settings as config.json in dir.
func WriteConfig(dir string, config map[string]any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal plugin config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), pretty.Pretty(data), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ConfigFile, err)
	}
	return nil
}
