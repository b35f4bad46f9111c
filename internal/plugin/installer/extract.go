package installer

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nlepage/go-tarfs"
)

// extract unpacks a tar or gzipped tar archive into dir, stripping the
// leading path component of every entry. Files at the top level of the
// archive are dropped.
func extract(data []byte, dir string) (err error) {
	var reader io.Reader = bytes.NewReader(data)

	if mimetype.Detect(data).Is("application/gzip") {
		gzReader, gzErr := gzip.NewReader(reader)
		if gzErr != nil {
			return fmt.Errorf("%w: failed to initialize gzip reader: %w", ErrInvalidArchive, gzErr)
		}
		defer func() {
			err = errors.Join(err, gzReader.Close())
		}()
		reader = gzReader
	}

	tfs, err := tarfs.New(reader)
	if err != nil {
		return fmt.Errorf("%w: failed to read tar: %w", ErrInvalidArchive, err)
	}

	entries, err := fs.ReadDir(tfs, ".")
	if err != nil {
		return fmt.Errorf("%w: failed to list archive: %w", ErrInvalidArchive, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub, err := fs.Sub(tfs, entry.Name())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
		if err := copyTree(dir, sub); err != nil {
			return fmt.Errorf("failed to extract %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// copyTree writes the regular files and directories of src below dst.
// A file listed more than once in the archive ends up with the content of
// its last entry.
func copyTree(dst string, src fs.FS) error {
	return fs.WalkDir(src, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return fmt.Errorf("%w: entry %q escapes the plugin folder", ErrInvalidArchive, name)
		}
		target := filepath.Join(dst, filepath.FromSlash(name))
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case !d.Type().IsRegular():
			return fmt.Errorf("%w: %s is not a regular file", ErrInvalidArchive, name)
		}
		data, err := fs.ReadFile(src, name)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
		return os.WriteFile(target, data, 0o644)
	})
}
