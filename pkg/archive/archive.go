// Package archive reads the metadata document out of module archives.
//
// A module archive is a gzipped tarball holding exactly one top-level
// directory, which must contain metadata.json.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
)

// MetadataFilename is the metadata document inside the top-level directory.
const MetadataFilename = "metadata.json"

// maxMetadataSize bounds how much of the metadata entry is read.
const maxMetadataSize = 4 << 20

var (
	// ErrMissingMetadata is returned when the archive has no metadata.json
	// inside its top-level directory.
	ErrMissingMetadata = errors.New("metadata.json not found in archive")
	// ErrAmbiguousLayout is returned when the archive does not hold exactly
	// one top-level directory.
	ErrAmbiguousLayout = errors.New("archive must contain exactly one top-level directory")
)

// ReadMetadata returns the raw metadata.json bytes from a module archive.
func ReadMetadata(r io.Reader) ([]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	tops := map[string]bool{}
	metadata := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." || name == "" {
			continue
		}
		top, rest, nested := strings.Cut(name, "/")
		if !nested && hdr.Typeflag != tar.TypeDir {
			// A regular file at the root can never be the module directory.
			return nil, fmt.Errorf("%w: file %q at archive root", ErrAmbiguousLayout, name)
		}
		tops[top] = true
		if rest == MetadataFilename && hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(io.LimitReader(tr, maxMetadataSize))
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			metadata[top] = data
		}
	}

	if len(tops) != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrAmbiguousLayout, len(tops))
	}
	for top := range tops {
		if data, ok := metadata[top]; ok {
			return data, nil
		}
	}
	return nil, ErrMissingMetadata
}

// ReadModuleMetadata reads and decodes the metadata document of an archive.
func ReadModuleMetadata(r io.Reader) (*model.Metadata, error) {
	data, err := ReadMetadata(r)
	if err != nil {
		return nil, err
	}
	return model.ParseMetadata(data)
}
