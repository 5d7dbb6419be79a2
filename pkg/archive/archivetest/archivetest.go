// Package archivetest builds module archives for tests.
package archivetest

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"path"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/stretchr/testify/require"
)

// Tarball returns a gzipped tarball with the given entries. Keys ending in "/"
// are written as directories.
func Tarball(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		data := entries[name]
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}
		if name[len(name)-1] == '/' {
			hdr = &tar.Header{Name: name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write(data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// ModuleArchive returns a well-formed archive for the given key and
// dependencies.
func ModuleArchive(t *testing.T, key model.Key, deps ...model.Dependency) []byte {
	t.Helper()

	return WithMetadata(t, key, model.Metadata{
		Name:         key.Author + "-" + key.Name,
		Version:      key.Version,
		Author:       key.Author,
		Summary:      "test module " + key.FullName(),
		Dependencies: deps,
		Tags:         []string{"test"},
	})
}

// WithMetadata returns an archive laid out for key that carries md as its
// metadata.json verbatim.
func WithMetadata(t *testing.T, key model.Key, md model.Metadata) []byte {
	t.Helper()

	data, err := json.Marshal(md)
	require.NoError(t, err)

	top := key.String() + "/"
	return Tarball(t, map[string][]byte{
		top:                                 nil,
		path.Join(top, "metadata.json"):     data,
		path.Join(top, "manifests/init.pp"): []byte("class " + key.Name + " {}\n"),
	})
}
