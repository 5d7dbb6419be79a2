package archive_test

import (
	"bytes"
	"testing"

	"github.com/pmirror/pmirror/pkg/archive"
	"github.com/pmirror/pmirror/pkg/archive/archivetest"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/stretchr/testify/require"
)

func TestReadMetadata(t *testing.T) {
	t.Run("reads metadata from the single top-level directory", func(t *testing.T) {
		key := model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}
		data := archivetest.ModuleArchive(t, key, model.Dependency{Name: "puppetlabs/concat", VersionRequirement: ">= 1.0.0"})

		md, err := archive.ReadModuleMetadata(bytes.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, "puppetlabs-stdlib", md.Name)
		require.Equal(t, "4.1.0", md.Version)
		require.Equal(t, []model.Dependency{{Name: "puppetlabs/concat", VersionRequirement: ">= 1.0.0"}}, md.Dependencies)
	})

	t.Run("accepts archives without explicit directory entries", func(t *testing.T) {
		data := archivetest.Tarball(t, map[string][]byte{
			"./a-b-1.0.0/metadata.json": []byte(`{"name":"a-b","version":"1.0.0"}`),
		})
		raw, err := archive.ReadMetadata(bytes.NewReader(data))
		require.NoError(t, err)
		require.Contains(t, string(raw), `"a-b"`)
	})

	t.Run("fails when metadata.json is missing", func(t *testing.T) {
		data := archivetest.Tarball(t, map[string][]byte{
			"a-b-1.0.0/":                  nil,
			"a-b-1.0.0/manifests/init.pp": []byte("class b {}"),
		})
		_, err := archive.ReadMetadata(bytes.NewReader(data))
		require.ErrorIs(t, err, archive.ErrMissingMetadata)
	})

	t.Run("fails when metadata.json is nested too deep", func(t *testing.T) {
		data := archivetest.Tarball(t, map[string][]byte{
			"a-b-1.0.0/sub/metadata.json": []byte(`{}`),
		})
		_, err := archive.ReadMetadata(bytes.NewReader(data))
		require.ErrorIs(t, err, archive.ErrMissingMetadata)
	})

	t.Run("fails with more than one top-level directory", func(t *testing.T) {
		data := archivetest.Tarball(t, map[string][]byte{
			"a-b-1.0.0/metadata.json": []byte(`{}`),
			"extra/README":            []byte("hi"),
		})
		_, err := archive.ReadMetadata(bytes.NewReader(data))
		require.ErrorIs(t, err, archive.ErrAmbiguousLayout)
	})

	t.Run("fails with a file at the root", func(t *testing.T) {
		data := archivetest.Tarball(t, map[string][]byte{
			"metadata.json": []byte(`{}`),
		})
		_, err := archive.ReadMetadata(bytes.NewReader(data))
		require.ErrorIs(t, err, archive.ErrAmbiguousLayout)
	})

	t.Run("fails on data that is not gzip", func(t *testing.T) {
		_, err := archive.ReadMetadata(bytes.NewReader([]byte("plain text")))
		require.Error(t, err)
	})
}
