package model_test

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/pmirror/pmirror/pkg/registry/types"
	"github.com/stretchr/testify/require"
)

func TestNewModule(t *testing.T) {
	t.Run("requires every part of the key", func(t *testing.T) {
		_, err := model.NewModule(model.Key{Author: "puppetlabs", Name: "stdlib"})
		require.ErrorIs(t, err, types.ErrEmpty{Field: "version"})

		_, err = model.NewModule(model.Key{Name: "stdlib", Version: "1.0.0"})
		require.ErrorIs(t, err, types.ErrEmpty{Field: "author"})
	})

	t.Run("normalizes dependency names", func(t *testing.T) {
		m, err := model.NewModule(
			model.Key{Author: "puppetlabs", Name: "apache", Version: "1.0.0"},
			model.WithDependencies(
				model.Dependency{Name: "puppetlabs-stdlib", VersionRequirement: ">= 2.4.0"},
				model.Dependency{Name: "puppetlabs/concat"},
			),
		)
		require.NoError(t, err)
		require.Equal(t, []model.Dependency{
			{Name: "puppetlabs/stdlib", VersionRequirement: ">= 2.4.0"},
			{Name: "puppetlabs/concat"},
		}, m.Dependencies())
		require.Equal(t, "puppetlabs/apache", m.FullName())
		require.Equal(t, "puppetlabs-apache-1.0.0.tar.gz", m.ArchiveName())
	})
}

func TestSetChecksum(t *testing.T) {
	m, err := model.NewModule(model.Key{Author: "a", Name: "b", Version: "1.0.0"})
	require.NoError(t, err)
	require.Empty(t, m.Checksum())

	require.NoError(t, m.SetChecksum("abc", ""))
	require.Equal(t, "abc", m.Checksum())
	require.Equal(t, model.DefaultChecksumType, m.ChecksumType())

	require.NoError(t, m.SetChecksum("abc", "md5"), "setting the same checksum is a no-op")
	require.ErrorIs(t, m.SetChecksum("def", "md5"), types.ErrImmutable{Field: "checksum"})
}

func TestSetLocator(t *testing.T) {
	locator := func(data string) cid.Cid {
		mh, err := multihash.Sum([]byte(data), multihash.SHA2_256, -1)
		require.NoError(t, err)
		return cid.NewCidV1(cid.Raw, mh)
	}
	m, err := model.NewModule(model.Key{Author: "a", Name: "b", Version: "1.0.0"})
	require.NoError(t, err)
	require.False(t, m.Locator().Defined())

	require.ErrorIs(t, m.SetLocator(cid.Undef), types.ErrEmpty{Field: "locator"})
	require.NoError(t, m.SetLocator(locator("one")))
	require.NoError(t, m.SetLocator(locator("one")), "setting the same locator is a no-op")
	require.ErrorIs(t, m.SetLocator(locator("two")), types.ErrImmutable{Field: "locator"})
}

func TestKeyFromArchiveName(t *testing.T) {
	key, err := model.KeyFromArchiveName("puppetlabs-stdlib-4.1.0-rc1.tar.gz")
	require.NoError(t, err)
	require.Equal(t, model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0-rc1"}, key)

	_, err = model.KeyFromArchiveName("stdlib.tar.gz")
	require.Error(t, err)

	_, err = model.KeyFromArchiveName("puppetlabs-stdlib-4.1.0.zip")
	require.Error(t, err)
}

func TestMetadataKey(t *testing.T) {
	t.Run("uses the split metadata name", func(t *testing.T) {
		md, err := model.ParseMetadata([]byte(`{"name":"puppetlabs-stdlib","version":"4.1.0"}`))
		require.NoError(t, err)
		key, err := md.Key("ignored.tar.gz")
		require.NoError(t, err)
		require.Equal(t, model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}, key)
	})

	t.Run("falls back to the archive name", func(t *testing.T) {
		md, err := model.ParseMetadata([]byte(`{"name":"stdlib","version":"4.1.0"}`))
		require.NoError(t, err)
		key, err := md.Key("puppetlabs-stdlib-4.1.0.tar.gz")
		require.NoError(t, err)
		require.Equal(t, model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"}, key)
	})

	t.Run("fails when neither carries the author", func(t *testing.T) {
		md, err := model.ParseMetadata([]byte(`{"name":"stdlib","version":"4.1.0"}`))
		require.NoError(t, err)
		_, err = md.Key("puppetlabs-stdlib-4.1.0-395599552.gz")
		require.ErrorContains(t, err, "is not split")
	})

	t.Run("builds a module with its descriptive fields", func(t *testing.T) {
		md, err := model.ParseMetadata([]byte(`{
			"name": "puppetlabs/apache",
			"version": "1.0.0",
			"summary": "Apache",
			"license": "Apache-2.0",
			"project_page": "https://example.com/apache",
			"tags": ["web"],
			"types": [{"name": "a2mod"}],
			"dependencies": [{"name": "puppetlabs/stdlib", "version_requirement": ">= 1.0.0"}]
		}`))
		require.NoError(t, err)

		m, err := model.NewModuleFromMetadata(md, "puppetlabs-apache-1.0.0.tar.gz")
		require.NoError(t, err)
		require.Equal(t, "Apache", m.Summary())
		require.Equal(t, "https://example.com/apache", m.Source())
		require.Equal(t, []string{"web"}, m.Tags())
		require.Equal(t, []string{"a2mod"}, m.Types())
		require.Len(t, m.Dependencies(), 1)
	})
}

func TestKeyInitial(t *testing.T) {
	require.Equal(t, "p", model.Key{Author: "puppetlabs"}.Initial())
	require.Equal(t, "é", model.Key{Author: "émile"}.Initial())
	require.Empty(t, model.Key{}.Initial())
}
