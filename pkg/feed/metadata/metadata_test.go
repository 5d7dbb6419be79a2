package metadata_test

import (
	"testing"
	"unicode/utf8"

	"github.com/pmirror/pmirror/pkg/feed/metadata"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	t.Run("parses every line", func(t *testing.T) {
		md, err := metadata.ParseManifest([]byte(
			"puppetlabs-stdlib-4.1.0.tar.gz,ABCDEF,100\n" +
				"\n" +
				"sub/puppetlabs-concat-1.0.0-rc1.tar.gz,123456,42\n",
		))
		require.NoError(t, err)
		require.Equal(t, []metadata.Entry{
			{
				Key:      model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.1.0"},
				Path:     "puppetlabs-stdlib-4.1.0.tar.gz",
				Checksum: "abcdef",
				Size:     100,
			},
			{
				Key:      model.Key{Author: "puppetlabs", Name: "concat", Version: "1.0.0-rc1"},
				Path:     "sub/puppetlabs-concat-1.0.0-rc1.tar.gz",
				Checksum: "123456",
				Size:     42,
			},
		}, md.Entries)
	})

	t.Run("fails on a malformed line", func(t *testing.T) {
		_, err := metadata.ParseManifest([]byte("puppetlabs-stdlib-4.1.0.tar.gz,abc\n"))
		require.ErrorContains(t, err, "manifest line 1")

		_, err = metadata.ParseManifest([]byte("stdlib.tar.gz,abc,1\n"))
		require.Error(t, err)

		_, err = metadata.ParseManifest([]byte("a-b-1.0.0.tar.gz,abc,big\n"))
		require.ErrorContains(t, err, "invalid size")
	})
}

func TestParseForge(t *testing.T) {
	t.Run("expands every release and merges query documents", func(t *testing.T) {
		first := []byte(`[
			{"author": "puppetlabs", "full_name": "puppetlabs/stdlib", "name": "stdlib",
			 "desc": "Standard library", "tag_list": ["stdlib"],
			 "releases": [{"version": "4.1.0"}, {"version": "4.0.0"}]}
		]`)
		second := []byte(`[
			{"author": "puppetlabs", "full_name": "puppetlabs/stdlib", "name": "stdlib",
			 "releases": [{"version": "4.1.0"}]},
			{"author": "example", "full_name": "example-ntp", "name": "ntp", "version": "0.1.0"}
		]`)

		md, err := metadata.ParseForge(first, second)
		require.NoError(t, err)
		require.Len(t, md.Entries, 3)

		keys := md.Keys()
		stdlib, ok := keys[model.Key{Author: "puppetlabs", Name: "stdlib", Version: "4.0.0"}]
		require.True(t, ok)
		require.Equal(t, "system/releases/p/puppetlabs/puppetlabs-stdlib-4.0.0.tar.gz", stdlib.Path)
		require.Equal(t, "Standard library", stdlib.Summary)

		_, ok = keys[model.Key{Author: "example", Name: "ntp", Version: "0.1.0"}]
		require.True(t, ok, "a module without releases uses its current version")
	})

	t.Run("fails on an undecodable document", func(t *testing.T) {
		_, err := metadata.ParseForge([]byte(`{"not": "a list"}`))
		require.Error(t, err)
	})

	t.Run("parses an empty feed", func(t *testing.T) {
		md, err := metadata.ParseForge([]byte(`[]`))
		require.NoError(t, err)
		require.Empty(t, md.Entries)
	})
}

func TestForgeArchivePath(t *testing.T) {
	key := model.Key{Author: "émile", Name: "stdlib", Version: "1.0.0"}
	p := metadata.ForgeArchivePath(key)
	require.Equal(t, "system/releases/é/émile/émile-stdlib-1.0.0.tar.gz", p)
	require.True(t, utf8.ValidString(p))

	entry := metadata.Entry{Key: key, Path: p}
	require.Equal(t, "émile-stdlib-1.0.0.tar.gz", entry.ArchiveName())
	require.Equal(t, key.ArchiveName(), metadata.Entry{Key: key}.ArchiveName())
}
