package contentstore_test

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/pmirror/pmirror/pkg/contentstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	data := []byte("module archive bytes")
	sum := md5.Sum(data)

	t.Run("puts and gets content by locator", func(t *testing.T) {
		store := contentstore.New(afero.NewMemMapFs(), "/content")

		locator, checksum, err := store.Put(t.Context(), bytes.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, hex.EncodeToString(sum[:]), checksum)

		require.True(t, locator.Defined())
		require.Equal(t, uint64(cid.Raw), locator.Type())

		rc, err := store.Get(t.Context(), locator)
		require.NoError(t, err)
		defer rc.Close()
		read, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.Equal(t, data, read)
	})

	t.Run("is idempotent for identical content", func(t *testing.T) {
		store := contentstore.New(afero.NewMemMapFs(), "/content")

		first, _, err := store.Put(t.Context(), bytes.NewReader(data))
		require.NoError(t, err)
		second, _, err := store.Put(t.Context(), bytes.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("verifies intact and corrupt content", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := contentstore.New(fs, "/content")

		locator, checksum, err := store.Put(t.Context(), bytes.NewReader(data))
		require.NoError(t, err)

		ok, err := store.Verify(t.Context(), locator, checksum)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.Verify(t.Context(), locator, "0000")
		require.NoError(t, err)
		require.False(t, ok, "a wrong checksum fails verification")

		// Corrupt the stored bytes in place.
		var stored string
		require.NoError(t, afero.Walk(fs, "/content", func(p string, info os.FileInfo, err error) error {
			if err == nil && !info.IsDir() {
				stored = p
			}
			return err
		}))
		require.NotEmpty(t, stored)
		require.NoError(t, afero.WriteFile(fs, stored, []byte("tampered"), 0o644))

		ok, err = store.Verify(t.Context(), locator, "")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("reports missing content", func(t *testing.T) {
		store := contentstore.New(afero.NewMemMapFs(), "/content")
		locator, _, err := contentstore.New(afero.NewMemMapFs(), "/other").Put(t.Context(), bytes.NewReader(data))
		require.NoError(t, err)

		_, err = store.Get(t.Context(), locator)
		require.ErrorIs(t, err, contentstore.ErrNotFound)
		require.NoError(t, store.Delete(t.Context(), locator))

		_, err = store.Get(t.Context(), cid.Undef)
		require.ErrorIs(t, err, contentstore.ErrNotFound)
	})

	t.Run("shards content on the end of the locator", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := contentstore.New(fs, "/content")
		locator, _, err := store.Put(t.Context(), bytes.NewReader(data))
		require.NoError(t, err)

		str := locator.String()
		exists, err := afero.Exists(fs, path.Join("/content", str[len(str)-2:], str))
		require.NoError(t, err)
		require.True(t, exists)
	})
}
