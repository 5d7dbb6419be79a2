// Package contentstore stores module archives by content address.
//
// Every archive is addressed by a CIDv1 (raw codec, sha2-256) which is also
// its locator. The MD5 of the archive, the checksum recorded on modules, is
// computed on the way in. Content lives under root/<last two CID
// characters>/<CID>; the leading characters only encode the CID prefix.
package contentstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"
	mhcore "github.com/multiformats/go-multihash/core"
	"github.com/spf13/afero"
)

var log = logging.Logger("contentstore")

// ErrNotFound is returned when no archive exists for a locator.
var ErrNotFound = errors.New("content not found")

// Store is a content-addressed blob store on an afero filesystem.
type Store struct {
	fs   afero.Fs
	root string
}

// New creates a store rooted at root on the given filesystem.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// Put stores the content read from r, returning its locator and MD5 checksum
// (hex). Storing identical content twice yields the same locator.
func (s *Store) Put(ctx context.Context, r io.Reader) (cid.Cid, string, error) {
	tmpDir := path.Join(s.root, "tmp")
	if err := s.fs.MkdirAll(tmpDir, 0o755); err != nil {
		return cid.Undef, "", fmt.Errorf("creating temp dir: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, tmpDir, "put-*")
	if err != nil {
		return cid.Undef, "", fmt.Errorf("creating temp file: %w", err)
	}
	defer s.fs.Remove(tmp.Name())

	sha, md5, err := hashers()
	if err != nil {
		tmp.Close()
		return cid.Undef, "", err
	}
	_, err = io.Copy(io.MultiWriter(tmp, sha, md5), &ctxReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return cid.Undef, "", fmt.Errorf("writing content: %w", err)
	}

	c, err := cidFromDigest(sha.Sum(nil))
	if err != nil {
		return cid.Undef, "", err
	}
	dst := s.pathFor(c)
	if err := s.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return cid.Undef, "", fmt.Errorf("creating content dir: %w", err)
	}
	if err := s.fs.Rename(tmp.Name(), dst); err != nil {
		return cid.Undef, "", fmt.Errorf("moving content into place: %w", err)
	}
	log.Debugf("stored %s", c)
	return c, hex.EncodeToString(md5.Sum(nil)), nil
}

// Get opens the content stored under locator.
func (s *Store) Get(ctx context.Context, locator cid.Cid) (io.ReadCloser, error) {
	if !locator.Defined() {
		return nil, fmt.Errorf("%w: undefined locator", ErrNotFound)
	}
	f, err := s.fs.Open(s.pathFor(locator))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
		}
		return nil, fmt.Errorf("opening content %s: %w", locator, err)
	}
	return f, nil
}

// Verify re-reads the content under locator and reports whether it still
// hashes to its locator and, when checksum is not empty, to the given MD5.
func (s *Store) Verify(ctx context.Context, locator cid.Cid, checksum string) (bool, error) {
	rc, err := s.Get(ctx, locator)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	sha, md5, err := hashers()
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(io.MultiWriter(sha, md5), &ctxReader{ctx: ctx, r: rc}); err != nil {
		return false, fmt.Errorf("reading content %s: %w", locator, err)
	}
	found, err := cidFromDigest(sha.Sum(nil))
	if err != nil {
		return false, err
	}
	if !found.Equals(locator) {
		log.Warnf("content %s is corrupt: hashes to %s", locator, found)
		return false, nil
	}
	if checksum != "" && hex.EncodeToString(md5.Sum(nil)) != checksum {
		log.Warnf("content %s does not match checksum %s", locator, checksum)
		return false, nil
	}
	return true, nil
}

// Delete removes the content under locator. Deleting missing content is not
// an error.
func (s *Store) Delete(ctx context.Context, locator cid.Cid) error {
	if !locator.Defined() {
		return nil
	}
	if err := s.fs.Remove(s.pathFor(locator)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing content %s: %w", locator, err)
	}
	return nil
}

func (s *Store) pathFor(c cid.Cid) string {
	str := c.String()
	return path.Join(s.root, str[len(str)-2:], str)
}

func hashers() (hash.Hash, hash.Hash, error) {
	sha, err := mhcore.GetHasher(multihash.SHA2_256)
	if err != nil {
		return nil, nil, fmt.Errorf("getting sha2-256 hasher: %w", err)
	}
	md5, err := mhcore.GetHasher(multihash.MD5)
	if err != nil {
		return nil, nil, fmt.Errorf("getting md5 hasher: %w", err)
	}
	return sha, md5, nil
}

func cidFromDigest(digest []byte) (cid.Cid, error) {
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("encoding multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
