// Package feed retrieves metadata documents and module archives from a feed.
//
// A feed is either a local directory or an HTTP(S) endpoint. Both are reached
// through the same [Downloader] interface; [New] picks the implementation for
// a [Source].
package feed

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"
	mhcore "github.com/multiformats/go-multihash/core"
	"github.com/pmirror/pmirror/pkg/feed/metadata"
	"github.com/spf13/afero"
)

var log = logging.Logger("feed")

// DefaultWorkers is the size of the networked download pool when none is set.
const DefaultWorkers = 4

var (
	// ErrMetadata wraps every failure to retrieve a metadata document. It is
	// fatal for a sync pass.
	ErrMetadata = errors.New("retrieving feed metadata")
	// ErrCanceled is returned once a downloader has been canceled.
	ErrCanceled = errors.New("downloader canceled")
	// ErrChecksum is returned when a downloaded archive does not match the
	// checksum advertised by the feed.
	ErrChecksum = errors.New("archive checksum mismatch")
)

// Kind selects the downloader implementation.
type Kind string

const (
	// KindLocal reads the feed from a directory.
	KindLocal Kind = "local"
	// KindNetworked fetches the feed over HTTP(S).
	KindNetworked Kind = "networked"
)

// Source describes a feed. Path is used by local feeds, URL and Workers by
// networked ones.
type Source struct {
	Kind    Kind
	Path    string
	URL     *url.URL
	Workers int
	// Queries filter a Forge feed server-side. Each query produces one
	// metadata document.
	Queries []string
	// RequestsPerSecond throttles networked request starts. Zero disables
	// throttling.
	RequestsPerSecond float64
	// Fs is the filesystem local feeds are read from and networked archives
	// are downloaded to. It defaults to the OS filesystem.
	Fs afero.Fs
	// TempDir is where networked archives are downloaded to.
	TempDir string
}

// ParseSource builds a Source from a feed string: "file://" URLs and bare
// paths are local, "http://" and "https://" URLs are networked.
func ParseSource(feed string) (Source, error) {
	if feed == "" {
		return Source{}, fmt.Errorf("feed cannot be empty")
	}
	if !strings.Contains(feed, "://") {
		return Source{Kind: KindLocal, Path: feed}, nil
	}
	u, err := url.Parse(feed)
	if err != nil {
		return Source{}, fmt.Errorf("parsing feed %q: %w", feed, err)
	}
	switch u.Scheme {
	case "file":
		return Source{Kind: KindLocal, Path: u.Path}, nil
	case "http", "https":
		return Source{Kind: KindNetworked, URL: u, Workers: DefaultWorkers}, nil
	default:
		return Source{}, fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
}

// EventType identifies a progress event.
type EventType string

const (
	EventMetadataRetrieved EventType = "metadata-retrieved"
	EventModuleRetrieved   EventType = "module-retrieved"
	EventModuleFailed      EventType = "module-failed"
)

// Event is a single progress update from a downloader.
type Event struct {
	Type EventType
	// Document is the name of the metadata document, for metadata events.
	Document string
	Entry    *metadata.Entry
	Err      error
}

// Progress receives downloader events. Downloaders never invoke it
// concurrently. A nil Progress is allowed.
type Progress func(Event)

// Result is the outcome of retrieving one module in a batch.
type Result struct {
	Entry metadata.Entry
	Path  string
	Err   error
}

// Downloader retrieves feed documents and module archives.
type Downloader interface {
	// RetrieveManifest returns the directory feed manifest.
	RetrieveManifest(ctx context.Context, progress Progress) ([]byte, error)
	// RetrieveMetadata returns one Forge metadata document per configured
	// query (or a single unfiltered document).
	RetrieveMetadata(ctx context.Context, progress Progress) ([][]byte, error)
	// RetrieveModule makes the module archive available locally and returns
	// its path on the downloader's filesystem.
	RetrieveModule(ctx context.Context, progress Progress, entry metadata.Entry) (string, error)
	// RetrieveModules retrieves a batch. A failure of one module never aborts
	// the others; results are returned in input order.
	RetrieveModules(ctx context.Context, progress Progress, entries []metadata.Entry) ([]Result, error)
	// Cancel aborts in-flight and future transfers.
	Cancel()
	// CleanupModule removes any temporary copy made by RetrieveModule.
	CleanupModule(entry metadata.Entry) error
	// Fs is the filesystem returned paths live on.
	Fs() afero.Fs
}

// New returns the downloader for the source's kind.
func New(src Source) (Downloader, error) {
	if src.Fs == nil {
		src.Fs = afero.NewOsFs()
	}
	switch src.Kind {
	case KindLocal:
		if src.Path == "" {
			return nil, fmt.Errorf("local feed requires a path")
		}
		return newLocal(src), nil
	case KindNetworked:
		if src.URL == nil {
			return nil, fmt.Errorf("networked feed requires a URL")
		}
		return newNetworked(src)
	default:
		return nil, fmt.Errorf("unknown feed kind %q", src.Kind)
	}
}

// ValidateChecksum checks a retrieved archive against the sha256 advertised
// by a manifest entry. Entries without a checksum always validate.
func ValidateChecksum(fs afero.Fs, path string, entry metadata.Entry) error {
	if entry.Checksum == "" {
		return nil
	}
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	hasher, err := mhcore.GetHasher(multihash.SHA2_256)
	if err != nil {
		return fmt.Errorf("getting sha2-256 hasher: %w", err)
	}
	n, err := io.Copy(hasher, f)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if entry.Size > 0 && n != entry.Size {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", ErrChecksum, entry.Key, n, entry.Size)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != entry.Checksum {
		return fmt.Errorf("%w: %s has %s, expected %s", ErrChecksum, entry.Key, got, entry.Checksum)
	}
	return nil
}

// canceler merges caller contexts with a downloader-wide cancel signal.
type canceler struct {
	base   context.Context
	cancel context.CancelFunc
}

func newCanceler() canceler {
	base, cancel := context.WithCancel(context.Background())
	return canceler{base: base, cancel: cancel}
}

// with returns a context canceled when either ctx or the downloader is.
func (c canceler) with(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c canceler) canceled() bool {
	return c.base.Err() != nil
}

// reporter serializes progress callbacks.
type reporter struct {
	mu       sync.Mutex
	progress Progress
}

func (r *reporter) report(e Event) {
	if r.progress == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress(e)
}
