package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pmirror/pmirror/pkg/feed/metadata"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const userAgent = "pmirror/1.0"

// networked fetches a feed over HTTP(S). Archives are downloaded to temporary
// files which the caller releases with CleanupModule.
type networked struct {
	client  *resty.Client
	limiter *rate.Limiter
	base    *url.URL
	queries []string
	workers int
	fs      afero.Fs
	tempDir string
	cancel  canceler

	mu        sync.Mutex
	downloads map[string]string
}

var _ Downloader = (*networked)(nil)

func newNetworked(src Source) (*networked, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryLogger{}

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(5*time.Minute).
		SetHeader("User-Agent", userAgent)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if src.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(src.RequestsPerSecond), 1)
	}

	workers := src.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	tempDir := src.TempDir
	if tempDir == "" {
		tempDir = afero.GetTempDir(src.Fs, "pmirror-downloads")
	}
	if err := src.Fs.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	return &networked{
		client:    client,
		limiter:   limiter,
		base:      src.URL,
		queries:   src.Queries,
		workers:   workers,
		fs:        src.Fs,
		tempDir:   tempDir,
		cancel:    newCanceler(),
		downloads: map[string]string{},
	}, nil
}

func (n *networked) Fs() afero.Fs {
	return n.fs
}

// resolve joins a feed-relative path onto the feed URL.
func (n *networked) resolve(rel string) string {
	u := *n.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path.Clean("/"+rel), "/")
	u.RawQuery = ""
	return u.String()
}

func (n *networked) RetrieveManifest(ctx context.Context, progress Progress) ([]byte, error) {
	data, err := n.get(ctx, n.resolve(metadata.ManifestFilename), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMetadata, metadata.ManifestFilename, err)
	}
	if progress != nil {
		progress(Event{Type: EventMetadataRetrieved, Document: metadata.ManifestFilename})
	}
	return data, nil
}

// RetrieveMetadata fetches modules.json once per query, or once unfiltered
// when there are no queries. Any failed document fails the whole retrieval.
func (n *networked) RetrieveMetadata(ctx context.Context, progress Progress) ([][]byte, error) {
	queries := n.queries
	if len(queries) == 0 {
		queries = []string{""}
	}
	docs := make([][]byte, 0, len(queries))
	for _, q := range queries {
		params := map[string]string{}
		name := metadata.ForgeFilename
		if q != "" {
			params["q"] = q
			name += "?q=" + q
		}
		data, err := n.get(ctx, n.resolve(metadata.ForgeFilename), params)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMetadata, name, err)
		}
		log.Debugw("retrieved metadata document", "document", name, "bytes", len(data))
		if progress != nil {
			progress(Event{Type: EventMetadataRetrieved, Document: name})
		}
		docs = append(docs, data)
	}
	return docs, nil
}

func (n *networked) get(ctx context.Context, target string, params map[string]string) ([]byte, error) {
	ctx, done := n.cancel.with(ctx)
	defer done()
	if err := n.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := n.client.R().SetContext(ctx).SetQueryParams(params).Get(target)
	if err != nil {
		return nil, n.translate(err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s: %s", target, resp.Status())
	}
	return resp.Body(), nil
}

func (n *networked) RetrieveModule(ctx context.Context, progress Progress, entry metadata.Entry) (string, error) {
	return n.retrieve(ctx, &reporter{progress: progress}, entry)
}

func (n *networked) retrieve(ctx context.Context, r *reporter, entry metadata.Entry) (string, error) {
	p, err := n.download(ctx, entry)
	if err != nil {
		r.report(Event{Type: EventModuleFailed, Entry: &entry, Err: err})
		return "", err
	}
	r.report(Event{Type: EventModuleRetrieved, Entry: &entry})
	return p, nil
}

func (n *networked) download(ctx context.Context, entry metadata.Entry) (string, error) {
	ctx, done := n.cancel.with(ctx)
	defer done()
	if err := n.wait(ctx); err != nil {
		return "", err
	}

	target := n.resolve(entry.Path)
	resp, err := n.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(target)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", entry.Key, n.translate(err))
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("downloading %s: GET %s: %s", entry.Key, target, resp.Status())
	}

	f, err := afero.TempFile(n.fs, n.tempDir, entry.Key.String()+"-*"+filepath.Ext(entry.Key.ArchiveName()))
	if err != nil {
		return "", fmt.Errorf("creating download file for %s: %w", entry.Key, err)
	}
	name := f.Name()
	_, err = io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = n.fs.Remove(name)
		return "", fmt.Errorf("downloading %s: %w", entry.Key, n.translate(err))
	}

	n.mu.Lock()
	if old, ok := n.downloads[entry.Key.String()]; ok && old != name {
		_ = n.fs.Remove(old)
	}
	n.downloads[entry.Key.String()] = name
	n.mu.Unlock()
	log.Debugw("downloaded module", "module", entry.Key.String(), "path", name)
	return name, nil
}

// RetrieveModules downloads entries on a bounded worker pool. Per-module
// failures are recorded in the results rather than stopping the batch.
func (n *networked) RetrieveModules(ctx context.Context, progress Progress, entries []metadata.Entry) ([]Result, error) {
	r := &reporter{progress: progress}
	results := make([]Result, len(entries))
	var g errgroup.Group
	g.SetLimit(n.workers)
	for i, entry := range entries {
		results[i].Entry = entry
		g.Go(func() error {
			p, err := n.retrieve(ctx, r, entry)
			results[i].Path = p
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	if n.cancel.canceled() {
		return results, ErrCanceled
	}
	return results, ctx.Err()
}

func (n *networked) Cancel() {
	n.cancel.cancel()
}

func (n *networked) CleanupModule(entry metadata.Entry) error {
	n.mu.Lock()
	name, ok := n.downloads[entry.Key.String()]
	delete(n.downloads, entry.Key.String())
	n.mu.Unlock()
	if !ok {
		return nil
	}
	if err := n.fs.Remove(name); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		return fmt.Errorf("removing download of %s: %w", entry.Key, err)
	}
	return nil
}

func (n *networked) wait(ctx context.Context) error {
	if n.cancel.canceled() {
		return ErrCanceled
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return n.translate(err)
	}
	return nil
}

// translate reports cancellation of the downloader as ErrCanceled.
func (n *networked) translate(err error) error {
	if n.cancel.canceled() {
		return ErrCanceled
	}
	return err
}

// retryLogger routes retryablehttp's leveled logging into the feed logger.
type retryLogger struct{}

var _ retryablehttp.LeveledLogger = retryLogger{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Errorw(msg, keysAndValues...)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugw(msg, keysAndValues...)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Debugw(msg, keysAndValues...)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warnw(msg, keysAndValues...)
}
