// Package synchronizer reconciles a repository in the module registry against
// a feed.
//
// A run fetches the feed's metadata, diffs the advertised module keys against
// the ones already in the repository, imports the new ones and, when asked,
// removes the ones the feed no longer has. Progress is tracked in a
// [model.Report] which is saved to a [Repo] as it changes.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/pkg/feed"
	"github.com/pmirror/pmirror/pkg/feed/metadata"
	"github.com/pmirror/pmirror/pkg/metrics"
	"github.com/pmirror/pmirror/pkg/registry/modules"
	modmodel "github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/pmirror/pmirror/pkg/synchronizer/model"
)

var log = logging.Logger("synchronizer")

// Flow selects how feed metadata is read.
type Flow string

const (
	// FlowDirectory reads a PULP_MANIFEST listing archives and checksums.
	FlowDirectory Flow = "directory"
	// FlowForge reads the modules.json document of a Forge-style feed.
	FlowForge Flow = "forge"
	// FlowAuto tries the directory flow and falls back to the forge flow when
	// the feed's manifest cannot be retrieved.
	FlowAuto Flow = "auto"
)

// DefaultBatchSize is how many archives are requested from the downloader at
// once.
const DefaultBatchSize = 16

// Options tune a sync run.
type Options struct {
	// RemoveMissing disassociates modules the feed no longer advertises.
	RemoveMissing bool
	// ValidateDownloads checks archives against the manifest checksum before
	// import.
	ValidateDownloads bool
	// BatchSize bounds how many archives are downloaded ahead of import.
	BatchSize int
}

// Synchronizer runs sync passes of one repository against one feed.
type Synchronizer struct {
	RepoID     string
	Downloader feed.Downloader
	Modules    modules.API
	Reports    Repo
	Flow       Flow
	Options    Options
	Metrics    *metrics.Metrics
	// OnProgress, when set, receives every saved snapshot.
	OnProgress func(model.Snapshot)

	canceled atomic.Bool
}

// Cancel stops the run at the next module boundary and aborts in-flight
// downloads. Modules already imported stay imported.
func (s *Synchronizer) Cancel() {
	s.canceled.Store(true)
	s.Downloader.Cancel()
}

// Run performs one sync pass and returns its final report. The returned error
// is only set when the report itself could not be driven; metadata and module
// failures are recorded in the report.
func (s *Synchronizer) Run(ctx context.Context) (*model.Report, error) {
	switch s.Flow {
	case FlowDirectory, FlowForge, FlowAuto:
		return s.runFlow(ctx, s.Flow)
	case "":
		return s.runFlow(ctx, FlowAuto)
	default:
		return nil, fmt.Errorf("unknown sync flow %q", s.Flow)
	}
}

func (s *Synchronizer) runFlow(ctx context.Context, flow Flow) (report *model.Report, err error) {
	report, err = model.NewReport(s.RepoID)
	if err != nil {
		return nil, fmt.Errorf("creating sync report: %w", err)
	}
	r := &reporter{repo: s.Reports, report: report, onProgress: s.OnProgress}

	used := flow
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("sync panicked: %v", p)
			log.Errorw("sync panicked", "repository", s.RepoID, "panic", p)
			failRunning(report, msg, string(debug.Stack()))
			err = errors.New(msg)
		}
		s.Metrics.SyncFinished(string(used), outcome(report))
		r.update(ctx)
	}()

	return report, s.run(ctx, &used, report, r)
}

// run drives the report through both phases. flow is updated to the flow the
// metadata was actually read with.
func (s *Synchronizer) run(ctx context.Context, flow *Flow, report *model.Report, r *reporter) error {
	if err := report.StartMetadata(); err != nil {
		return fmt.Errorf("starting metadata phase: %w", err)
	}
	r.update(ctx)

	md, used, err := s.retrieveMetadata(ctx, *flow)
	*flow = used
	if err != nil {
		if s.stopped(ctx) {
			return report.Cancel()
		}
		log.Warnw("metadata retrieval failed", "repository", s.RepoID, "flow", used, "error", err)
		return report.FailMetadata(err.Error(), "")
	}
	if err := report.CompleteMetadata(); err != nil {
		return fmt.Errorf("completing metadata phase: %w", err)
	}
	r.update(ctx)

	existing, err := s.Modules.ModuleKeys(ctx, s.RepoID)
	if err != nil {
		if err := report.StartModules(0); err != nil {
			return err
		}
		return report.FailModules(err.Error(), "")
	}
	remote := md.Keys()
	toImport, toRemove := reconcile(existing, remote)
	log.Infof("syncing %s: %d advertised, %d present, %d new, %d missing", s.RepoID, len(remote), len(existing), len(toImport), len(toRemove))

	if err := report.StartModules(len(toImport)); err != nil {
		return fmt.Errorf("starting modules phase: %w", err)
	}
	r.update(ctx)

	if !s.importModules(ctx, used, toImport, report, r) {
		return report.Cancel()
	}

	if s.Options.RemoveMissing {
		for _, key := range toRemove {
			if s.stopped(ctx) {
				return report.Cancel()
			}
			if err := s.Modules.Disassociate(ctx, s.RepoID, key); err != nil {
				return report.FailModules(err.Error(), "")
			}
			if err := report.ModuleRemoved(); err != nil {
				return err
			}
			s.Metrics.ModuleRemoved(s.RepoID)
			r.update(ctx)
		}
	}

	if err := report.CompleteModules(); err != nil {
		return fmt.Errorf("completing modules phase: %w", err)
	}
	return nil
}

// retrieveMetadata reads the feed metadata with the given flow and returns
// the flow that produced it. The auto flow falls back to forge metadata only
// when the manifest cannot be retrieved; a manifest that is present but
// malformed fails the run.
func (s *Synchronizer) retrieveMetadata(ctx context.Context, flow Flow) (*metadata.RepositoryMetadata, Flow, error) {
	progress := func(e feed.Event) {
		log.Debugw("retrieved metadata", "repository", s.RepoID, "document", e.Document)
	}
	switch flow {
	case FlowDirectory:
		md, err := s.readManifest(ctx, progress)
		return md, FlowDirectory, err
	case FlowForge:
		md, err := s.readForge(ctx, progress)
		return md, FlowForge, err
	default:
		md, err := s.readManifest(ctx, progress)
		if err == nil || !errors.Is(err, feed.ErrMetadata) || s.stopped(ctx) {
			return md, FlowDirectory, err
		}
		log.Infow("feed has no manifest, falling back to forge metadata", "repository", s.RepoID, "error", err)
		md, err = s.readForge(ctx, progress)
		return md, FlowForge, err
	}
}

func (s *Synchronizer) readManifest(ctx context.Context, progress feed.Progress) (*metadata.RepositoryMetadata, error) {
	data, err := s.Downloader.RetrieveManifest(ctx, progress)
	if err != nil {
		return nil, err
	}
	return metadata.ParseManifest(data)
}

func (s *Synchronizer) readForge(ctx context.Context, progress feed.Progress) (*metadata.RepositoryMetadata, error) {
	docs, err := s.Downloader.RetrieveMetadata(ctx, progress)
	if err != nil {
		return nil, err
	}
	return metadata.ParseForge(docs...)
}

// importModules downloads and imports entries in batches, one module at a
// time. It returns false if the run was canceled.
func (s *Synchronizer) importModules(ctx context.Context, flow Flow, entries []metadata.Entry, report *model.Report, r *reporter) bool {
	batchSize := s.Options.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	progress := func(e feed.Event) {
		if e.Type == feed.EventModuleFailed {
			log.Debugw("download failed", "module", e.Entry.Key.String(), "error", e.Err)
		}
	}

	for start := 0; start < len(entries); start += batchSize {
		if s.stopped(ctx) {
			return false
		}
		batch := entries[start:min(start+batchSize, len(entries))]
		results, err := s.Downloader.RetrieveModules(ctx, progress, batch)
		if err != nil && s.stopped(ctx) {
			s.cleanup(results)
			return false
		}
		for i, res := range results {
			if s.stopped(ctx) {
				s.cleanup(results[i:])
				return false
			}
			key := res.Entry.Key.String()
			if err := s.importModule(ctx, flow, res); err != nil {
				log.Warnw("module import failed", "repository", s.RepoID, "module", key, "error", err)
				if err := report.ModuleFailed(key, err); err != nil {
					log.Errorw("recording module failure", "error", err)
				}
				s.Metrics.ModuleFailed(s.RepoID)
			} else {
				if err := report.ModuleImported(); err != nil {
					log.Errorw("recording module import", "error", err)
				}
				s.Metrics.ModuleImported(s.RepoID)
			}
			r.update(ctx)
		}
	}
	return true
}

func (s *Synchronizer) importModule(ctx context.Context, flow Flow, res feed.Result) error {
	if res.Err != nil {
		return res.Err
	}
	defer func() {
		if err := s.Downloader.CleanupModule(res.Entry); err != nil {
			log.Warnw("cleaning up download", "module", res.Entry.Key.String(), "error", err)
		}
	}()

	if flow == FlowDirectory && s.Options.ValidateDownloads {
		if err := feed.ValidateChecksum(s.Downloader.Fs(), res.Path, res.Entry); err != nil {
			return err
		}
	}

	module, err := s.Modules.ImportArchive(ctx, s.RepoID, modules.Archive{
		Fs:   s.Downloader.Fs(),
		Path: res.Path,
		Name: res.Entry.ArchiveName(),
	})
	if err != nil {
		return err
	}
	if module.Key() != res.Entry.Key {
		log.Warnw("archive metadata disagrees with feed", "feed", res.Entry.Key.String(), "archive", module.Key().String())
	}
	return nil
}

func (s *Synchronizer) cleanup(results []feed.Result) {
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		if err := s.Downloader.CleanupModule(res.Entry); err != nil {
			log.Warnw("cleaning up download", "module", res.Entry.Key.String(), "error", err)
		}
	}
}

func (s *Synchronizer) stopped(ctx context.Context) bool {
	return s.canceled.Load() || ctx.Err() != nil
}

// reconcile returns the remote entries missing locally and the local keys
// missing remotely, each in key order.
func reconcile(existing map[modmodel.Key]bool, remote map[modmodel.Key]metadata.Entry) ([]metadata.Entry, []modmodel.Key) {
	var toImport []metadata.Entry
	for key, entry := range remote {
		if !existing[key] {
			toImport = append(toImport, entry)
		}
	}
	sort.Slice(toImport, func(i, j int) bool {
		return toImport[i].Key.String() < toImport[j].Key.String()
	})

	var toRemove []modmodel.Key
	for key := range existing {
		if _, ok := remote[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}
	sort.Slice(toRemove, func(i, j int) bool {
		return toRemove[i].String() < toRemove[j].String()
	})
	return toImport, toRemove
}

// failRunning moves whichever phase is still open to failed.
func failRunning(report *model.Report, msg string, traceback string) {
	if report.Done() {
		return
	}
	if !report.Metadata().State.Terminal() {
		_ = report.FailMetadata(msg, traceback)
		return
	}
	if report.Modules().State == model.StateNotStarted {
		_ = report.StartModules(0)
	}
	_ = report.FailModules(msg, traceback)
}

func outcome(report *model.Report) string {
	switch {
	case report.Succeeded():
		return "success"
	case report.Metadata().State == model.StateCanceled || report.Modules().State == model.StateCanceled:
		return "canceled"
	default:
		return "failed"
	}
}

// reporter publishes report snapshots to the status sink. Every call saves
// the report as it is now.
type reporter struct {
	repo       Repo
	report     *model.Report
	onProgress func(model.Snapshot)
}

func (r *reporter) update(ctx context.Context) {
	if r.repo != nil {
		if err := r.repo.SaveSyncReport(context.WithoutCancel(ctx), r.report); err != nil {
			log.Errorw("saving sync report", "repository", r.report.RepositoryID(), "error", err)
		}
	}
	if r.onProgress != nil {
		r.onProgress(r.report.Snapshot())
	}
}
