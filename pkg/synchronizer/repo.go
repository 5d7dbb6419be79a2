package synchronizer

import (
	"context"

	"github.com/pmirror/pmirror/pkg/synchronizer/model"
)

// Repo is the job status sink sync reports are recorded in.
type Repo interface {
	// SaveSyncReport records the current snapshot of a report, replacing any
	// earlier snapshot of the same run.
	SaveSyncReport(ctx context.Context, report *model.Report) error
	// LatestSyncReport returns the most recent report for a repository, or nil.
	LatestSyncReport(ctx context.Context, repoID string) (*model.Report, error)
}
