package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pmirror/pmirror/pkg/registry/sqlrepo/util"
	"github.com/pmirror/pmirror/pkg/synchronizer"
	"github.com/pmirror/pmirror/pkg/synchronizer/model"
)

var _ synchronizer.Repo = (*repo)(nil)

// SaveSyncReport records the current snapshot of a sync report.
func (r *repo) SaveSyncReport(ctx context.Context, report *model.Report) error {
	snapshot := report.Snapshot()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_reports (id, repository_id, report, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET report = excluded.report, updated_at = excluded.updated_at`,
		report.ID(), report.RepositoryID(), util.JSON(&snapshot), report.UpdatedAt().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save sync report %s: %w", report.ID(), err)
	}
	return nil
}

// LatestSyncReport returns the most recently updated report for a repository.
func (r *repo) LatestSyncReport(ctx context.Context, repoID string) (*model.Report, error) {
	var snapshot model.Snapshot
	err := r.db.QueryRowContext(ctx,
		`SELECT report FROM sync_reports WHERE repository_id = ? ORDER BY updated_at DESC LIMIT 1`,
		repoID,
	).Scan(util.JSON(&snapshot))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync report for repository %s: %w", repoID, err)
	}
	return model.ReadReportFromSnapshot(snapshot)
}
