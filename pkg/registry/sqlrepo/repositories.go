package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pmirror/pmirror/pkg/registry/repositories"
	"github.com/pmirror/pmirror/pkg/registry/repositories/model"
	"github.com/pmirror/pmirror/pkg/registry/sqlrepo/util"
)

var _ repositories.Repo = (*repo)(nil)

// CreateRepository creates a new repository with the given id and options.
func (r *repo) CreateRepository(ctx context.Context, repoID string, options ...model.RepositoryOption) (*model.Repository, error) {
	repository, err := model.NewRepository(repoID, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository model: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO repositories (id, display_name, created_at) VALUES (?, ?, ?)`,
		repository.ID(), repository.DisplayName(), repository.CreatedAt().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert repository into database: %w", err)
	}
	return repository, nil
}

// GetRepositoryByID retrieves a repository by its id.
func (r *repo) GetRepositoryByID(ctx context.Context, repoID string) (*model.Repository, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at FROM repositories WHERE id = ?`, repoID,
	)
	repository, err := readRepository(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return repository, err
}

// ListRepositories lists every repository ordered by id.
func (r *repo) ListRepositories(ctx context.Context) ([]*model.Repository, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name, created_at FROM repositories ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	var result []*model.Repository
	for rows.Next() {
		repository, err := readRepository(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, repository)
	}
	return result, rows.Err()
}

// BindConsumer binds a consumer to a repository.
func (r *repo) BindConsumer(ctx context.Context, consumerID string, repoID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO consumer_bindings (consumer_id, repository_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		consumerID, repoID,
	)
	if err != nil {
		return fmt.Errorf("failed to bind consumer %s to repository %s: %w", consumerID, repoID, err)
	}
	return nil
}

// UnbindConsumer removes a consumer binding.
func (r *repo) UnbindConsumer(ctx context.Context, consumerID string, repoID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM consumer_bindings WHERE consumer_id = ? AND repository_id = ?`,
		consumerID, repoID,
	)
	if err != nil {
		return fmt.Errorf("failed to unbind consumer %s from repository %s: %w", consumerID, repoID, err)
	}
	return nil
}

// RepositoryIDsForConsumer lists the ids of every repository bound to the consumer.
func (r *repo) RepositoryIDsForConsumer(ctx context.Context, consumerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT repository_id FROM consumer_bindings WHERE consumer_id = ? ORDER BY repository_id`,
		consumerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings for consumer %s: %w", consumerID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var repoID string
		if err := rows.Scan(&repoID); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		ids = append(ids, repoID)
	}
	return ids, rows.Err()
}

func readRepository(scan func(dest ...any) error) (*model.Repository, error) {
	return model.ReadRepositoryFromDatabase(func(repoID *string, displayName *string, createdAt *time.Time) error {
		err := scan(repoID, displayName, util.TimestampScanner(createdAt))
		if err != nil {
			return fmt.Errorf("failed to scan repository: %w", err)
		}
		return nil
	})
}
