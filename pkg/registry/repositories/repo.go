package repositories

import (
	"context"

	"github.com/pmirror/pmirror/pkg/registry/repositories/model"
)

// Repo defines the interface for a repository that manages module
// repositories and the consumers bound to them.
type Repo interface {
	// CreateRepository creates a new repository with the given id and options.
	CreateRepository(ctx context.Context, repoID string, options ...model.RepositoryOption) (*model.Repository, error)
	// GetRepositoryByID retrieves a repository, or nil if it does not exist.
	GetRepositoryByID(ctx context.Context, repoID string) (*model.Repository, error)
	// ListRepositories lists every repository ordered by id.
	ListRepositories(ctx context.Context) ([]*model.Repository, error)
	// BindConsumer binds a consumer to a repository. Binding twice is a no-op.
	BindConsumer(ctx context.Context, consumerID string, repoID string) error
	// UnbindConsumer removes a consumer binding, if present.
	UnbindConsumer(ctx context.Context, consumerID string, repoID string) error
	// RepositoryIDsForConsumer lists the ids of every repository bound to the consumer.
	RepositoryIDsForConsumer(ctx context.Context, consumerID string) ([]string, error)
}
