package repositories

import (
	"context"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/pkg/registry/repositories/model"
)

var log = logging.Logger("registry/repositories")

// ErrRepositoryNotFound is returned when a repository id does not resolve.
type ErrRepositoryNotFound struct {
	ID string
}

func (e ErrRepositoryNotFound) Error() string {
	return fmt.Sprintf("repository %s not found", e.ID)
}

// API is the API for accessing and managing repositories and consumer bindings.
type API struct {
	Repo Repo
}

// GetRepositoryByID retrieves a repository by its id, returning an error if not found.
func (a API) GetRepositoryByID(ctx context.Context, repoID string) (*model.Repository, error) {
	repo, err := a.Repo.GetRepositoryByID(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("getting repository %s: %w", repoID, err)
	}
	if repo == nil {
		return nil, ErrRepositoryNotFound{ID: repoID}
	}
	return repo, nil
}

// FindOrCreateRepository returns the repository with the given id, creating it
// if it does not exist.
func (a API) FindOrCreateRepository(ctx context.Context, repoID string, options ...model.RepositoryOption) (*model.Repository, error) {
	repo, err := a.Repo.GetRepositoryByID(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("getting repository %s: %w", repoID, err)
	}
	if repo != nil {
		return repo, nil
	}
	repo, err = a.Repo.CreateRepository(ctx, repoID, options...)
	if err != nil {
		return nil, fmt.Errorf("creating repository %s: %w", repoID, err)
	}
	log.Infof("created repository %s", repoID)
	return repo, nil
}

// BindConsumer binds a consumer to an existing repository.
func (a API) BindConsumer(ctx context.Context, consumerID string, repoID string) error {
	if consumerID == "" {
		return fmt.Errorf("consumer id cannot be empty")
	}
	if _, err := a.GetRepositoryByID(ctx, repoID); err != nil {
		return err
	}
	if err := a.Repo.BindConsumer(ctx, consumerID, repoID); err != nil {
		return err
	}
	log.Infow("bound consumer", "consumer", consumerID, "repository", repoID)
	return nil
}

// UnbindConsumer removes a consumer binding.
func (a API) UnbindConsumer(ctx context.Context, consumerID string, repoID string) error {
	return a.Repo.UnbindConsumer(ctx, consumerID, repoID)
}

// RepositoryIDsForConsumer returns the ids of the repositories bound to a
// consumer. It satisfies the resolver's binding lookup.
func (a API) RepositoryIDsForConsumer(ctx context.Context, consumerID string) ([]string, error) {
	ids, err := a.Repo.RepositoryIDsForConsumer(ctx, consumerID)
	if err != nil {
		return nil, fmt.Errorf("listing repositories for consumer %s: %w", consumerID, err)
	}
	return ids, nil
}

// ListRepositories returns every repository ordered by id.
func (a API) ListRepositories(ctx context.Context) ([]*model.Repository, error) {
	repos, err := a.Repo.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	return repos, nil
}
