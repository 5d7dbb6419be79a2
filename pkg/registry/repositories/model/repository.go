package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/pmirror/pmirror/pkg/registry/types"
)

// Repository is a named collection of modules. Modules are associated with
// repositories rather than owned by them.
type Repository struct {
	id          string
	displayName string
	createdAt   time.Time
}

// ID returns the unique identifier of the repository.
func (r *Repository) ID() string {
	return r.id
}

// DisplayName returns the human readable name of the repository.
func (r *Repository) DisplayName() string {
	return r.displayName
}

// CreatedAt returns the creation time of the repository.
func (r *Repository) CreatedAt() time.Time {
	return r.createdAt
}

func validateRepository(r *Repository) (*Repository, error) {
	if r.id == "" {
		return nil, types.ErrEmpty{Field: "id"}
	}
	// "." is the resolver's null scope and ids become path segments.
	if r.id == "." || strings.ContainsAny(r.id, `/\`) {
		return nil, fmt.Errorf("invalid repository id %q", r.id)
	}
	if r.displayName == "" {
		return nil, types.ErrEmpty{Field: "display name"}
	}
	return r, nil
}

// RepositoryOption is a function that configures a Repository.
type RepositoryOption func(*Repository) error

// WithDisplayName sets the display name. It defaults to the id.
func WithDisplayName(name string) RepositoryOption {
	return func(r *Repository) error {
		r.displayName = name
		return nil
	}
}

// NewRepository creates and returns a new Repository with the given id.
func NewRepository(repoID string, opts ...RepositoryOption) (*Repository, error) {
	r := &Repository{
		id:          repoID,
		displayName: repoID,
		createdAt:   time.Now(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return validateRepository(r)
}

// RepositoryRowScanner is a function type for scanning a repository row from the database.
type RepositoryRowScanner func(id *string, displayName *string, createdAt *time.Time) error

// ReadRepositoryFromDatabase reads a Repository from the database using the provided scanner function.
func ReadRepositoryFromDatabase(scanner RepositoryRowScanner) (*Repository, error) {
	r := &Repository{}
	err := scanner(&r.id, &r.displayName, &r.createdAt)
	if err != nil {
		return nil, fmt.Errorf("reading repository from database: %w", err)
	}
	return validateRepository(r)
}
