package modules

import (
	"context"

	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/pmirror/pmirror/pkg/registry/types/id"
)

// Repo defines the interface for persisting modules and their repository
// associations.
type Repo interface {
	// CreateModule creates a new module with the given key and options.
	CreateModule(ctx context.Context, key model.Key, options ...model.ModuleOption) (*model.Module, error)
	// GetModuleByKey retrieves a module by its unique key, or nil if it does not exist.
	GetModuleByKey(ctx context.Context, key model.Key) (*model.Module, error)
	// UpdateModule persists the mutable fields (checksum and locator) of a module.
	UpdateModule(ctx context.Context, module *model.Module) error
	// AssociateModule adds a module to a repository. Associating twice is a no-op.
	AssociateModule(ctx context.Context, repoID string, moduleID id.ModuleID) error
	// DisassociateModule removes a module from a repository.
	DisassociateModule(ctx context.Context, repoID string, key model.Key) error
	// ModulesForRepository lists every module associated with a repository,
	// ordered by author, name and version.
	ModulesForRepository(ctx context.Context, repoID string) ([]*model.Module, error)
	// ModuleKeysForRepository lists the keys of every module associated with a repository.
	ModuleKeysForRepository(ctx context.Context, repoID string) ([]model.Key, error)
}
