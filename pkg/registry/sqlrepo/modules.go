package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/pmirror/pmirror/pkg/registry/modules"
	"github.com/pmirror/pmirror/pkg/registry/modules/model"
	"github.com/pmirror/pmirror/pkg/registry/sqlrepo/util"
	"github.com/pmirror/pmirror/pkg/registry/types/id"
)

var _ modules.Repo = (*repo)(nil)

const moduleColumns = `
	m.id,
	m.author,
	m.name,
	m.version,
	m.checksum,
	m.checksum_type,
	m.dependencies,
	m.summary,
	m.license,
	m.source,
	m.tags,
	m.types,
	m.locator,
	m.created_at,
	m.updated_at`

// CreateModule creates a new module in the repository with the given key and options.
func (r *repo) CreateModule(ctx context.Context, key model.Key, options ...model.ModuleOption) (*model.Module, error) {
	module, err := model.NewModule(key, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create module model: %w", err)
	}

	err = model.WriteModuleToDatabase(module, func(
		moduleID id.ModuleID,
		author, name, version string,
		checksum, checksumType string,
		dependencies []model.Dependency,
		summary, license, source string,
		tags, types []string,
		locator cid.Cid,
		createdAt, updatedAt time.Time,
	) error {
		_, err := r.db.ExecContext(
			ctx,
			`INSERT INTO modules (
				id,
				author,
				name,
				version,
				checksum,
				checksum_type,
				dependencies,
				summary,
				license,
				source,
				tags,
				types,
				locator,
				created_at,
				updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			moduleID,
			author,
			name,
			version,
			checksum,
			checksumType,
			util.JSON(&dependencies),
			summary,
			license,
			source,
			util.JSON(&tags),
			util.JSON(&types),
			util.DbCid(&locator),
			createdAt.Unix(),
			updatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert module %s into database: %w", key, err)
	}
	return module, nil
}

// GetModuleByKey retrieves a module by its unique key from the repository.
func (r *repo) GetModuleByKey(ctx context.Context, key model.Key) (*model.Module, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT`+moduleColumns+`
		FROM modules m
		WHERE m.author = ? AND m.name = ? AND m.version = ?`,
		key.Author, key.Name, key.Version,
	)
	module, err := readModule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return module, err
}

// UpdateModule updates the checksum and locator of the given module.
func (r *repo) UpdateModule(ctx context.Context, module *model.Module) error {
	locator := module.Locator()
	_, err := r.db.ExecContext(ctx,
		`UPDATE modules SET checksum = ?, checksum_type = ?, locator = ?, updated_at = ? WHERE id = ?`,
		module.Checksum(), module.ChecksumType(), util.DbCid(&locator), module.UpdatedAt().Unix(), module.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update module %s: %w", module.Key(), err)
	}
	return nil
}

// AssociateModule adds a module to a repository.
func (r *repo) AssociateModule(ctx context.Context, repoID string, moduleID id.ModuleID) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO repository_modules (repository_id, module_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		repoID, moduleID,
	)
	if err != nil {
		return fmt.Errorf("failed to associate module %s with repository %s: %w", moduleID, repoID, err)
	}
	return nil
}

// DisassociateModule removes a module from a repository.
func (r *repo) DisassociateModule(ctx context.Context, repoID string, key model.Key) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM repository_modules
		WHERE repository_id = ?
		AND module_id IN (SELECT id FROM modules WHERE author = ? AND name = ? AND version = ?)`,
		repoID, key.Author, key.Name, key.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to disassociate module %s from repository %s: %w", key, repoID, err)
	}
	return nil
}

// ModulesForRepository lists every module associated with a repository.
func (r *repo) ModulesForRepository(ctx context.Context, repoID string) ([]*model.Module, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT`+moduleColumns+`
		FROM modules m
		JOIN repository_modules rm ON rm.module_id = m.id
		WHERE rm.repository_id = ?
		ORDER BY m.author, m.name, m.version`,
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules for repository %s: %w", repoID, err)
	}
	defer rows.Close()

	var result []*model.Module
	for rows.Next() {
		module, err := readModule(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, module)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate modules for repository %s: %w", repoID, err)
	}
	return result, nil
}

// ModuleKeysForRepository lists the keys of every module associated with a repository.
func (r *repo) ModuleKeysForRepository(ctx context.Context, repoID string) ([]model.Key, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.author, m.name, m.version
		FROM modules m
		JOIN repository_modules rm ON rm.module_id = m.id
		WHERE rm.repository_id = ?
		ORDER BY m.author, m.name, m.version`,
		repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query module keys for repository %s: %w", repoID, err)
	}
	defer rows.Close()

	var keys []model.Key
	for rows.Next() {
		var k model.Key
		if err := rows.Scan(&k.Author, &k.Name, &k.Version); err != nil {
			return nil, fmt.Errorf("failed to scan module key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate module keys for repository %s: %w", repoID, err)
	}
	return keys, nil
}

func readModule(scan func(dest ...any) error) (*model.Module, error) {
	return model.ReadModuleFromDatabase(func(
		moduleID *id.ModuleID,
		author, name, version *string,
		checksum, checksumType *string,
		dependencies *[]model.Dependency,
		summary, license, source *string,
		tags, types *[]string,
		locator *cid.Cid,
		createdAt, updatedAt *time.Time,
	) error {
		err := scan(
			moduleID,
			author, name, version,
			checksum, checksumType,
			util.JSON(dependencies),
			summary, license, source,
			util.JSON(tags), util.JSON(types),
			util.DbCid(locator),
			util.TimestampScanner(createdAt),
			util.TimestampScanner(updatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to scan module: %w", err)
		}
		return nil
	})
}
