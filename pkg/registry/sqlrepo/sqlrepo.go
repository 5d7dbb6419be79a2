package sqlrepo

import (
	"database/sql"
	_ "embed"

	"github.com/pmirror/pmirror/pkg/registry/modules"
	"github.com/pmirror/pmirror/pkg/registry/repositories"
	"github.com/pmirror/pmirror/pkg/synchronizer"
)

// Schema is the SQL schema of the registry database.
//
//go:embed schema.sql
var Schema string

// Repo is the interface that combines every registry repository.
type Repo interface {
	modules.Repo
	repositories.Repo
	synchronizer.Repo
}

// New creates a new Repo instance with the given database connection.
func New(db *sql.DB) Repo {
	return &repo{db: db}
}

type repo struct {
	db *sql.DB
}
