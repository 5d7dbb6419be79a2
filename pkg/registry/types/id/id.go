package id

import (
	"database/sql"
	"database/sql/driver"

	"github.com/google/uuid"
)

type ID uuid.UUID

var _ driver.Valuer = (*ID)(nil)
var _ sql.Scanner = (*ID)(nil)

var Nil = ID(uuid.Nil)

func New() ID {
	return ID(uuid.New())
}

func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

func (id ID) Value() (driver.Value, error) {
	return id[:], nil
}

func (id *ID) Scan(src any) error {
	var u uuid.UUID
	if err := u.Scan(src); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// ModuleID is an alias for ID and uniquely identifies a stored module row.
type ModuleID = ID

// SyncID is an alias for ID and uniquely identifies a single sync run.
type SyncID = ID
