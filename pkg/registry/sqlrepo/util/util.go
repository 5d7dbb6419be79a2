package util

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
)

type tsScanner struct {
	dst *time.Time
}

var _ sql.Scanner = tsScanner{}

func (ts tsScanner) Scan(value any) error {
	if value == nil {
		*ts.dst = time.Time{}
		return nil
	}
	switch v := value.(type) {
	case int64:
		*ts.dst = time.Unix(v, 0).UTC()
	default:
		return fmt.Errorf("unsupported type for timestamp scanning: %T (%v)", v, v)
	}
	return nil
}

// TimestampScanner returns a sql.Scanner that scans a timestamp (as an integer
// of Unix time in seconds) into the given time.Time pointer.
func TimestampScanner(t *time.Time) tsScanner {
	return tsScanner{dst: t}
}

// DbCid returns a value that reads and writes *c as a BLOB column of CID
// bytes. cid.Undef is stored as NULL.
func DbCid(c *cid.Cid) dbCid {
	return dbCid{cid: c}
}

type dbCid struct {
	cid *cid.Cid
}

var _ driver.Valuer = dbCid{}
var _ sql.Scanner = dbCid{}

func (dc dbCid) Value() (driver.Value, error) {
	if dc.cid == nil || !dc.cid.Defined() {
		return nil, nil
	}
	return dc.cid.Bytes(), nil
}

func (dc dbCid) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*dc.cid = cid.Undef
	case []byte:
		c, err := cid.Cast(v)
		if err != nil {
			return fmt.Errorf("failed to cast to cid: %w", err)
		}
		*dc.cid = c
	default:
		return fmt.Errorf("unsupported type for cid scanning: %T (%v)", v, v)
	}
	return nil
}

// JSON returns a value that reads and writes *dst as a JSON TEXT column.
func JSON[T any](dst *T) dbJSON[T] {
	return dbJSON[T]{dst: dst}
}

type dbJSON[T any] struct {
	dst *T
}

var _ driver.Valuer = dbJSON[int]{}
var _ sql.Scanner = dbJSON[int]{}

func (dj dbJSON[T]) Value() (driver.Value, error) {
	if dj.dst == nil {
		return "null", nil
	}
	data, err := json.Marshal(*dj.dst)
	if err != nil {
		return nil, fmt.Errorf("encoding JSON column: %w", err)
	}
	return string(data), nil
}

func (dj dbJSON[T]) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		var zero T
		*dj.dst = zero
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for JSON scanning: %T (%v)", v, v)
	}
	if err := json.Unmarshal(data, dj.dst); err != nil {
		return fmt.Errorf("decoding JSON column: %w", err)
	}
	return nil
}
