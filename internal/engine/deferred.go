package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// Deferred is a pending nested write for a related record. It is produced
// during input conversion, which validates the payload and applies the
// child's defaults, and consumed exactly once when the owning record is
// saved.
type Deferred struct {
	Field      *metadata.RelatedField
	Target     *metadata.Entity
	Fields     map[string]any // validated at conversion time
	ExistingID any            // non-nil means update-in-place instead of create

	consumed bool
}

// Resolve performs the pending write and returns the target's primary key.
// extra carries values injected at save time, like the parent link for
// reverse fk children. A second call is a programming error.
func (d *Deferred) Resolve(ctx context.Context, q store.Querier, dialect store.Dialect, extra map[string]any) (any, error) {
	if d.consumed {
		return nil, fmt.Errorf("deferred write for %s already consumed", d.Field.Name)
	}
	d.consumed = true

	fields := make(map[string]any, len(d.Fields)+len(extra))
	for k, v := range d.Fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}

	if d.ExistingID != nil {
		if !d.Field.UpdateNested {
			return nil, FieldError(d.Field.Name, "nested",
				fmt.Sprintf("%s does not allow updating existing %s records", d.Field.Name, d.Target.Name))
		}
		delete(fields, d.Target.PrimaryKey.Field)
		if len(fields) > 0 {
			sqlStr, params := BuildUpdateSQL(dialect, d.Target.Table, d.Target.PrimaryKey.Field, d.ExistingID, fields)
			if _, err := store.Exec(ctx, q, sqlStr, params...); err != nil {
				return nil, dialect.MapError(err)
			}
		}
		return d.ExistingID, nil
	}

	if !d.Field.CreateNested {
		return nil, FieldError(d.Field.Name, "nested",
			fmt.Sprintf("%s does not allow creating %s records inline", d.Field.Name, d.Target.Name))
	}

	pkCol := d.Target.PrimaryKey.Field
	if d.Target.PrimaryKey.Generated && d.Target.PrimaryKey.Type == "uuid" && dialect.UUIDDefault() == "" {
		fields[pkCol] = uuid.New().String()
	}

	sqlStr, params := BuildInsertSQL(dialect, d.Target.Table, pkCol, fields)
	row, err := store.QueryRow(ctx, q, sqlStr, params...)
	if err != nil {
		return nil, dialect.MapError(err)
	}
	return row[pkCol], nil
}

// Consumed reports whether Resolve has already run.
func (d *Deferred) Consumed() bool {
	return d.consumed
}
