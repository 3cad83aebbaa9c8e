package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"relay-backend/internal/currentuser"
	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// WritePlan is a validated, converted write for one record. Planning only
// reads the database; all writes happen in ExecuteWritePlan's transaction.
type WritePlan struct {
	Entity   *metadata.Entity
	Fields   map[string]any
	Existing map[string]any // nil for create

	dependencyOps []RelationOp // resolved before the owner row is written
	rootOps       []RelationOp // applied after the owner's pk exists
}

// PlanWrite validates the body against the entity, converts related values
// to their internal form, and partitions relation writes by order.
func PlanWrite(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, body map[string]any, existing map[string]any) (*WritePlan, error) {
	fields, related, appErr := SplitPayload(entity, body)
	if appErr != nil {
		return nil, appErr
	}

	isUpdate := existing != nil
	if !isUpdate {
		ApplyDefaults(entity, fields)
	}
	if appErr := ValidateFields(entity, fields, isUpdate); appErr != nil {
		return nil, appErr
	}

	plan := &WritePlan{Entity: entity, Fields: fields, Existing: existing}

	for name, value := range related {
		rf := entity.GetRelated(name)
		converted, err := ToInternal(ctx, q, d, reg, rf, value)
		if err != nil {
			return nil, err
		}
		op := RelationOp{Field: rf, Value: converted}
		if rf.Resolved().Order == metadata.OrderDependencyFirst {
			plan.dependencyOps = append(plan.dependencyOps, op)
		} else {
			plan.rootOps = append(plan.rootOps, op)
		}
	}

	return plan, nil
}

// ExecuteWritePlan runs the plan in a transaction: resolve dependencies,
// write the owner row, apply root-first relation writes, commit, and return
// the saved record. Hooks fire after a successful commit.
func ExecuteWritePlan(ctx context.Context, s *store.Store, reg *metadata.Registry, plan *WritePlan) (map[string]any, error) {
	entity := plan.Entity
	d := s.Dialect

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Dependencies first: nested creates and lookups whose pk lands in an
	// owner column before the owner row is written.
	for _, op := range plan.dependencyOps {
		pk, err := resolveItem(ctx, tx, d, op.Value, nil)
		if err != nil {
			return nil, err
		}
		plan.Fields[op.Field.Resolved().Column] = pk
	}

	if err := autoGenerateSlug(ctx, tx, d, entity, plan.Fields, plan.Existing); err != nil {
		return nil, err
	}

	isUpdate := plan.Existing != nil
	stampAuditFields(ctx, entity, plan.Fields, isUpdate)

	pkCol := entity.PrimaryKey.Field
	var pkVal any

	if isUpdate {
		pkVal = plan.Existing[pkCol]
		if len(plan.Fields) > 0 {
			sqlStr, params := BuildUpdateSQL(d, entity.Table, pkCol, pkVal, plan.Fields)
			if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
				return nil, writeError(d, err)
			}
		}
	} else {
		if entity.PrimaryKey.Generated && entity.PrimaryKey.Type == "uuid" && d.UUIDDefault() == "" {
			plan.Fields[pkCol] = uuid.New().String()
		}
		sqlStr, params := BuildInsertSQL(d, entity.Table, pkCol, plan.Fields)
		row, err := store.QueryRow(ctx, tx, sqlStr, params...)
		if err != nil {
			return nil, writeError(d, err)
		}
		pkVal = row[pkCol]
	}

	for _, op := range plan.rootOps {
		if err := applyRootFirst(ctx, tx, d, reg, entity, pkVal, op); err != nil {
			return nil, err
		}
	}

	record, err := fetchByPK(ctx, tx, d, entity, pkVal)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if isUpdate {
		FireHooks(ctx, EventAfterUpdate, entity.Name, record, plan.Existing)
	} else {
		FireHooks(ctx, EventAfterCreate, entity.Name, record, nil)
	}
	return record, nil
}

// stampAuditFields fills auto timestamp and user columns. On update only
// auto="update" fields are touched; client-provided values always win.
func stampAuditFields(ctx context.Context, entity *metadata.Entity, fields map[string]any, isUpdate bool) {
	now := time.Now().UTC()
	user := currentuser.From(ctx)

	for _, f := range entity.Fields {
		if !f.IsAuto() {
			continue
		}
		if isUpdate && f.Auto != "update" {
			continue
		}
		if v, present := fields[f.Name]; present && v != nil {
			continue
		}
		switch f.Type {
		case "timestamp", "date":
			fields[f.Name] = now
		default:
			if user != nil {
				fields[f.Name] = user.ID
			}
		}
	}
}

func writeError(d store.Dialect, err error) error {
	mapped := d.MapError(err)
	switch {
	case errors.Is(mapped, store.ErrUniqueViolation):
		return PersistenceError("A record with a conflicting unique value already exists")
	case errors.Is(mapped, store.ErrForeignKeyViolation):
		return PersistenceError("The write references a record that does not exist")
	default:
		return mapped
	}
}

func fetchByPK(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, pkVal any) (map[string]any, error) {
	pb := d.NewParamBuilder()
	ph := pb.Add(pkVal)
	sqlStr := "SELECT * FROM " + entity.Table + " WHERE " + entity.PrimaryKey.Field + " = " + ph
	return store.QueryRow(ctx, q, sqlStr, pb.Params()...)
}
