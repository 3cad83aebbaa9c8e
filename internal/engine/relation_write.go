package engine

import (
	"context"
	"fmt"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// RelationOp is one related-field write, carried through the plan with its
// already-converted internal value.
type RelationOp struct {
	Field *metadata.RelatedField
	Value any
}

// resolveItem turns a converted item into a concrete primary key, executing
// the pending write if the item is deferred.
func resolveItem(ctx context.Context, q store.Querier, d store.Dialect, item any, extra map[string]any) (any, error) {
	if deferred, ok := item.(*Deferred); ok {
		return deferred.Resolve(ctx, q, d, extra)
	}
	return item, nil
}

// applyRootFirst executes a relation write that needs the owner's primary
// key to exist. Runs inside the owner's save transaction.
func applyRootFirst(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, pkVal any, op RelationOp) error {
	res := op.Field.Resolved()
	switch res.Kind {
	case metadata.KindReverseFK:
		return applyReverseFK(ctx, q, d, reg, entity, pkVal, op)
	case metadata.KindM2M, metadata.KindReverseM2M:
		return applyManyToMany(ctx, q, d, entity, pkVal, op)
	case metadata.KindFK, metadata.KindGeneric:
		// fk written root-first: set the owner column once the row exists.
		pk, err := resolveItem(ctx, q, d, op.Value, nil)
		if err != nil {
			return err
		}
		sqlStr, params := BuildUpdateSQL(d, entity.Table, entity.PrimaryKey.Field, pkVal,
			map[string]any{res.Column: pk})
		_, err = store.Exec(ctx, q, sqlStr, params...)
		if err != nil {
			return d.MapError(err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported root-first relation kind %q for %s", res.Kind, op.Field.Name)
	}
}

// applyReverseFK links listed children back to the owner, then for
// replace/sync modes detaches children no longer listed.
func applyReverseFK(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, pkVal any, op RelationOp) error {
	res := op.Field.Resolved()
	child := reg.GetEntity(op.Field.Target)
	if child == nil {
		return fmt.Errorf("related field %s: target entity not resolved", op.Field.Name)
	}

	items, _ := op.Value.([]any)

	if res.SyncMode != metadata.SyncAppend && !res.ChildLinkNullable {
		return RelationIntegrityError(op.Field.Name, fmt.Sprintf(
			"%s mode would detach %s records but %s.%s is not nullable",
			res.SyncMode, child.Name, child.Name, res.ChildLink))
	}

	linked := make([]any, 0, len(items))
	for _, item := range items {
		pk, err := resolveItem(ctx, q, d, item, map[string]any{res.ChildLink: pkVal})
		if err != nil {
			return err
		}
		// Existing children get relinked; deferred creates already carry the link.
		if _, wasDeferred := item.(*Deferred); !wasDeferred {
			sqlStr, params := BuildUpdateSQL(d, child.Table, child.PrimaryKey.Field, pk,
				map[string]any{res.ChildLink: pkVal})
			if _, err := store.Exec(ctx, q, sqlStr, params...); err != nil {
				return d.MapError(err)
			}
		}
		linked = append(linked, pk)
	}

	if res.SyncMode == metadata.SyncAppend {
		return nil
	}

	// Detach children linked to this owner but absent from the payload.
	pb := d.NewParamBuilder()
	ownerPh := pb.Add(pkVal)
	where := fmt.Sprintf("%s = %s", res.ChildLink, ownerPh)
	if len(linked) > 0 {
		where += " AND " + d.NotInExpr(child.PrimaryKey.Field, pb, linked)
	}
	sqlStr := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s", child.Table, res.ChildLink, where)
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return d.MapError(err)
	}
	return nil
}

// applyManyToMany writes join table rows. replace and sync clear existing
// links first; append only adds rows that are not already present.
func applyManyToMany(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, pkVal any, op RelationOp) error {
	res := op.Field.Resolved()
	rel := res.Relation
	if rel == nil || rel.JoinTable == "" {
		return fmt.Errorf("related field %s: no join table resolved", op.Field.Name)
	}

	ownerCol, otherCol := rel.SourceJoinKey, rel.TargetJoinKey
	if rel.Source != entity.Name {
		ownerCol, otherCol = rel.TargetJoinKey, rel.SourceJoinKey
	}

	items, _ := op.Value.([]any)
	pks := make([]any, 0, len(items))
	for _, item := range items {
		pk, err := resolveItem(ctx, q, d, item, nil)
		if err != nil {
			return err
		}
		pks = append(pks, pk)
	}

	if res.SyncMode != metadata.SyncAppend {
		pb := d.NewParamBuilder()
		ph := pb.Add(pkVal)
		sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", rel.JoinTable, ownerCol, ph)
		if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
			return d.MapError(err)
		}
	}

	for _, pk := range pks {
		pb := d.NewParamBuilder()
		ownerPh := pb.Add(pkVal)
		otherPh := pb.Add(pk)
		var sqlStr string
		if res.SyncMode == metadata.SyncAppend {
			// Skip links that already exist instead of failing on the
			// join table's composite primary key.
			pb2 := d.NewParamBuilder()
			existsSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s",
				ownerCol, rel.JoinTable, ownerCol, pb2.Add(pkVal), otherCol, pb2.Add(pk))
			if _, err := store.QueryRow(ctx, q, existsSQL, pb2.Params()...); err == nil {
				continue
			} else if err != store.ErrNotFound {
				return err
			}
		}
		sqlStr = fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
			rel.JoinTable, ownerCol, otherCol, ownerPh, otherPh)
		if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
			return d.MapError(err)
		}
	}
	return nil
}
