package engine

import (
	"context"
	"fmt"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// RenderIncludes fetches related records for the requested related fields
// and attaches each one rendered through its output format.
func RenderIncludes(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, rows []map[string]any, includes []string) error {
	if len(rows) == 0 || len(includes) == 0 {
		return nil
	}

	for _, name := range includes {
		rf := entity.GetRelated(name)
		if rf == nil {
			continue
		}
		target := reg.GetEntity(rf.Target)
		if target == nil {
			continue
		}

		var err error
		switch rf.Resolved().Kind {
		case metadata.KindFK, metadata.KindGeneric:
			err = renderToOne(ctx, q, d, rf, target, rows)
		case metadata.KindReverseFK:
			err = renderReverseFK(ctx, q, d, entity, rf, target, rows)
		case metadata.KindM2M, metadata.KindReverseM2M:
			err = renderManyToMany(ctx, q, d, entity, rf, target, rows)
		}
		if err != nil {
			return fmt.Errorf("include %s: %w", name, err)
		}
	}
	return nil
}

// renderToOne resolves fk columns to target records in one batched query.
func renderToOne(ctx context.Context, q store.Querier, d store.Dialect, rf *metadata.RelatedField, target *metadata.Entity, rows []map[string]any) error {
	col := rf.Resolved().Column
	var ids []any
	seen := make(map[string]bool)
	for _, row := range rows {
		if v := row[col]; v != nil && !seen[normalizeID(v)] {
			seen[normalizeID(v)] = true
			ids = append(ids, v)
		}
	}
	if len(ids) == 0 {
		for _, row := range rows {
			row[rf.Name] = nil
		}
		return nil
	}

	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE %s",
		target.Table, d.InExpr(target.PrimaryKey.Field, pb, ids))
	targetRows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}

	byID := make(map[string]map[string]any, len(targetRows))
	for _, tr := range targetRows {
		byID[normalizeID(tr[target.PrimaryKey.Field])] = tr
	}

	for _, row := range rows {
		v := row[col]
		if v == nil {
			row[rf.Name] = nil
			continue
		}
		out, err := ToOutput(rf, target, byID[normalizeID(v)])
		if err != nil {
			return err
		}
		row[rf.Name] = out
	}
	return nil
}

// renderReverseFK attaches each parent's children via the back-reference.
func renderReverseFK(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, rf *metadata.RelatedField, target *metadata.Entity, rows []map[string]any) error {
	link := rf.Resolved().ChildLink
	pkCol := entity.PrimaryKey.Field

	var ids []any
	for _, row := range rows {
		ids = append(ids, row[pkCol])
	}

	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE %s", target.Table, d.InExpr(link, pb, ids))
	if target.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}
	children, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}

	byParent := make(map[string][]any)
	for _, child := range children {
		out, err := ToOutput(rf, target, child)
		if err != nil {
			return err
		}
		key := normalizeID(child[link])
		byParent[key] = append(byParent[key], out)
	}

	for _, row := range rows {
		key := normalizeID(row[pkCol])
		if list := byParent[key]; list != nil {
			row[rf.Name] = list
		} else {
			row[rf.Name] = []any{}
		}
	}
	return nil
}

// renderManyToMany walks the join table and attaches the linked records.
func renderManyToMany(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, rf *metadata.RelatedField, target *metadata.Entity, rows []map[string]any) error {
	rel := rf.Resolved().Relation
	if rel == nil || rel.JoinTable == "" {
		return fmt.Errorf("no join table resolved for %s", rf.Name)
	}

	ownerCol, otherCol := rel.SourceJoinKey, rel.TargetJoinKey
	if rel.Source != entity.Name {
		ownerCol, otherCol = rel.TargetJoinKey, rel.SourceJoinKey
	}

	pkCol := entity.PrimaryKey.Field
	var ids []any
	for _, row := range rows {
		ids = append(ids, row[pkCol])
	}

	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT j.%s AS _owner, t.* FROM %s j JOIN %s t ON t.%s = j.%s WHERE %s",
		ownerCol, rel.JoinTable, target.Table, target.PrimaryKey.Field, otherCol,
		d.InExpr("j."+ownerCol, pb, ids))
	if target.SoftDelete {
		sqlStr += " AND t.deleted_at IS NULL"
	}
	joined, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return err
	}

	byOwner := make(map[string][]any)
	for _, row := range joined {
		owner := normalizeID(row["_owner"])
		delete(row, "_owner")
		out, err := ToOutput(rf, target, row)
		if err != nil {
			return err
		}
		byOwner[owner] = append(byOwner[owner], out)
	}

	for _, row := range rows {
		key := normalizeID(row[pkCol])
		if list := byOwner[key]; list != nil {
			row[rf.Name] = list
		} else {
			row[rf.Name] = []any{}
		}
	}
	return nil
}
