package engine

import (
	"fmt"
	"sort"
	"strings"

	"relay-backend/internal/store"
)

// sortedKeys gives stable column order so generated SQL is deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildInsertSQL builds an INSERT returning the primary key column.
func BuildInsertSQL(d store.Dialect, table, pkCol string, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	cols := sortedKeys(fields)
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		placeholders[i] = pb.Add(fields[col])
	}

	sqlStr := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		pkCol,
	)
	return sqlStr, pb.Params()
}

// BuildUpdateSQL builds an UPDATE for a single record by primary key.
func BuildUpdateSQL(d store.Dialect, table, pkCol string, pkVal any, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	cols := sortedKeys(fields)
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = %s", col, pb.Add(fields[col]))
	}
	where := pb.Add(pkVal)

	sqlStr := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = %s",
		table,
		strings.Join(sets, ", "),
		pkCol,
		where,
	)
	return sqlStr, pb.Params()
}

// BuildSoftDeleteSQL marks a record deleted by stamping deleted_at.
func BuildSoftDeleteSQL(d store.Dialect, table, pkCol string, pkVal any) (string, []any) {
	pb := d.NewParamBuilder()
	where := pb.Add(pkVal)
	sqlStr := fmt.Sprintf(
		"UPDATE %s SET deleted_at = %s WHERE %s = %s AND deleted_at IS NULL",
		table, d.NowExpr(), pkCol, where,
	)
	return sqlStr, pb.Params()
}

// BuildRestoreSQL clears deleted_at for a soft-deleted record.
func BuildRestoreSQL(d store.Dialect, table, pkCol string, pkVal any) (string, []any) {
	pb := d.NewParamBuilder()
	where := pb.Add(pkVal)
	sqlStr := fmt.Sprintf(
		"UPDATE %s SET deleted_at = NULL WHERE %s = %s AND deleted_at IS NOT NULL",
		table, pkCol, where,
	)
	return sqlStr, pb.Params()
}

// BuildHardDeleteSQL removes the row.
func BuildHardDeleteSQL(d store.Dialect, table, pkCol string, pkVal any) (string, []any) {
	pb := d.NewParamBuilder()
	where := pb.Add(pkVal)
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, pkCol, where)
	return sqlStr, pb.Params()
}

// BuildBulkInsertSQL builds a multi-row INSERT over the union of columns
// present in the rows. Rows missing a column get NULL.
func BuildBulkInsertSQL(d store.Dialect, table, pkCol string, rows []map[string]any) (string, []any) {
	colSet := make(map[string]any)
	for _, row := range rows {
		for k := range row {
			colSet[k] = nil
		}
	}
	cols := sortedKeys(colSet)

	pb := d.NewParamBuilder()
	valueRows := make([]string, len(rows))
	for i, row := range rows {
		placeholders := make([]string, len(cols))
		for j, col := range cols {
			placeholders[j] = pb.Add(row[col])
		}
		valueRows[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}

	sqlStr := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s RETURNING %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(valueRows, ", "),
		pkCol,
	)
	return sqlStr, pb.Params()
}

// BuildBulkUpdateSQL builds a single UPDATE covering many records. Each
// touched column becomes a CASE over the primary key, so records updating
// disjoint column sets keep their untouched columns intact.
func BuildBulkUpdateSQL(d store.Dialect, table, pkCol string, updates map[any]map[string]any) (string, []any) {
	colSet := make(map[string]any)
	for _, fields := range updates {
		for k := range fields {
			colSet[k] = nil
		}
	}
	cols := sortedKeys(colSet)

	ids := make([]any, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return fmt.Sprintf("%v", ids[i]) < fmt.Sprintf("%v", ids[j])
	})

	pb := d.NewParamBuilder()
	sets := make([]string, len(cols))
	for i, col := range cols {
		var b strings.Builder
		b.WriteString("CASE " + pkCol)
		for _, id := range ids {
			fields := updates[id]
			if _, touched := fields[col]; !touched {
				continue
			}
			b.WriteString(fmt.Sprintf(" WHEN %s THEN %s", pb.Add(id), pb.Add(fields[col])))
		}
		b.WriteString(" ELSE " + col + " END")
		sets[i] = fmt.Sprintf("%s = %s", col, b.String())
	}

	where := d.InExpr(pkCol, pb, ids)
	sqlStr := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		table,
		strings.Join(sets, ", "),
		where,
	)
	return sqlStr, pb.Params()
}
