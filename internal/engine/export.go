package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// ExportCSV streams the filtered queryset as CSV. Pagination on the plan is
// ignored; the export walks the full result set page by page.
func ExportCSV(ctx context.Context, s *store.Store, plan *QueryPlan, w io.Writer) error {
	entity := plan.Entity
	cw := csv.NewWriter(w)

	header := entity.FieldNames()
	if err := cw.Write(header); err != nil {
		return err
	}

	const pageSize = 500
	walk := *plan
	walk.PerPage = pageSize
	for page := 1; ; page++ {
		walk.Page = page
		q := BuildSelectSQL(s.Dialect, &walk)
		rows, err := store.QueryRows(ctx, s.DB, q.SQL, q.Params...)
		if err != nil {
			return err
		}
		if s.Dialect.NeedsBoolFix() {
			store.NormalizeBooleans(rows, boolFieldNames(entity))
		}
		for _, row := range rows {
			record := make([]string, len(header))
			for i, col := range header {
				record[i] = csvCell(row[col])
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
		if len(rows) < pageSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func boolFieldNames(entity *metadata.Entity) []string {
	var names []string
	for _, f := range entity.Fields {
		if f.Type == "boolean" {
			names = append(names, f.Name)
		}
	}
	return names
}
