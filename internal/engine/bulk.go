package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// BulkOptions come from config; handlers pass them through unchanged.
type BulkOptions struct {
	MaxBatch              int
	FallbackOnCreateError bool // bulk create may return partial success
	SaveLoop              bool // bulk update runs row by row with hooks
}

type BulkRowError struct {
	Index  int           `json:"index"`
	Errors []ErrorDetail `json:"errors"`
}

type BulkCreateResult struct {
	Created []map[string]any `json:"created"`
	Failed  []BulkRowError   `json:"failed,omitempty"`
}

type BulkUpdateResult struct {
	Updated []map[string]any `json:"updated"`
}

type BulkDeleteResult struct {
	Deleted int64    `json:"deleted"`
	Missing []string `json:"missing,omitempty"`
}

// normalizeID gives the canonical string form of a primary key value, so
// ids arriving as 7, 7.0 and "7" all collide in duplicate detection.
func normalizeID(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}

func checkBatchSize(n int, opts BulkOptions) *AppError {
	if n == 0 {
		return BulkContractError("Empty batch", nil)
	}
	if opts.MaxBatch > 0 && n > opts.MaxBatch {
		return BulkContractError(fmt.Sprintf("Batch size %d exceeds limit %d", n, opts.MaxBatch), nil)
	}
	return nil
}

// BulkCreate inserts a batch of records in one transaction. The whole batch
// fails together unless FallbackOnCreateError is set, in which case failing
// rows are reported and the rest commit.
func BulkCreate(ctx context.Context, s *store.Store, reg *metadata.Registry, entity *metadata.Entity, rows []map[string]any, opts BulkOptions) (*BulkCreateResult, error) {
	if appErr := checkBatchSize(len(rows), opts); appErr != nil {
		return nil, appErr
	}

	// Validate and prepare every row before touching the database.
	prepared := make([]map[string]any, len(rows))
	var rowErrs []BulkRowError
	for i, body := range rows {
		fields, related, appErr := SplitPayload(entity, body)
		if appErr == nil && len(related) > 0 {
			appErr = BulkContractError("Bulk create does not accept related fields", nil)
		}
		if appErr == nil {
			ApplyDefaults(entity, fields)
			appErr = ValidateFields(entity, fields, false)
		}
		if appErr != nil {
			if !opts.FallbackOnCreateError {
				appErr.Details = append([]ErrorDetail{{Field: fmt.Sprintf("rows[%d]", i), Message: "row rejected"}}, appErr.Details...)
				return nil, appErr
			}
			rowErrs = append(rowErrs, BulkRowError{Index: i, Errors: appErr.Details})
			continue
		}

		stampAuditFields(ctx, entity, fields, false)
		if entity.PrimaryKey.Generated && entity.PrimaryKey.Type == "uuid" && s.Dialect.UUIDDefault() == "" {
			fields[entity.PrimaryKey.Field] = uuid.New().String()
		}
		prepared[i] = fields
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result := &BulkCreateResult{Failed: rowErrs}
	pkCol := entity.PrimaryKey.Field

	if opts.FallbackOnCreateError {
		// Row-by-row inserts so one bad row doesn't sink the batch.
		for i, fields := range prepared {
			if fields == nil {
				continue
			}
			sqlStr, params := BuildInsertSQL(s.Dialect, entity.Table, pkCol, fields)
			row, err := store.QueryRow(ctx, tx, sqlStr, params...)
			if err != nil {
				appErr := toRowError(s.Dialect, err)
				result.Failed = append(result.Failed, BulkRowError{Index: i, Errors: appErr.Details})
				continue
			}
			record, err := fetchByPK(ctx, tx, s.Dialect, entity, row[pkCol])
			if err != nil {
				return nil, err
			}
			result.Created = append(result.Created, record)
		}
	} else {
		valid := make([]map[string]any, 0, len(prepared))
		for _, fields := range prepared {
			valid = append(valid, fields)
		}
		sqlStr, params := BuildBulkInsertSQL(s.Dialect, entity.Table, pkCol, valid)
		pkRows, err := store.QueryRows(ctx, tx, sqlStr, params...)
		if err != nil {
			return nil, writeError(s.Dialect, err)
		}
		for _, pkRow := range pkRows {
			record, err := fetchByPK(ctx, tx, s.Dialect, entity, pkRow[pkCol])
			if err != nil {
				return nil, err
			}
			result.Created = append(result.Created, record)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// BulkUpdate applies a batch of partial updates in one transaction. Every
// row must carry the primary key; duplicate and unknown ids reject the
// whole batch. Rows map to records by id, never by position.
func BulkUpdate(ctx context.Context, s *store.Store, reg *metadata.Registry, entity *metadata.Entity, rows []map[string]any, opts BulkOptions) (*BulkUpdateResult, error) {
	if appErr := checkBatchSize(len(rows), opts); appErr != nil {
		return nil, appErr
	}

	pkCol := entity.PrimaryKey.Field

	// Contract checks: every row has an id, no id appears twice.
	seen := make(map[string]int, len(rows))
	ids := make([]any, 0, len(rows))
	var details []ErrorDetail
	for i, row := range rows {
		id, ok := row[pkCol]
		if !ok || id == nil {
			details = append(details, ErrorDetail{
				Field:   fmt.Sprintf("rows[%d]", i),
				Rule:    "required",
				Message: fmt.Sprintf("missing %s", pkCol),
			})
			continue
		}
		key := normalizeID(id)
		if prev, dup := seen[key]; dup {
			details = append(details, ErrorDetail{
				Field:   fmt.Sprintf("rows[%d]", i),
				Rule:    "duplicate",
				Message: fmt.Sprintf("%s %s already appears at rows[%d]", pkCol, key, prev),
			})
			continue
		}
		seen[key] = i
		ids = append(ids, id)
	}
	if len(details) > 0 {
		return nil, BulkContractError("Malformed bulk update", details)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, appErr := fetchExistingByID(ctx, tx, s.Dialect, entity, ids)
	if appErr != nil {
		return nil, appErr
	}

	// Validate all rows against their current records before writing.
	updates := make(map[any]map[string]any, len(rows))
	orderedIDs := make([]any, 0, len(rows))
	for i, row := range rows {
		id := row[pkCol]
		fields, related, vErr := SplitPayload(entity, row)
		if vErr == nil && len(related) > 0 {
			vErr = BulkContractError("Bulk update does not accept related fields", nil)
		}
		if vErr == nil {
			delete(fields, pkCol)
			vErr = ValidateFields(entity, fields, true)
		}
		if vErr != nil {
			vErr.Details = append([]ErrorDetail{{Field: fmt.Sprintf("rows[%d]", i), Message: "row rejected"}}, vErr.Details...)
			return nil, vErr
		}
		if !opts.SaveLoop {
			// Direct mode autofills audit fields; client values win.
			stampAuditFields(ctx, entity, fields, true)
		}
		realID := existing[normalizeID(id)][pkCol]
		updates[realID] = fields
		orderedIDs = append(orderedIDs, realID)
	}

	result := &BulkUpdateResult{}

	if opts.SaveLoop {
		// Save-loop mode: one update per row, hooks fire after commit.
		type hookPair struct{ record, old map[string]any }
		var fired []hookPair
		for _, id := range orderedIDs {
			fields := updates[id]
			old := existing[normalizeID(id)]
			stampAuditFields(ctx, entity, fields, true)
			if len(fields) > 0 {
				sqlStr, params := BuildUpdateSQL(s.Dialect, entity.Table, pkCol, id, fields)
				if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
					return nil, writeError(s.Dialect, err)
				}
			}
			record, err := fetchByPK(ctx, tx, s.Dialect, entity, id)
			if err != nil {
				return nil, err
			}
			result.Updated = append(result.Updated, record)
			fired = append(fired, hookPair{record, old})
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		for _, p := range fired {
			FireHooks(ctx, EventAfterUpdate, entity.Name, p.record, p.old)
		}
		return result, nil
	}

	// Direct mode: the whole batch is one statement, no hooks. Id-only
	// rows on entities without auto-update fields touch no column at all,
	// in which case there is no statement to run.
	touched := false
	for _, fields := range updates {
		if len(fields) > 0 {
			touched = true
			break
		}
	}
	if touched {
		sqlStr, params := BuildBulkUpdateSQL(s.Dialect, entity.Table, pkCol, updates)
		if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
			return nil, writeError(s.Dialect, err)
		}
	}
	for _, id := range orderedIDs {
		record, err := fetchByPK(ctx, tx, s.Dialect, entity, id)
		if err != nil {
			return nil, err
		}
		result.Updated = append(result.Updated, record)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// BulkDelete removes a batch of records in one transaction. Unknown ids are
// reported, not fatal. The returned count covers only the target rows;
// cascaded child deletions are excluded.
func BulkDelete(ctx context.Context, s *store.Store, reg *metadata.Registry, entity *metadata.Entity, ids []any, hard bool, opts BulkOptions) (*BulkDeleteResult, error) {
	if appErr := checkBatchSize(len(ids), opts); appErr != nil {
		return nil, appErr
	}

	pkCol := entity.PrimaryKey.Field
	d := s.Dialect

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s", pkCol, entity.Table, d.InExpr(pkCol, pb, ids))
	if entity.SoftDelete && !hard {
		sqlStr += " AND deleted_at IS NULL"
	}
	rows, err := store.QueryRows(ctx, tx, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}

	found := make(map[string]any, len(rows))
	for _, row := range rows {
		found[normalizeID(row[pkCol])] = row[pkCol]
	}

	result := &BulkDeleteResult{}
	foundIDs := make([]any, 0, len(found))
	for _, id := range ids {
		if real, ok := found[normalizeID(id)]; ok {
			foundIDs = append(foundIDs, real)
		} else {
			result.Missing = append(result.Missing, normalizeID(id))
		}
	}

	// Cascades run first so restrict policies can still see the parents.
	for _, id := range foundIDs {
		if err := HandleCascadeDelete(ctx, tx, d, reg, entity, id); err != nil {
			return nil, err
		}
	}

	if len(foundIDs) > 0 {
		pb := d.NewParamBuilder()
		var delSQL string
		if entity.SoftDelete && !hard {
			delSQL = fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s AND deleted_at IS NULL",
				entity.Table, d.NowExpr(), d.InExpr(pkCol, pb, foundIDs))
		} else {
			delSQL = fmt.Sprintf("DELETE FROM %s WHERE %s",
				entity.Table, d.InExpr(pkCol, pb, foundIDs))
		}
		n, err := store.Exec(ctx, tx, delSQL, pb.Params()...)
		if err != nil {
			return nil, writeError(d, err)
		}
		result.Deleted = n
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// fetchExistingByID loads the current records for a bulk update, keyed by
// normalized id. Any id that doesn't resolve rejects the batch.
func fetchExistingByID(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, ids []any) (map[string]map[string]any, *AppError) {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE %s", entity.Table, d.InExpr(entity.PrimaryKey.Field, pb, ids))
	if entity.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return nil, NewAppError("INTERNAL", 500, err.Error())
	}

	existing := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		existing[normalizeID(row[entity.PrimaryKey.Field])] = row
	}

	var details []ErrorDetail
	for _, id := range ids {
		if _, ok := existing[normalizeID(id)]; !ok {
			details = append(details, ErrorDetail{
				Field:   entity.PrimaryKey.Field,
				Rule:    "exists",
				Message: fmt.Sprintf("%s %s not found", entity.Name, normalizeID(id)),
			})
		}
	}
	if len(details) > 0 {
		return nil, BulkContractError("Unknown ids in bulk update", details)
	}
	return existing, nil
}

func toRowError(d store.Dialect, err error) *AppError {
	if appErr, ok := writeError(d, err).(*AppError); ok {
		if len(appErr.Details) == 0 {
			appErr.Details = []ErrorDetail{{Message: appErr.Message}}
		}
		return appErr
	}
	return &AppError{Code: "PERSISTENCE_FAILED", Status: 409, Message: err.Error(),
		Details: []ErrorDetail{{Message: err.Error()}}}
}
