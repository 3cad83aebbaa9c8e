package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// ImportSpec configures a CSV import: which columns land in which fields
// and optional transform programs that rewrite a row before it is saved.
type ImportSpec struct {
	// Mapping maps CSV header names to entity field or related field names.
	// Unmapped headers matching a field name are used as-is.
	Mapping map[string]string `json:"mapping,omitempty"`
	// Transforms are expr programs keyed by field name. Each runs with the
	// raw row as its environment and its result replaces the field value.
	Transforms map[string]string `json:"transforms,omitempty"`
	// DryRun validates all rows without writing anything.
	DryRun bool `json:"dry_run,omitempty"`
}

type ImportResult struct {
	Imported int            `json:"imported"`
	Failed   []BulkRowError `json:"failed,omitempty"`
	DryRun   bool           `json:"dry_run,omitempty"`
}

// ImportCSV reads CSV rows and saves each through the regular write path,
// so validation, related-field resolution, slugs and hooks all apply.
// Each row saves in its own transaction; failing rows are reported and
// skipped.
func ImportCSV(ctx context.Context, s *store.Store, reg *metadata.Registry, entity *metadata.Entity, r io.Reader, spec *ImportSpec) (*ImportResult, error) {
	if spec == nil {
		spec = &ImportSpec{}
	}

	programs, err := compileTransforms(spec.Transforms)
	if err != nil {
		return nil, FieldError("transforms", "invalid", err.Error())
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, BulkContractError("Empty CSV", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	targets := make([]string, len(header))
	for i, col := range header {
		name := strings.TrimSpace(col)
		if mapped, ok := spec.Mapping[name]; ok {
			name = mapped
		}
		targets[i] = name
	}

	result := &ImportResult{DryRun: spec.DryRun}
	for rowIdx := 0; ; rowIdx++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Failed = append(result.Failed, BulkRowError{
				Index:  rowIdx,
				Errors: []ErrorDetail{{Message: err.Error()}},
			})
			continue
		}

		body, rowErr := buildImportRow(entity, reg, targets, record, programs)
		if rowErr != nil {
			result.Failed = append(result.Failed, BulkRowError{Index: rowIdx, Errors: rowErr.Details})
			continue
		}

		plan, err := PlanWrite(ctx, s.DB, s.Dialect, reg, entity, body, nil)
		if err != nil {
			result.Failed = append(result.Failed, BulkRowError{Index: rowIdx, Errors: errDetails(err)})
			continue
		}
		if spec.DryRun {
			result.Imported++
			continue
		}
		if _, err := ExecuteWritePlan(ctx, s, reg, plan); err != nil {
			result.Failed = append(result.Failed, BulkRowError{Index: rowIdx, Errors: errDetails(err)})
			continue
		}
		result.Imported++
	}

	return result, nil
}

// buildImportRow turns a CSV record into a request body: cells are coerced
// to the field type, transforms run on the assembled row, and related cells
// that resolve to full records are handed over as object input.
func buildImportRow(entity *metadata.Entity, reg *metadata.Registry, targets []string, record []string, programs map[string]*vm.Program) (map[string]any, *AppError) {
	raw := make(map[string]any, len(targets))
	for i, name := range targets {
		if name == "" || i >= len(record) {
			continue
		}
		raw[name] = record[i]
	}

	body := make(map[string]any, len(raw))
	for name, value := range raw {
		cell, _ := value.(string)

		if prog, ok := programs[name]; ok {
			out, err := expr.Run(prog, raw)
			if err != nil {
				return nil, FieldError(name, "transform", err.Error())
			}
			// A transform that builds a full record for a related field is
			// passed through as an already-materialized object.
			if rf := entity.GetRelated(name); rf != nil {
				if rec, ok := out.(map[string]any); ok {
					body[name] = &Instance{Entity: rf.Target, Record: rec}
					continue
				}
			}
			body[name] = out
			continue
		}

		if cell == "" {
			continue
		}

		if rf := entity.GetRelated(name); rf != nil {
			body[name] = importRelatedValue(rf, cell)
			continue
		}

		f := entity.GetField(name)
		if f == nil {
			return nil, FieldError(name, "unknown", fmt.Sprintf("Unknown column: %s", name))
		}
		coerced, err := coerceCSVCell(f, cell)
		if err != nil {
			return nil, FieldError(name, "type", err.Error())
		}
		body[name] = coerced
	}

	return body, nil
}

// importRelatedValue shapes a related CSV cell for input conversion.
// Many-valued fields split on ";".
func importRelatedValue(rf *metadata.RelatedField, cell string) any {
	if metadata.IsManyValued(rf.Resolved().Kind) {
		parts := strings.Split(cell, ";")
		items := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		return items
	}
	return cell
}

func coerceCSVCell(f *metadata.Field, cell string) (any, error) {
	switch f.Type {
	case "int", "integer":
		v, err := strconv.Atoi(cell)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", f.Name)
		}
		return v, nil
	case "bigint":
		v, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", f.Name)
		}
		return v, nil
	case "float", "decimal":
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number", f.Name)
		}
		return v, nil
	case "boolean":
		v, err := strconv.ParseBool(cell)
		if err != nil {
			return nil, fmt.Errorf("%s must be a boolean", f.Name)
		}
		return v, nil
	default:
		return cell, nil
	}
}

func compileTransforms(src map[string]string) (map[string]*vm.Program, error) {
	if len(src) == 0 {
		return nil, nil
	}
	programs := make(map[string]*vm.Program, len(src))
	for field, code := range src {
		prog, err := expr.Compile(code, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("transform for %s: %w", field, err)
		}
		programs[field] = prog
	}
	return programs, nil
}

func errDetails(err error) []ErrorDetail {
	if appErr, ok := err.(*AppError); ok && len(appErr.Details) > 0 {
		return appErr.Details
	}
	return []ErrorDetail{{Message: err.Error()}}
}

// ImportTemplate returns the CSV header line for an entity: its writable
// fields followed by its related fields.
func ImportTemplate(entity *metadata.Entity) []string {
	var cols []string
	for _, f := range entity.WritableFields() {
		cols = append(cols, f.Name)
	}
	for _, rf := range entity.Related {
		cols = append(cols, rf.Name)
	}
	return cols
}
