package engine

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

// Instance is an already-materialized related record, accepted on input
// when the field enables the object format. The importer builds these.
type Instance struct {
	Entity string
	Record map[string]any
}

// ToInternal converts a related-field input value to its internal form:
// a primary key, a *Deferred pending write, nil for a cleared link, or a
// slice of those for many-valued relations.
func ToInternal(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, rf *metadata.RelatedField, value any) (any, error) {
	target := reg.GetEntity(rf.Target)
	if target == nil {
		return nil, fmt.Errorf("related field %s: target entity %s not registered", rf.Name, rf.Target)
	}

	if metadata.IsManyValued(rf.Resolved().Kind) {
		if value == nil {
			return nil, nil
		}
		items, ok := value.([]any)
		if !ok {
			return nil, FieldError(rf.Name, "type", fmt.Sprintf("%s must be a list", rf.Name))
		}
		out := make([]any, len(items))
		for i, item := range items {
			converted, err := convertOne(ctx, q, d, rf, target, item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	}

	return convertOne(ctx, q, d, rf, target, value)
}

func convertOne(ctx context.Context, q store.Querier, d store.Dialect, rf *metadata.RelatedField, target *metadata.Entity, value any) (any, error) {
	switch v := value.(type) {
	case nil:
		if !rf.Nullable {
			return nil, FieldError(rf.Name, "required", fmt.Sprintf("%s cannot be null", rf.Name))
		}
		return nil, nil

	case map[string]any:
		if !rf.AcceptsInput(metadata.InputNested) {
			return nil, FieldError(rf.Name, "format", fmt.Sprintf("%s does not accept nested input", rf.Name))
		}
		deferred := &Deferred{Field: rf, Target: target}
		if id, ok := v[target.PrimaryKey.Field]; ok && id != nil {
			deferred.ExistingID = id
		}
		fields, err := validateChild(rf, target, v, deferred.ExistingID != nil)
		if err != nil {
			return nil, err
		}
		deferred.Fields = fields
		return deferred, nil

	case *Instance:
		if !rf.AcceptsInput(metadata.InputObject) {
			return nil, FieldError(rf.Name, "format", fmt.Sprintf("%s does not accept object input", rf.Name))
		}
		if id, ok := v.Record[target.PrimaryKey.Field]; ok && id != nil {
			return id, nil
		}
		fields, err := validateChild(rf, target, v.Record, false)
		if err != nil {
			return nil, err
		}
		return &Deferred{Field: rf, Target: target, Fields: fields}, nil

	case string:
		return convertString(ctx, q, d, rf, target, v)

	case float64, int, int64:
		if !rf.AcceptsInput(metadata.InputID) {
			return nil, FieldError(rf.Name, "format", fmt.Sprintf("%s does not accept id input", rf.Name))
		}
		return lookupBy(ctx, q, d, rf, target, rf.LookupField, v)

	default:
		return nil, FieldError(rf.Name, "type", fmt.Sprintf("unsupported value for %s", rf.Name))
	}
}

// validateChild checks a nested payload against the child entity at
// conversion time, so a Deferred always carries validated fields. The
// parent link column is injected at save time and exempt from the
// required check. Child errors surface under "<field>.<child field>".
func validateChild(rf *metadata.RelatedField, target *metadata.Entity, body map[string]any, isUpdate bool) (map[string]any, error) {
	var unknown []ErrorDetail
	for key := range body {
		if !target.HasField(key) {
			unknown = append(unknown, ErrorDetail{
				Field:   rf.Name + "." + key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unknown field: %s", key),
			})
		}
	}
	if len(unknown) > 0 {
		return nil, ValidationError(unknown)
	}

	fields := make(map[string]any, len(body))
	for k, v := range body {
		fields[k] = v
	}
	if !isUpdate {
		ApplyDefaults(target, fields)
	}
	if appErr := validateFields(target, fields, isUpdate, rf.Resolved().ChildLink); appErr != nil {
		for i := range appErr.Details {
			appErr.Details[i].Field = rf.Name + "." + appErr.Details[i].Field
		}
		return nil, appErr
	}
	return fields, nil
}

// convertString resolves a string value as an id or a slug. When both
// formats are enabled the shape of the string decides which lookup runs
// first; if both fail, the error from the first attempt is reported.
func convertString(ctx context.Context, q store.Querier, d store.Dialect, rf *metadata.RelatedField, target *metadata.Entity, s string) (any, error) {
	acceptsID := rf.AcceptsInput(metadata.InputID)
	acceptsSlug := rf.AcceptsInput(metadata.InputSlug)

	switch {
	case acceptsID && acceptsSlug:
		var first, second string
		if LooksLikePK(s) {
			first, second = rf.LookupField, rf.SlugField
		} else {
			first, second = rf.SlugField, rf.LookupField
		}
		pk, firstErr := lookupBy(ctx, q, d, rf, target, first, s)
		if firstErr == nil {
			return pk, nil
		}
		if pk, err := lookupBy(ctx, q, d, rf, target, second, s); err == nil {
			return pk, nil
		}
		return nil, firstErr

	case acceptsID:
		return lookupBy(ctx, q, d, rf, target, rf.LookupField, s)

	case acceptsSlug:
		return lookupBy(ctx, q, d, rf, target, rf.SlugField, s)

	default:
		return nil, FieldError(rf.Name, "format", fmt.Sprintf("%s does not accept string input", rf.Name))
	}
}

func lookupBy(ctx context.Context, q store.Querier, d store.Dialect, rf *metadata.RelatedField, target *metadata.Entity, field string, value any) (any, error) {
	pb := d.NewParamBuilder()
	ph := pb.Add(value)
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		target.PrimaryKey.Field, target.Table, field, ph)
	if target.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}

	row, err := store.QueryRow(ctx, q, sqlStr, pb.Params()...)
	if err == store.ErrNotFound {
		return nil, FieldError(rf.Name, "exists",
			fmt.Sprintf("%s with %s %v not found", target.Name, field, value))
	}
	if err != nil {
		return nil, err
	}
	return row[target.PrimaryKey.Field], nil
}

// ToOutput renders a related record according to the field's output format.
func ToOutput(rf *metadata.RelatedField, target *metadata.Entity, rec map[string]any) (any, error) {
	if rec == nil {
		return nil, nil
	}
	switch rf.OutputFormat {
	case metadata.OutputID:
		return rec[target.PrimaryKey.Field], nil
	case metadata.OutputStr:
		return target.DisplayValue(rec), nil
	case metadata.OutputSerialized:
		return rec, nil
	case metadata.OutputCustom:
		out, err := expr.Run(rf.Program(), map[string]any(rec))
		if err != nil {
			return nil, fmt.Errorf("custom output for %s: %w", rf.Name, err)
		}
		return out, nil
	default:
		return rec[target.PrimaryKey.Field], nil
	}
}
