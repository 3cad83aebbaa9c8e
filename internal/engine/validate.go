package engine

import (
	"fmt"
	"strings"

	"relay-backend/internal/metadata"
)

// SplitPayload separates a request body into plain field values and
// related-field values, rejecting keys the entity does not declare.
func SplitPayload(entity *metadata.Entity, body map[string]any) (fields map[string]any, related map[string]any, err *AppError) {
	fields = make(map[string]any)
	related = make(map[string]any)
	var unknown []ErrorDetail

	for key, value := range body {
		if rf := entity.GetRelated(key); rf != nil {
			related[key] = value
			continue
		}
		if entity.HasField(key) {
			fields[key] = value
			continue
		}
		unknown = append(unknown, ErrorDetail{
			Field:   key,
			Rule:    "unknown",
			Message: fmt.Sprintf("Unknown field: %s", key),
		})
	}

	if len(unknown) > 0 {
		return nil, nil, ValidationError(unknown)
	}
	return fields, related, nil
}

// ValidateFields checks field values against the entity metadata.
// isUpdate relaxes required checks to only the keys present in the payload.
func ValidateFields(entity *metadata.Entity, fields map[string]any, isUpdate bool) *AppError {
	return validateFields(entity, fields, isUpdate, "")
}

// validateFields optionally exempts one column from the required checks,
// for values that arrive outside the payload (the parent link of a nested
// child is injected at save time).
func validateFields(entity *metadata.Entity, fields map[string]any, isUpdate bool, injected string) *AppError {
	var details []ErrorDetail

	if !isUpdate {
		for _, f := range entity.Fields {
			if !f.Required || f.IsAuto() || f.Name == injected {
				continue
			}
			if f.Name == entity.PrimaryKey.Field && entity.PrimaryKey.Generated {
				continue
			}
			if f.Default != nil {
				continue
			}
			v, present := fields[f.Name]
			if !present || v == nil {
				details = append(details, ErrorDetail{
					Field:   f.Name,
					Rule:    "required",
					Message: fmt.Sprintf("%s is required", f.Name),
				})
			}
		}
	}

	for name, value := range fields {
		f := entity.GetField(name)
		if f == nil {
			continue
		}
		if value == nil {
			if f.Required && !f.Nullable && name != injected {
				details = append(details, ErrorDetail{
					Field:   name,
					Rule:    "required",
					Message: fmt.Sprintf("%s cannot be null", name),
				})
			}
			continue
		}
		if d := checkFieldType(f, value); d != nil {
			details = append(details, *d)
		}
	}

	if len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

func checkFieldType(f *metadata.Field, value any) *ErrorDetail {
	switch f.Type {
	case "string", "text", "uuid", "date", "timestamp":
		if _, ok := value.(string); !ok {
			return typeDetail(f.Name, "string")
		}
	case "int", "integer", "bigint":
		switch v := value.(type) {
		case float64:
			if v != float64(int64(v)) {
				return typeDetail(f.Name, "integer")
			}
		case int, int64:
		default:
			return typeDetail(f.Name, "integer")
		}
	case "float", "decimal":
		switch value.(type) {
		case float64, int, int64:
		default:
			return typeDetail(f.Name, "number")
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeDetail(f.Name, "boolean")
		}
	}

	if len(f.Enum) > 0 {
		s, ok := value.(string)
		if !ok || !contains(f.Enum, s) {
			return &ErrorDetail{
				Field:   f.Name,
				Rule:    "enum",
				Message: fmt.Sprintf("%s must be one of: %s", f.Name, strings.Join(f.Enum, ", ")),
			}
		}
	}
	return nil
}

func typeDetail(field, want string) *ErrorDetail {
	return &ErrorDetail{
		Field:   field,
		Rule:    "type",
		Message: fmt.Sprintf("%s must be a %s", field, want),
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ApplyDefaults fills missing fields that declare a default value.
func ApplyDefaults(entity *metadata.Entity, fields map[string]any) {
	for _, f := range entity.Fields {
		if f.Default == nil || f.IsAuto() {
			continue
		}
		if _, present := fields[f.Name]; !present {
			fields[f.Name] = f.Default
		}
	}
}
