package engine

import "fmt"

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

func UnknownEntityError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ENTITY",
		Status:  404,
		Message: fmt.Sprintf("Unknown entity: %s", name),
	}
}

func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func FieldError(field, rule, msg string) *AppError {
	return ValidationError([]ErrorDetail{{Field: field, Rule: rule, Message: msg}})
}

// RelationIntegrityError reports a relation write that would violate the
// target schema, like unlinking children whose link column is NOT NULL.
func RelationIntegrityError(field, msg string) *AppError {
	return &AppError{
		Code:    "RELATION_INTEGRITY",
		Status:  422,
		Message: "Relation integrity violation",
		Details: []ErrorDetail{{Field: field, Message: msg}},
	}
}

// BulkContractError reports a malformed bulk request: duplicate ids,
// rows without ids, unknown ids, or batch size over the limit.
func BulkContractError(msg string, details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "BULK_CONTRACT",
		Status:  400,
		Message: msg,
		Details: details,
	}
}

// PersistenceError wraps a constraint failure surfaced by the database.
func PersistenceError(msg string) *AppError {
	return &AppError{
		Code:    "PERSISTENCE_FAILED",
		Status:  409,
		Message: msg,
	}
}

func UnauthorizedError(msg string) *AppError {
	if msg == "" {
		msg = "Authentication required"
	}
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func ForbiddenError(msg string) *AppError {
	if msg == "" {
		msg = "Insufficient permissions"
	}
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}
