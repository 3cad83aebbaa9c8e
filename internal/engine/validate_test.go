package engine

import (
	"testing"

	"relay-backend/internal/metadata"
)

func validateEntity() *metadata.Entity {
	return &metadata.Entity{
		Name:       "order",
		Table:      "orders",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []metadata.Field{
			{Name: "id", Type: "uuid"},
			{Name: "number", Type: "string", Required: true},
			{Name: "status", Type: "string", Enum: []string{"draft", "open", "closed"}, Default: "draft"},
			{Name: "total", Type: "float"},
			{Name: "items", Type: "int"},
			{Name: "paid", Type: "boolean"},
			{Name: "note", Type: "string", Nullable: true},
			{Name: "created_at", Type: "timestamp", Auto: "create"},
		},
		Related: []*metadata.RelatedField{
			{Name: "customer", Target: "customer", Column: "customer_id"},
		},
	}
}

func TestSplitPayload(t *testing.T) {
	entity := validateEntity()

	fields, related, appErr := SplitPayload(entity, map[string]any{
		"number":   "SO-1",
		"customer": "c1",
	})
	if appErr != nil {
		t.Fatalf("split: %v", appErr)
	}
	if fields["number"] != "SO-1" {
		t.Errorf("fields = %v", fields)
	}
	if related["customer"] != "c1" {
		t.Errorf("related = %v", related)
	}

	_, _, appErr = SplitPayload(entity, map[string]any{"number": "SO-1", "bogus": 1})
	if appErr == nil {
		t.Fatal("unknown key accepted")
	}
	if len(appErr.Details) != 1 || appErr.Details[0].Field != "bogus" {
		t.Errorf("details = %+v", appErr.Details)
	}
}

func TestValidateFields_RequiredOnCreateOnly(t *testing.T) {
	entity := validateEntity()

	if err := ValidateFields(entity, map[string]any{}, false); err == nil {
		t.Error("missing required field accepted on create")
	}
	// Updates only validate the keys present.
	if err := ValidateFields(entity, map[string]any{}, true); err != nil {
		t.Errorf("empty update rejected: %v", err)
	}
	// Explicit null on a required field is still rejected.
	if err := ValidateFields(entity, map[string]any{"number": nil}, true); err == nil {
		t.Error("null required field accepted on update")
	}
	if err := ValidateFields(entity, map[string]any{"note": nil}, true); err != nil {
		t.Errorf("null nullable field rejected: %v", err)
	}
}

func TestValidateFields_Types(t *testing.T) {
	entity := validateEntity()

	cases := []struct {
		name  string
		body  map[string]any
		valid bool
	}{
		{"good row", map[string]any{"number": "SO-1", "total": 9.5, "items": float64(3), "paid": true}, true},
		{"json integer as float", map[string]any{"number": "SO-1", "items": float64(3)}, true},
		{"fractional into int", map[string]any{"number": "SO-1", "items": 3.5}, false},
		{"string into int", map[string]any{"number": "SO-1", "items": "three"}, false},
		{"number into string", map[string]any{"number": 12}, false},
		{"string into bool", map[string]any{"number": "SO-1", "paid": "yes"}, false},
		{"int into float", map[string]any{"number": "SO-1", "total": 7}, true},
	}
	for _, tc := range cases {
		err := ValidateFields(entity, tc.body, false)
		if tc.valid && err != nil {
			t.Errorf("%s: rejected: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}

func TestValidateFields_Enum(t *testing.T) {
	entity := validateEntity()

	if err := ValidateFields(entity, map[string]any{"number": "SO-1", "status": "open"}, false); err != nil {
		t.Errorf("valid enum rejected: %v", err)
	}
	err := ValidateFields(entity, map[string]any{"number": "SO-1", "status": "pending"}, false)
	if err == nil {
		t.Fatal("out-of-enum value accepted")
	}
	if err.Details[0].Rule != "enum" {
		t.Errorf("rule = %s, want enum", err.Details[0].Rule)
	}
}

func TestApplyDefaults(t *testing.T) {
	entity := validateEntity()

	fields := map[string]any{"number": "SO-1"}
	ApplyDefaults(entity, fields)
	if fields["status"] != "draft" {
		t.Errorf("status = %v, want default draft", fields["status"])
	}

	fields = map[string]any{"number": "SO-1", "status": "open"}
	ApplyDefaults(entity, fields)
	if fields["status"] != "open" {
		t.Errorf("status = %v, default overwrote client value", fields["status"])
	}
	// Auto fields are stamped at save time, not defaulted here.
	if _, ok := fields["created_at"]; ok {
		t.Error("auto field defaulted")
	}
}
