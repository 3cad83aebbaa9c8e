package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"relay-backend/internal/metadata"
	"relay-backend/internal/store"
)

var (
	uuidRE       = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	intRE        = regexp.MustCompile(`^\d+$`)
	nonSlugRE    = regexp.MustCompile(`[^a-z0-9]+`)
	dashCollapse = regexp.MustCompile(`-+`)
)

// Slugify converts a display string to a URL-safe slug.
// Diacritics are stripped via NFD decomposition.
func Slugify(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	slug := strings.ToLower(b.String())
	slug = nonSlugRE.ReplaceAllString(slug, "-")
	slug = dashCollapse.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// LooksLikePK reports whether an identifier string is shaped like a
// primary key (uuid or integer) rather than a slug.
func LooksLikePK(s string) bool {
	return uuidRE.MatchString(s) || intRE.MatchString(s)
}

// generateUniqueSlug appends -2, -3, ... until the slug is free.
// excludeID skips the record being updated from the uniqueness check.
func generateUniqueSlug(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, base string, excludeID any) (string, error) {
	slugField := entity.Slug.Field
	candidate := base
	for i := 1; i <= 100; i++ {
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		pb := d.NewParamBuilder()
		slugPh := pb.Add(candidate)
		sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", entity.Table, slugField, slugPh)
		if excludeID != nil {
			sqlStr += fmt.Sprintf(" AND %s != %s", entity.PrimaryKey.Field, pb.Add(excludeID))
		}

		var count int64
		rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
		if err != nil {
			return "", err
		}
		if len(rows) > 0 {
			for _, v := range rows[0] {
				switch n := v.(type) {
				case int64:
					count = n
				case int:
					count = int64(n)
				case float64:
					count = int64(n)
				}
			}
		}
		if count == 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not generate unique slug for %q", base)
}

// autoGenerateSlug fills the slug field from its source field when the
// entity declares slug config and the client didn't set a slug itself.
func autoGenerateSlug(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, fields map[string]any, existing map[string]any) error {
	cfg := entity.Slug
	if cfg == nil {
		return nil
	}

	if v, ok := fields[cfg.Field]; ok && v != nil && v != "" {
		return nil
	}

	sourceVal, hasSource := fields[cfg.Source]
	if existing != nil {
		// Update: only regenerate when configured and the source changed.
		if !cfg.RegenerateOnUpdate || !hasSource {
			return nil
		}
		if old, ok := existing[cfg.Source]; ok && fmt.Sprintf("%v", old) == fmt.Sprintf("%v", sourceVal) {
			return nil
		}
	}
	if !hasSource || sourceVal == nil {
		return nil
	}

	base := Slugify(fmt.Sprintf("%v", sourceVal))
	if cfg.MaxLength > 0 && len(base) > cfg.MaxLength {
		base = strings.Trim(base[:cfg.MaxLength], "-")
	}
	if base == "" {
		return nil
	}

	var excludeID any
	if existing != nil {
		excludeID = existing[entity.PrimaryKey.Field]
	}
	slug, err := generateUniqueSlug(ctx, q, d, entity, base, excludeID)
	if err != nil {
		return err
	}
	fields[cfg.Field] = slug
	return nil
}

// FetchRecord loads a record by slug or primary key. Identifiers that
// don't look like PKs try the slug field first, then fall back to the PK.
func FetchRecord(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, idOrSlug string, includeDeleted bool) (map[string]any, error) {
	tryFields := []string{entity.PrimaryKey.Field}
	if entity.Slug != nil && !LooksLikePK(idOrSlug) {
		tryFields = []string{entity.Slug.Field, entity.PrimaryKey.Field}
	}

	for _, field := range tryFields {
		pb := d.NewParamBuilder()
		ph := pb.Add(idOrSlug)
		sqlStr := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", entity.Table, field, ph)
		if entity.SoftDelete && !includeDeleted {
			sqlStr += " AND deleted_at IS NULL"
		}
		row, err := store.QueryRow(ctx, q, sqlStr, pb.Params()...)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		return row, nil
	}
	return nil, store.ErrNotFound
}
