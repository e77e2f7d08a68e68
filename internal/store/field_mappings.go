package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syncforge/erpsync/internal/model"
)

// ListFieldMappings returns every declared source->target mapping for
// one entity, the table the L5 field-map layer is configured from.
func (s *Store) ListFieldMappings(ctx context.Context, entityName string) ([]model.FieldMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_name, source_field, target_field, transformation, is_required, default_value
		FROM field_mappings WHERE entity_name = $1
	`, entityName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FieldMapping
	for rows.Next() {
		var fm model.FieldMapping
		var defaultValue []byte
		if err := rows.Scan(&fm.EntityName, &fm.SourceField, &fm.TargetField, &fm.Transformation, &fm.IsRequired, &defaultValue); err != nil {
			return nil, err
		}
		if len(defaultValue) > 0 {
			if err := json.Unmarshal(defaultValue, &fm.DefaultValue); err != nil {
				return nil, fmt.Errorf("unmarshal default_value: %w", err)
			}
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

// UpsertFieldMapping creates or replaces one (entity, source_field) rule.
func (s *Store) UpsertFieldMapping(ctx context.Context, fm model.FieldMapping) error {
	var defaultValue []byte
	if fm.DefaultValue != nil {
		var err error
		defaultValue, err = json.Marshal(fm.DefaultValue)
		if err != nil {
			return fmt.Errorf("marshal default_value: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_mappings (entity_name, source_field, target_field, transformation, is_required, default_value)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_name, source_field) DO UPDATE SET
			target_field   = EXCLUDED.target_field,
			transformation = EXCLUDED.transformation,
			is_required    = EXCLUDED.is_required,
			default_value  = EXCLUDED.default_value
	`, fm.EntityName, fm.SourceField, fm.TargetField, fm.Transformation, fm.IsRequired, defaultValue)
	return err
}
