package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/syncforge/erpsync/internal/model"
)

// GetEntityConfig fetches one entity's operator-owned configuration, or
// nil if the entity has never been registered.
func (s *Store) GetEntityConfig(ctx context.Context, entityName string) (*model.EntityConfig, error) {
	var cfg model.EntityConfig
	var bkFields, parentRefs []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_name, source_api_slug, business_key_fields, sync_enabled, sync_schedule, parent_refs_config
		FROM entity_config WHERE entity_name = $1
	`, entityName).Scan(&cfg.EntityName, &cfg.SourceAPISlug, &bkFields, &cfg.SyncEnabled, &cfg.SyncSchedule, &parentRefs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bkFields, &cfg.BusinessKeyFields); err != nil {
		return nil, fmt.Errorf("unmarshal business_key_fields: %w", err)
	}
	if len(parentRefs) > 0 {
		if err := json.Unmarshal(parentRefs, &cfg.ParentRefsConfig); err != nil {
			return nil, fmt.Errorf("unmarshal parent_refs_config: %w", err)
		}
	}
	return &cfg, nil
}

// ListEnabledEntityConfigs returns every entity with sync_enabled = true,
// the set the scheduler registers jobs for at startup.
func (s *Store) ListEnabledEntityConfigs(ctx context.Context) ([]model.EntityConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_name, source_api_slug, business_key_fields, sync_enabled, sync_schedule, parent_refs_config
		FROM entity_config WHERE sync_enabled = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EntityConfig
	for rows.Next() {
		var cfg model.EntityConfig
		var bkFields, parentRefs []byte
		if err := rows.Scan(&cfg.EntityName, &cfg.SourceAPISlug, &bkFields, &cfg.SyncEnabled, &cfg.SyncSchedule, &parentRefs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(bkFields, &cfg.BusinessKeyFields); err != nil {
			return nil, fmt.Errorf("unmarshal business_key_fields: %w", err)
		}
		if len(parentRefs) > 0 {
			if err := json.Unmarshal(parentRefs, &cfg.ParentRefsConfig); err != nil {
				return nil, fmt.Errorf("unmarshal parent_refs_config: %w", err)
			}
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// UpsertEntityConfig creates or replaces one entity's configuration.
func (s *Store) UpsertEntityConfig(ctx context.Context, cfg model.EntityConfig) error {
	bkFields, err := json.Marshal(cfg.BusinessKeyFields)
	if err != nil {
		return fmt.Errorf("marshal business_key_fields: %w", err)
	}
	var parentRefs []byte
	if cfg.ParentRefsConfig != nil {
		parentRefs, err = json.Marshal(cfg.ParentRefsConfig)
		if err != nil {
			return fmt.Errorf("marshal parent_refs_config: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_config (entity_name, source_api_slug, business_key_fields, sync_enabled, sync_schedule, parent_refs_config)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_name) DO UPDATE SET
			source_api_slug     = EXCLUDED.source_api_slug,
			business_key_fields = EXCLUDED.business_key_fields,
			sync_enabled        = EXCLUDED.sync_enabled,
			sync_schedule       = EXCLUDED.sync_schedule,
			parent_refs_config  = EXCLUDED.parent_refs_config
	`, cfg.EntityName, cfg.SourceAPISlug, bkFields, cfg.SyncEnabled, cfg.SyncSchedule, parentRefs)
	return err
}
