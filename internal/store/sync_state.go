package store

import (
	"context"
	"database/sql"

	"github.com/syncforge/erpsync/internal/model"
)

// GetSyncState returns the persisted cursor for (entityName, sourceSystem),
// or nil if the pair has never completed a batch.
func (s *Store) GetSyncState(ctx context.Context, entityName, sourceSystem string) (*model.SyncState, error) {
	var st model.SyncState
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_name, source_system, last_sync_rowversion, last_sync_timestamp, last_batch_uid
		FROM erp_sync_state WHERE entity_name = $1 AND source_system = $2
	`, entityName, sourceSystem).Scan(&st.EntityName, &st.SourceSystem, &st.LastSyncRowVersion,
		&st.LastSyncTimestamp, &st.LastBatchUID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertSyncState writes the latest cursor, replacing any prior value
// for the same (entity_name, source_system) pair.
func (s *Store) UpsertSyncState(ctx context.Context, state model.SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO erp_sync_state (entity_name, source_system, last_sync_rowversion, last_sync_timestamp, last_batch_uid)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_name, source_system) DO UPDATE SET
			last_sync_rowversion = EXCLUDED.last_sync_rowversion,
			last_sync_timestamp  = EXCLUDED.last_sync_timestamp,
			last_batch_uid       = EXCLUDED.last_batch_uid
	`, state.EntityName, state.SourceSystem, state.LastSyncRowVersion, state.LastSyncTimestamp, state.LastBatchUID)
	return err
}
