package httpapi

import (
	"context"

	"github.com/syncforge/erpsync/internal/delta"
	"github.com/syncforge/erpsync/internal/errkind"
	"github.com/syncforge/erpsync/internal/model"
	"github.com/syncforge/erpsync/internal/normalizer"
	"github.com/syncforge/erpsync/internal/orchestrator"
)

// entityStore is the subset of *store.Store needed to assemble a run,
// narrowed so this file can be exercised against a fake in tests.
type entityStore interface {
	GetEntityConfig(ctx context.Context, entityName string) (*model.EntityConfig, error)
	ListFieldMappings(ctx context.Context, entityName string) ([]model.FieldMapping, error)
}

// rowVersionField is the reserved identity field row-version
// classification compares against; spec.md §4.1 stamps it onto every
// record during IDENTITY regardless of entity.
const rowVersionField = model.FieldRowVersion

// buildRunParams assembles an orchestrator.RunParams for one entity
// from its persisted configuration, the shape every HTTP and CLI
// trigger path shares.
func buildRunParams(ctx context.Context, st entityStore, sourceSystem, entityName string, syncType model.SyncType, batchSize int) (orchestrator.RunParams, error) {
	ec, err := st.GetEntityConfig(ctx, entityName)
	if err != nil {
		return orchestrator.RunParams{}, errkind.Newf(errkind.Configuration, "load entity config: %v", err)
	}
	if ec == nil {
		return orchestrator.RunParams{}, errkind.Newf(errkind.NotFound, "entity %q is not registered", entityName)
	}
	if !ec.SyncEnabled {
		return orchestrator.RunParams{}, errkind.Newf(errkind.Validation, "entity %q has sync disabled", entityName)
	}

	fms, err := st.ListFieldMappings(ctx, entityName)
	if err != nil {
		return orchestrator.RunParams{}, errkind.Newf(errkind.Configuration, "load field mappings: %v", err)
	}
	rules := make([]normalizer.FieldRule, 0, len(fms))
	for _, fm := range fms {
		rules = append(rules, normalizer.FieldRule{
			SourceField:    fm.SourceField,
			TargetField:    fm.TargetField,
			Transformation: fm.Transformation,
			Required:       fm.IsRequired,
			Default:        fm.DefaultValue,
		})
	}

	return orchestrator.RunParams{
		Entity:          *ec,
		NormalizerCfg:   normalizer.Config{EntityName: entityName, FieldRules: rules},
		RowVersionField: rowVersionField,
		SourceSystem:    sourceSystem,
		SyncType:        syncType,
		PageSize:        batchSize,
		DeltaStrategy:   delta.StrategyAuto,
	}, nil
}
