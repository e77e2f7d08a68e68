// Package resolver detects child records whose declared parent is not
// yet present at the sink, queues them as PendingChild rows, and
// retries them with exponential backoff as parents arrive.
package resolver

import (
	"context"

	"github.com/syncforge/erpsync/internal/identity"
	"github.com/syncforge/erpsync/internal/model"
)

// DetectParentRefs computes the parent_refs map for one child record
// per spec.md §4.4: for each declared reference whose child_field is
// non-null, the parent BK is computed as BK(parent_entity, [parent_field],
// {parent_field: child[child_field]}). A nil entry means the reference
// was declared but the child carries no value for it (not a blocking
// parent — spec.md leaves absent-field refs unresolved, not missing).
func DetectParentRefs(entity model.EntityConfig, child model.Record) (model.Record, error) {
	out := child.Clone()
	refs := make(map[string]*string, len(entity.ParentRefsConfig))

	for refName, cfg := range entity.ParentRefsConfig {
		v, ok := child[cfg.ChildField]
		if !ok || v == nil {
			refs[refName] = nil
			continue
		}
		parentRecord := model.Record{cfg.ParentField: v}
		bk, _, err := identity.BusinessKeyHash(cfg.ParentEntity, parentRecord, []string{cfg.ParentField})
		if err != nil {
			return nil, err
		}
		refs[refName] = &bk
	}

	out[model.FieldParentRefs] = refs
	return out, nil
}

// ParentEntityOf pairs a reference name with the parent entity it
// points at, used to batch existence checks per parent entity.
type ParentEntityOf func(refName string) (parentEntity string, ok bool)

// ExistenceChecker is the sink-side capability the resolver consults
// to decide whether a declared parent BK is already ingested. A real
// implementation batches the lookup per parent entity (spec.md §4.4's
// "Production behavior: batch the query").
type ExistenceChecker interface {
	ParentsExist(ctx context.Context, parentEntity string, bkHashes []string) (map[string]bool, error)
}

// ResolveOutcome is the per-child result of a resolution attempt.
type ResolveOutcome struct {
	Child          model.Record
	Ready          bool     // all declared, non-nil parent refs exist
	MissingParents []string // parent_entity:bk pairs still absent
}

// Resolve checks every non-nil parent_refs entry on child against the
// sink, grouping the existence lookups per parent entity. It returns
// Ready=true only when every declared reference resolves.
func Resolve(ctx context.Context, entity model.EntityConfig, checker ExistenceChecker, child model.Record) (ResolveOutcome, error) {
	refs, _ := child[model.FieldParentRefs].(map[string]*string)
	if len(refs) == 0 {
		return ResolveOutcome{Child: child, Ready: true}, nil
	}

	byParentEntity := make(map[string][]string)
	for refName, bk := range refs {
		if bk == nil {
			continue
		}
		cfg, ok := entity.ParentRefsConfig[refName]
		if !ok {
			continue
		}
		byParentEntity[cfg.ParentEntity] = append(byParentEntity[cfg.ParentEntity], *bk)
	}

	var missing []string
	for parentEntity, bks := range byParentEntity {
		existing, err := checker.ParentsExist(ctx, parentEntity, bks)
		if err != nil {
			return ResolveOutcome{}, err
		}
		for _, bk := range bks {
			if !existing[bk] {
				missing = append(missing, parentEntity+":"+bk)
			}
		}
	}

	if len(missing) > 0 {
		return ResolveOutcome{Child: child, Ready: false, MissingParents: missing}, nil
	}
	return ResolveOutcome{Child: child, Ready: true}, nil
}

// NewPendingChild builds the queue row for an unresolved child,
// recording only the first blocking parent per spec.md §4.4 (the full
// payload is retried wholesale on the next attempt, which recomputes
// every reference).
func NewPendingChild(batchUID, childEntity string, outcome ResolveOutcome) model.PendingChild {
	var parentEntity, parentBK string
	if len(outcome.MissingParents) > 0 {
		parentEntity, parentBK = splitMissingParent(outcome.MissingParents[0])
	}
	return model.PendingChild{
		BatchUID:     batchUID,
		ChildEntity:  childEntity,
		ParentEntity: parentEntity,
		ParentBKHash: parentBK,
		ChildPayload: outcome.Child,
		RetryCount:   0,
		MaxRetries:   model.DefaultPendingChildMaxRetries,
	}
}

func splitMissingParent(s string) (entity, bk string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}
