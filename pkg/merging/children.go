package merging

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// childOps parameterizes reconciliation over one child record kind.
type childOps[T models.Child] struct {
	kind  models.ChildKind
	label func(T) string
	// keys returns the dedup keys of a child, tried in order; empty keys are never returned
	keys   func(T) []string
	update func(ctx context.Context, child T, survivorID int64) error
	create func(ctx context.Context, child T, survivorID int64) error
	delete func(ctx context.Context, child T) error
}

// keyIndex is the set of dedup keys present on the survivor.
type keyIndex map[string]struct{}

func newKeyIndex[T models.Child](ops childOps[T], children []T) keyIndex {
	index := make(keyIndex)
	for _, c := range children {
		index.add(ops.keys(c))
	}
	return index
}

func (k keyIndex) add(keys []string) {
	for _, key := range keys {
		k[key] = struct{}{}
	}
}

// match returns the first key of keys already present in the index.
func (k keyIndex) match(keys []string) (string, bool) {
	for _, key := range keys {
		if _, ok := k[key]; ok {
			return key, true
		}
	}
	return "", false
}

// reconcile folds the loser's children into the survivor. Children whose key already exists on
// the survivor are deleted; the rest are relocated and join the index.
func reconcile[T models.Child](ctx context.Context, e *Engine, ops childOps[T], survivorID int64, index keyIndex, children []T) []models.ChildDisposition {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.reconcile")
	defer span.End()

	dispositions := make([]models.ChildDisposition, 0, len(children))
	for _, child := range children {
		d := models.ChildDisposition{
			Kind:  ops.kind,
			ID:    child.GetID(),
			Label: ops.label(child),
		}
		log := e.logger.WithContext(ctx).WithFields(map[string]any{
			"kind":        ops.kind,
			"child_id":    child.GetID(),
			"survivor_id": survivorID,
		})

		keys := ops.keys(child)
		if key, dup := index.match(keys); dup {
			d.Action = models.ChildActionDropDuplicate
			d.Reason = "already exists (same " + keyKind(key) + ")"

			switch {
			case e.opts.DryRun:
				d.Outcome = models.OutcomePlanned
			default:
				if err := ops.delete(ctx, child); err != nil && !crm.IsNotFound(err) {
					log.WithError(err).Warnf("failed to delete redundant %s %d", ops.kind, child.GetID())
					d.Outcome = models.OutcomeFailed
					d.Error = err.Error()
				} else if err != nil {
					d.Outcome = models.OutcomeAlreadyApplied
				} else {
					d.Outcome = models.OutcomeApplied
				}
			}
			dispositions = append(dispositions, d)
			continue
		}

		d.Action = models.ChildActionMove
		if e.opts.DryRun {
			d.Outcome = models.OutcomePlanned
		} else {
			action, err := relocate(ctx, e, ops, child, survivorID)
			d.Action = action
			if err != nil {
				log.WithError(err).Errorf("failed to relocate %s %d; it stays under its old owner", ops.kind, child.GetID())
				d.Outcome = models.OutcomeFailed
				d.Error = err.Error()
				dispositions = append(dispositions, d)
				continue
			}
			d.Outcome = models.OutcomeApplied
		}

		index.add(keys)
		dispositions = append(dispositions, d)
	}

	return dispositions
}

// relocate moves child under survivorID by updating its owner, falling back to creating a copy
// under the survivor and deleting the original.
func relocate[T models.Child](ctx context.Context, e *Engine, ops childOps[T], child T, survivorID int64) (models.ChildAction, error) {
	moveErr := ops.update(ctx, child, survivorID)
	if moveErr == nil {
		return models.ChildActionMove, nil
	}

	e.logger.WithContext(ctx).WithError(moveErr).Debugf("reassigning %s %d failed, recreating under %d", ops.kind, child.GetID(), survivorID)

	if err := ops.create(ctx, child, survivorID); err != nil {
		return models.ChildActionRecreate, fmt.Errorf("move failed (%v) and create failed: %w", moveErr, err)
	}
	if err := ops.delete(ctx, child); err != nil && !crm.IsNotFound(err) {
		return models.ChildActionRecreate, fmt.Errorf("copy created but original delete failed: %w", err)
	}
	return models.ChildActionRecreate, nil
}

func keyKind(key string) string {
	kind, _, _ := strings.Cut(key, ":")
	return kind
}

func contactOps(store crm.Store) childOps[models.Contact] {
	return childOps[models.Contact]{
		kind: models.ChildKindContact,
		label: func(c models.Contact) string {
			if c.Email == "" {
				return c.Name
			}
			return fmt.Sprintf("%s (%s)", c.Name, c.Email)
		},
		keys: func(c models.Contact) []string {
			var keys []string
			if email := strings.ToLower(c.Email); email != "" {
				keys = append(keys, "email:"+email)
			}
			if name := strings.ToLower(c.Name); name != "" {
				keys = append(keys, "name:"+name)
			}
			return keys
		},
		update: func(ctx context.Context, c models.Contact, survivorID int64) error {
			return store.UpdateContact(ctx, c.ID, map[string]any{"prospect_id": survivorID})
		},
		create: func(ctx context.Context, c models.Contact, survivorID int64) error {
			_, err := store.CreateContact(ctx, survivorID, c.Fields())
			return err
		},
		delete: func(ctx context.Context, c models.Contact) error {
			return store.DeleteContact(ctx, c.ID)
		},
	}
}

func activityOps(store crm.Store) childOps[models.Activity] {
	return childOps[models.Activity]{
		kind: models.ChildKindActivity,
		label: func(a models.Activity) string {
			return fmt.Sprintf("%s: %s", a.Type, truncate(a.Description, 50))
		},
		keys: func(a models.Activity) []string {
			return []string{"type+description:" + a.Type + "\x00" + a.Description}
		},
		update: func(ctx context.Context, a models.Activity, survivorID int64) error {
			return store.UpdateActivity(ctx, a.ID, map[string]any{"prospect_id": survivorID})
		},
		create: func(ctx context.Context, a models.Activity, survivorID int64) error {
			_, err := store.CreateActivity(ctx, a.Fields(survivorID))
			return err
		},
		delete: func(ctx context.Context, a models.Activity) error {
			return store.DeleteActivity(ctx, a.ID)
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
