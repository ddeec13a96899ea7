// Package merging folds duplicate prospects into an elected survivor and removes the losers.
package merging

import (
	"context"
	"maps"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Options controls one engine run.
type Options struct {
	// DryRun suppresses every mutating call while still producing the full trace
	DryRun         bool
	MergeFields    []string
	NotesField     string
	NotesDelimiter string
	Tiebreak       string
}

// OptionsFromRules builds engine options from the merge rules.
func OptionsFromRules(rules config.Rules, dryRun bool) Options {
	return Options{
		DryRun:         dryRun,
		MergeFields:    rules.MergeFields,
		NotesField:     rules.NotesField,
		NotesDelimiter: rules.NotesDelimiter,
		Tiebreak:       rules.Tiebreak,
	}
}

// Engine handles prospect merging. It is strictly sequential and holds no state between groups.
type Engine struct {
	logger      ectologger.Logger
	store       crm.Store
	opts        Options
	fieldMerger *FieldMerger
	contacts    childOps[models.Contact]
	activities  childOps[models.Activity]
}

// NewEngine creates a new merge engine
func NewEngine(logger ectologger.Logger, store crm.Store, opts Options) *Engine {
	return &Engine{
		logger:      logger,
		store:       store,
		opts:        opts,
		fieldMerger: NewFieldMerger(opts.MergeFields, opts.NotesField, opts.NotesDelimiter),
		contacts:    contactOps(store),
		activities:  activityOps(store),
	}
}

// Process handles one duplicate group and returns its decision trace. Mutation failures are
// recorded in the trace and never returned; the caller moves on to the next group.
func (e *Engine) Process(ctx context.Context, snapshot *loader.Snapshot, group models.DuplicateGroup) models.GroupTrace {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Process")
	defer span.End()

	if group.Kind == models.GroupKindPlaceholder {
		return e.cleanupPlaceholders(ctx, snapshot, group)
	}

	survivor, losers := Elect(snapshot, group.Members, e.opts.Tiebreak)
	group.Survivor = &survivor
	group.Losers = losers

	trace := models.GroupTrace{
		Key:               group.Key,
		Kind:              group.Kind,
		Name:              survivor.Name,
		SurvivorID:        survivor.ID,
		SurvivorCreatedAt: survivor.CreatedAt,
	}

	// the survivor's merged state and child keys carry over from one loser to the next
	state := survivor.Clone()
	contactIndex := newKeyIndex(e.contacts, snapshot.ContactsOf(survivor.ID))
	activityIndex := newKeyIndex(e.activities, snapshot.ActivitiesOf(survivor.ID))

	for _, loser := range losers {
		lt := e.mergeLoser(ctx, snapshot, &state, loser, contactIndex, activityIndex)
		trace.Losers = append(trace.Losers, lt)
	}

	return trace
}

// mergeLoser runs field merge, contact and activity reconciliation and disposal for one loser.
func (e *Engine) mergeLoser(
	ctx context.Context,
	snapshot *loader.Snapshot,
	survivor *models.Prospect,
	loser models.Prospect,
	contactIndex, activityIndex keyIndex,
) models.LoserTrace {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.mergeLoser")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"survivor_id": survivor.ID,
		"loser_id":    loser.ID,
		"name":        survivor.Name,
		"dry_run":     e.opts.DryRun,
	})
	log.Info("Merging duplicate")

	lt := models.LoserTrace{
		ProspectID: loser.ID,
		CreatedAt:  loser.CreatedAt,
	}

	// 1. fields
	changes, updates := e.fieldMerger.Plan(*survivor, loser)
	lt.FieldChanges = changes
	switch {
	case len(updates) == 0:
		lt.FieldUpdate = models.OutcomeUnchanged
	case e.opts.DryRun:
		lt.FieldUpdate = models.OutcomePlanned
		applyUpdates(survivor, updates)
	default:
		if err := e.store.UpdateProspect(ctx, survivor.ID, updates); err != nil {
			log.WithError(err).Errorf("failed to update survivor %d with %d fields", survivor.ID, len(updates))
			lt.FieldUpdate = models.OutcomeFailed
			lt.FieldError = err.Error()
			lt.KeptReason = "survivor field update failed"
		} else {
			lt.FieldUpdate = models.OutcomeApplied
			applyUpdates(survivor, updates)
		}
	}

	// 2. contacts, 3. activities
	lt.Contacts = reconcile(ctx, e, e.contacts, survivor.ID, contactIndex, snapshot.ContactsOf(loser.ID))
	lt.Activities = reconcile(ctx, e, e.activities, survivor.ID, activityIndex, snapshot.ActivitiesOf(loser.ID))

	if lt.KeptReason == "" && anyFailed(lt.Contacts, lt.Activities) {
		lt.KeptReason = "child records still reference it"
	}

	// 4. loser
	switch {
	case lt.KeptReason != "":
		lt.Deletion = models.OutcomeKept
		log.WithField("reason", lt.KeptReason).Warnf("keeping duplicate %d", loser.ID)
	case e.opts.DryRun:
		lt.Deletion = models.OutcomePlanned
	default:
		lt.Deletion, lt.DeletionError = e.deleteProspect(ctx, loser.ID)
	}

	return lt
}

// cleanupPlaceholders deletes placeholder members that own no children and keeps the rest.
func (e *Engine) cleanupPlaceholders(ctx context.Context, snapshot *loader.Snapshot, group models.DuplicateGroup) models.GroupTrace {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.cleanupPlaceholders")
	defer span.End()

	e.logger.WithContext(ctx).WithField("count", group.Size()).Infof("Deleting %d '%s' placeholder records", group.Size(), group.Key)

	trace := models.GroupTrace{
		Key:  group.Key,
		Kind: group.Kind,
		Name: group.Key,
	}

	for _, p := range group.Members {
		pt := models.PlaceholderTrace{
			ProspectID: p.ID,
			Contacts:   len(snapshot.ContactsOf(p.ID)),
			Activities: len(snapshot.ActivitiesOf(p.ID)),
		}

		switch {
		case pt.Contacts > 0 || pt.Activities > 0:
			pt.Deletion = models.OutcomeKept
		case e.opts.DryRun:
			pt.Deletion = models.OutcomePlanned
		default:
			pt.Deletion, pt.Error = e.deleteProspect(ctx, p.ID)
		}

		trace.Placeholders = append(trace.Placeholders, pt)
	}

	return trace
}

func (e *Engine) deleteProspect(ctx context.Context, id int64) (models.Outcome, string) {
	err := e.store.DeleteProspect(ctx, id)
	switch {
	case err == nil:
		return models.OutcomeApplied, ""
	case crm.IsNotFound(err):
		return models.OutcomeAlreadyApplied, ""
	default:
		e.logger.WithContext(ctx).WithError(err).WithField("prospect_id", id).Errorf("failed to delete prospect %d", id)
		return models.OutcomeFailed, err.Error()
	}
}

func applyUpdates(p *models.Prospect, updates map[string]any) {
	if p.Attributes == nil {
		p.Attributes = make(map[string]any, len(updates))
	}
	maps.Copy(p.Attributes, updates)
}

func anyFailed(groups ...[]models.ChildDisposition) bool {
	for _, ds := range groups {
		for _, d := range ds {
			if d.Outcome.IsFailure() {
				return true
			}
		}
	}
	return false
}
