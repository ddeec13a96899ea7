// Package audit journals merge runs and their decisions in Postgres.
package audit

import (
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Targets of a journaled decision.
const (
	TargetProspectFields    = "prospect_fields"
	TargetContact           = "contact"
	TargetActivity          = "activity"
	TargetProspectDelete    = "prospect_delete"
	TargetPlaceholderDelete = "placeholder_delete"
)

// Action is one row of merge_actions.
type Action struct {
	ID         uuid.UUID                      `db:"id"`
	RunID      uuid.UUID                      `db:"run_id"`
	GroupKey   string                         `db:"group_key"`
	SurvivorID *int64                         `db:"survivor_id"`
	ProspectID int64                          `db:"prospect_id"`
	Target     string                         `db:"target"`
	TargetID   int64                          `db:"target_id"`
	Action     string                         `db:"action"`
	Outcome    string                         `db:"outcome"`
	Detail     database.JSONB[map[string]any] `db:"detail"`
	Error      *string                        `db:"error"`
}

// BuildActions flattens a group trace into journal rows, one per decision.
func BuildActions(runID uuid.UUID, trace models.GroupTrace) []Action {
	var actions []Action

	var survivor *int64
	if trace.SurvivorID != 0 {
		id := trace.SurvivorID
		survivor = &id
	}

	row := func(prospectID int64, target string, targetID int64, action string, outcome models.Outcome, detail map[string]any, errMsg string) Action {
		a := Action{
			ID:         uuid.New(),
			RunID:      runID,
			GroupKey:   trace.Key,
			SurvivorID: survivor,
			ProspectID: prospectID,
			Target:     target,
			TargetID:   targetID,
			Action:     action,
			Outcome:    string(outcome),
			Detail:     database.NewJSONB(detail),
		}
		if errMsg != "" {
			a.Error = &errMsg
		}
		return a
	}

	for _, lt := range trace.Losers {
		if len(lt.FieldChanges) > 0 {
			actions = append(actions, row(lt.ProspectID, TargetProspectFields, trace.SurvivorID, "update",
				lt.FieldUpdate, map[string]any{"changes": lt.FieldChanges}, lt.FieldError))
		}
		for _, d := range append(append([]models.ChildDisposition{}, lt.Contacts...), lt.Activities...) {
			detail := map[string]any{"label": d.Label}
			if d.Reason != "" {
				detail["reason"] = d.Reason
			}
			actions = append(actions, row(lt.ProspectID, string(d.Kind), d.ID, string(d.Action), d.Outcome, detail, d.Error))
		}

		var detail map[string]any
		if lt.KeptReason != "" {
			detail = map[string]any{"kept_reason": lt.KeptReason}
		}
		actions = append(actions, row(lt.ProspectID, TargetProspectDelete, lt.ProspectID, "delete", lt.Deletion, detail, lt.DeletionError))
	}

	for _, pt := range trace.Placeholders {
		detail := map[string]any{"contacts": pt.Contacts, "activities": pt.Activities}
		actions = append(actions, row(pt.ProspectID, TargetPlaceholderDelete, pt.ProspectID, "delete", pt.Deletion, detail, pt.Error))
	}

	return actions
}
