package models

import "time"

// Outcome is the result of a single decided mutation.
type Outcome string

const (
	// OutcomePlanned means the mutation was computed but suppressed by dry run
	OutcomePlanned Outcome = "would_change"
	// OutcomeApplied means the store accepted the mutation
	OutcomeApplied Outcome = "changed"
	// OutcomeFailed means the store rejected the mutation
	OutcomeFailed Outcome = "failed"
	// OutcomeAlreadyApplied means the target was already in the desired state (e.g. 404 on delete)
	OutcomeAlreadyApplied Outcome = "already_changed"
	// OutcomeKept means the engine deliberately left the record in place
	OutcomeKept Outcome = "kept"
	// OutcomeUnchanged means there was nothing to do
	OutcomeUnchanged Outcome = "unchanged"
)

// IsFailure reports whether the outcome needs operator follow-up.
func (o Outcome) IsFailure() bool {
	return o == OutcomeFailed
}

// ChildKind names the child record type.
type ChildKind string

const (
	ChildKindContact  ChildKind = "contact"
	ChildKindActivity ChildKind = "activity"
)

// ChildAction is what the engine decided for a loser's child record.
type ChildAction string

const (
	// ChildActionDropDuplicate deletes a child that already exists on the survivor
	ChildActionDropDuplicate ChildAction = "delete_duplicate"
	// ChildActionMove reassigns the child's prospect_id to the survivor
	ChildActionMove ChildAction = "move"
	// ChildActionRecreate copies the child under the survivor and deletes the original
	ChildActionRecreate ChildAction = "recreate"
)

// FieldChange is one resolved mergeable field on the survivor.
type FieldChange struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
	Notes bool   `json:"notes,omitempty"`
}

// ChildDisposition records what happened to one loser child.
type ChildDisposition struct {
	Kind    ChildKind   `json:"kind"`
	ID      int64       `json:"id"`
	Label   string      `json:"label"`
	Action  ChildAction `json:"action"`
	Reason  string      `json:"reason,omitempty"`
	Outcome Outcome     `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}

// LoserTrace is the decision trace for one loser folded into the survivor.
type LoserTrace struct {
	ProspectID    int64              `json:"prospect_id"`
	CreatedAt     string             `json:"created_at"`
	FieldChanges  []FieldChange      `json:"field_changes,omitempty"`
	FieldUpdate   Outcome            `json:"field_update"`
	FieldError    string             `json:"field_error,omitempty"`
	Contacts      []ChildDisposition `json:"contacts,omitempty"`
	Activities    []ChildDisposition `json:"activities,omitempty"`
	Deletion      Outcome            `json:"deletion"`
	DeletionError string             `json:"deletion_error,omitempty"`
	KeptReason    string             `json:"kept_reason,omitempty"`
}

// Failures counts failed mutations in the loser trace.
func (l *LoserTrace) Failures() int {
	n := 0
	if l.FieldUpdate.IsFailure() {
		n++
	}
	for _, c := range l.Contacts {
		if c.Outcome.IsFailure() {
			n++
		}
	}
	for _, a := range l.Activities {
		if a.Outcome.IsFailure() {
			n++
		}
	}
	if l.Deletion.IsFailure() {
		n++
	}
	return n
}

// PlaceholderTrace is the decision for one member of a placeholder group.
type PlaceholderTrace struct {
	ProspectID int64   `json:"prospect_id"`
	Contacts   int     `json:"contacts"`
	Activities int     `json:"activities"`
	Deletion   Outcome `json:"deletion"`
	Error      string  `json:"error,omitempty"`
}

// GroupTrace is the decision trace for one duplicate group.
type GroupTrace struct {
	Key               string             `json:"key"`
	Kind              GroupKind          `json:"kind"`
	Name              string             `json:"name"`
	SurvivorID        int64              `json:"survivor_id,omitempty"`
	SurvivorCreatedAt string             `json:"survivor_created_at,omitempty"`
	Losers            []LoserTrace       `json:"losers,omitempty"`
	Placeholders      []PlaceholderTrace `json:"placeholders,omitempty"`
}

// RunSummary aggregates a whole run.
type RunSummary struct {
	RunID               string    `json:"run_id"`
	DryRun              bool      `json:"dry_run"`
	Prospects           int       `json:"prospects"`
	Contacts            int       `json:"contacts"`
	Activities          int       `json:"activities"`
	Groups              int       `json:"groups"`
	PairsMerged         int       `json:"pairs_merged"`
	LosersDeleted       int       `json:"losers_deleted"`
	LosersKept          int       `json:"losers_kept"`
	PlaceholdersDeleted int       `json:"placeholders_deleted"`
	PlaceholdersKept    int       `json:"placeholders_kept"`
	Excluded            []string  `json:"excluded,omitempty"`
	Failures            int       `json:"failures"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
}

// RunReport is the full observable output of a run.
type RunReport struct {
	Summary RunSummary   `json:"summary"`
	Groups  []GroupTrace `json:"groups"`
}
