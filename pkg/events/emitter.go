// Package events handles event emission for prospect lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

const (
	EventProspectMerged  = "prospect.merged"
	EventProspectDeleted = "prospect.deleted"
)

// Publisher sends a batch of prospect events.
type Publisher interface {
	PublishProspectEvents(ctx context.Context, events []*kafka.ProspectEvent) error
}

// Emitter turns group traces into prospect events
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitGroup publishes the events for the applied mutations of one group. Failures are logged and
// returned; callers treat them as non-fatal.
func (e *Emitter) EmitGroup(ctx context.Context, runID string, trace models.GroupTrace) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitGroup")
	defer span.End()

	events := BuildGroupEvents(runID, trace)
	if len(events) == 0 {
		return nil
	}

	if err := e.publisher.PublishProspectEvents(ctx, events); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"group":  trace.Key,
			"events": len(events),
		}).Error("Failed to emit prospect events")
		return err
	}

	return nil
}

// BuildGroupEvents returns the events for a group trace. Only mutations the store accepted produce
// events; planned (dry run), failed and kept decisions do not.
func BuildGroupEvents(runID string, trace models.GroupTrace) []*kafka.ProspectEvent {
	var events []*kafka.ProspectEvent

	for _, lt := range trace.Losers {
		if !applied(lt.Deletion) {
			continue
		}

		data := map[string]any{
			"schema_version":   SchemaVersion,
			"fields_changed":   fieldNames(lt.FieldChanges),
			"contacts_moved":   countMoved(lt.Contacts),
			"activities_moved": countMoved(lt.Activities),
		}
		dataJSON, _ := json.Marshal(data)

		events = append(events,
			&kafka.ProspectEvent{
				EventType:  EventProspectMerged,
				RunID:      runID,
				ProspectID: lt.ProspectID,
				SurvivorID: trace.SurvivorID,
				GroupKey:   trace.Key,
				Data:       dataJSON,
			},
			&kafka.ProspectEvent{
				EventType:  EventProspectDeleted,
				RunID:      runID,
				ProspectID: lt.ProspectID,
				SurvivorID: trace.SurvivorID,
				GroupKey:   trace.Key,
			},
		)
	}

	for _, pt := range trace.Placeholders {
		if !applied(pt.Deletion) {
			continue
		}
		events = append(events, &kafka.ProspectEvent{
			EventType:  EventProspectDeleted,
			RunID:      runID,
			ProspectID: pt.ProspectID,
			GroupKey:   trace.Key,
		})
	}

	return events
}

func applied(o models.Outcome) bool {
	return o == models.OutcomeApplied || o == models.OutcomeAlreadyApplied
}

func fieldNames(changes []models.FieldChange) []string {
	names := make([]string, 0, len(changes))
	for _, c := range changes {
		names = append(names, c.Field)
	}
	return names
}

func countMoved(dispositions []models.ChildDisposition) int {
	n := 0
	for _, d := range dispositions {
		if d.Action != models.ChildActionDropDuplicate && applied(d.Outcome) {
			n++
		}
	}
	return n
}
