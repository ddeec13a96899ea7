package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakePublisher struct {
	batches [][]*kafka.ProspectEvent
	err     error
}

func (f *fakePublisher) PublishProspectEvents(ctx context.Context, events []*kafka.ProspectEvent) error {
	f.batches = append(f.batches, events)
	return f.err
}

func mergedGroup() models.GroupTrace {
	return models.GroupTrace{
		Key:        "Acme",
		Kind:       models.GroupKindName,
		SurvivorID: 1,
		Losers: []models.LoserTrace{
			{
				ProspectID:   2,
				FieldChanges: []models.FieldChange{{Field: "phone"}, {Field: "notes", Notes: true}},
				Contacts: []models.ChildDisposition{
					{Action: models.ChildActionMove, Outcome: models.OutcomeApplied},
					{Action: models.ChildActionDropDuplicate, Outcome: models.OutcomeApplied},
				},
				Activities: []models.ChildDisposition{
					{Action: models.ChildActionRecreate, Outcome: models.OutcomeApplied},
				},
				Deletion: models.OutcomeApplied,
			},
			{ProspectID: 3, Deletion: models.OutcomeKept},
			{ProspectID: 4, Deletion: models.OutcomePlanned},
		},
	}
}

func TestBuildGroupEvents(t *testing.T) {
	events := BuildGroupEvents("r1", mergedGroup())

	require.Len(t, events, 2, "only the applied loser produces events")
	assert.Equal(t, EventProspectMerged, events[0].EventType)
	assert.Equal(t, EventProspectDeleted, events[1].EventType)
	for _, e := range events {
		assert.Equal(t, "r1", e.RunID)
		assert.Equal(t, int64(2), e.ProspectID)
		assert.Equal(t, int64(1), e.SurvivorID)
		assert.Equal(t, "Acme", e.GroupKey)
	}

	var data map[string]any
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, SchemaVersion, data["schema_version"])
	assert.Equal(t, []any{"phone", "notes"}, data["fields_changed"])
	assert.Equal(t, float64(1), data["contacts_moved"])
	assert.Equal(t, float64(1), data["activities_moved"])
}

func TestBuildGroupEvents_Placeholders(t *testing.T) {
	events := BuildGroupEvents("r1", models.GroupTrace{
		Key:  "Unknown (check management)",
		Kind: models.GroupKindPlaceholder,
		Placeholders: []models.PlaceholderTrace{
			{ProspectID: 7, Deletion: models.OutcomeApplied},
			{ProspectID: 8, Deletion: models.OutcomeKept},
			{ProspectID: 9, Deletion: models.OutcomeAlreadyApplied},
		},
	})

	require.Len(t, events, 2)
	assert.Equal(t, int64(7), events[0].ProspectID)
	assert.Equal(t, int64(9), events[1].ProspectID)
	assert.Equal(t, EventProspectDeleted, events[1].EventType)
	assert.Zero(t, events[1].SurvivorID)
}

func TestEmitGroup(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, logging.Discard())

	require.NoError(t, e.EmitGroup(context.Background(), "r1", mergedGroup()))
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
}

func TestEmitGroup_NothingApplied(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, logging.Discard())

	require.NoError(t, e.EmitGroup(context.Background(), "r1", models.GroupTrace{
		Losers: []models.LoserTrace{{ProspectID: 2, Deletion: models.OutcomePlanned}},
	}))
	assert.Empty(t, pub.batches)
}

func TestEmitGroup_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	e := NewEmitter(pub, logging.Discard())

	assert.Error(t, e.EmitGroup(context.Background(), "r1", mergedGroup()))
}
