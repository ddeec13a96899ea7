package merging

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/crmmock"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testOptions(dryRun bool) Options {
	return OptionsFromRules(config.DefaultRules(), dryRun)
}

func loadSnapshot(t *testing.T, store *crmmock.Store) *loader.Snapshot {
	t.Helper()
	snapshot, err := loader.NewLoader(store, 2000, logging.Discard()).Load(context.Background())
	require.NoError(t, err)
	return snapshot
}

// process loads a fresh snapshot and runs the engine over the members with the given ids.
func process(t *testing.T, store *crmmock.Store, opts Options, kind models.GroupKind, memberIDs ...int64) models.GroupTrace {
	t.Helper()
	snapshot := loadSnapshot(t, store)

	group := models.DuplicateGroup{Key: "test", Kind: kind}
	for _, id := range memberIDs {
		p, ok := snapshot.Prospect(id)
		require.True(t, ok, "prospect %d missing", id)
		group.Members = append(group.Members, p)
	}

	return NewEngine(logging.Discard(), store, opts).Process(context.Background(), snapshot, group)
}

func activitiesFor(id int64, n int, prefix string) []models.Activity {
	out := make([]models.Activity, n)
	for i := range out {
		out[i] = models.Activity{ID: id*100 + int64(i), ProspectID: id, Type: "call", Description: fmt.Sprintf("%s %d", prefix, i)}
	}
	return out
}

func assertNoOrphans(t *testing.T, store *crmmock.Store) {
	t.Helper()
	dump := store.Dump()
	live := make(map[int64]bool, len(dump.Prospects))
	for _, p := range dump.Prospects {
		live[p.ID] = true
	}
	for _, c := range dump.Contacts {
		assert.True(t, live[c.ProspectID], "contact %d references missing prospect %d", c.ID, c.ProspectID)
	}
	for _, a := range dump.Activities {
		assert.True(t, live[a.ProspectID], "activity %d references missing prospect %d", a.ID, a.ProspectID)
	}
}

func TestEngine_SurvivorWithMoreHistoryWins(t *testing.T) {
	activities := append(activitiesFor(1, 5, "survivor"), models.Activity{ID: 900, ProspectID: 2, Type: "visit", Description: "walkthrough"})
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			// the loser is listed first and is younger; history decides
			{ID: 2, Name: "Acme", CreatedAt: "2024-05-01"},
			{ID: 1, Name: "Acme", CreatedAt: "2023-01-01"},
		},
		Contacts: []models.Contact{
			{ID: 10, ProspectID: 1, Name: "A"},
			{ID: 11, ProspectID: 1, Name: "B"},
		},
		Activities: activities,
	})

	trace := process(t, store, testOptions(false), models.GroupKindName, 2, 1)

	assert.Equal(t, int64(1), trace.SurvivorID)
	require.Len(t, trace.Losers, 1)
	lt := trace.Losers[0]
	assert.Equal(t, int64(2), lt.ProspectID)
	require.Len(t, lt.Activities, 1)
	assert.Equal(t, models.ChildActionMove, lt.Activities[0].Action)
	assert.Equal(t, models.OutcomeApplied, lt.Activities[0].Outcome)
	assert.Equal(t, models.OutcomeApplied, lt.Deletion)

	dump := store.Dump()
	require.Len(t, dump.Prospects, 1)
	assert.Equal(t, int64(1), dump.Prospects[0].ID)
	assert.Len(t, dump.Activities, 6)
	for _, a := range dump.Activities {
		assert.Equal(t, int64(1), a.ProspectID)
	}
	assertNoOrphans(t, store)
}

func TestEngine_NotesIntoEmptySurvivor(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme Corp", CreatedAt: "2024-01-01", Attributes: map[string]any{"notes": ""}},
			{ID: 2, Name: "Acme Corp", CreatedAt: "2024-01-02", Attributes: map[string]any{"notes": "call back Tuesday"}},
		},
	})

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2)

	require.Len(t, trace.Losers, 1)
	assert.Equal(t, models.OutcomeApplied, trace.Losers[0].FieldUpdate)

	dump := store.Dump()
	require.Len(t, dump.Prospects, 1)
	assert.Equal(t, "call back Tuesday", dump.Prospects[0].Get("notes"))
}

func TestEngine_NoUpdateWhenNothingChanges(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme", Attributes: map[string]any{"phone": "555-0100"}},
			{ID: 2, Name: "Acme", Attributes: map[string]any{"phone": "555"}},
		},
	})

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2)

	assert.Equal(t, models.OutcomeUnchanged, trace.Losers[0].FieldUpdate)
	assert.Equal(t, []string{"DeleteProspect 2"}, store.Calls())
}

func TestEngine_ContactDedup(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme"},
			{ID: 2, Name: "Acme"},
		},
		Contacts: []models.Contact{
			{ID: 10, ProspectID: 1, Name: "Pat Lee", Email: "pat@acme.com"},
			{ID: 11, ProspectID: 1, Name: "Front Desk"},
			// same email, different case
			{ID: 20, ProspectID: 2, Name: "Patricia", Email: "PAT@acme.com"},
			// same name, no email
			{ID: 21, ProspectID: 2, Name: "front desk"},
			// new contact, moved
			{ID: 22, ProspectID: 2, Name: "Sam", Email: "sam@acme.com"},
			// shares an email with the contact moved just before it
			{ID: 23, ProspectID: 2, Name: "Samuel", Email: "Sam@Acme.com"},
		},
		Activities: []models.Activity{{ID: 30, ProspectID: 1, Type: "call", Description: "x"}},
	})

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2)
	lt := trace.Losers[0]

	require.Len(t, lt.Contacts, 4)
	assert.Equal(t, models.ChildActionDropDuplicate, lt.Contacts[0].Action)
	assert.Contains(t, lt.Contacts[0].Reason, "email")
	assert.Equal(t, models.ChildActionDropDuplicate, lt.Contacts[1].Action)
	assert.Contains(t, lt.Contacts[1].Reason, "name")
	assert.Equal(t, models.ChildActionMove, lt.Contacts[2].Action)
	assert.Equal(t, models.ChildActionDropDuplicate, lt.Contacts[3].Action)

	dump := store.Dump()
	emails := map[string]int{}
	for _, c := range dump.Contacts {
		assert.Equal(t, int64(1), c.ProspectID)
		if c.Email != "" {
			emails[strings.ToLower(c.Email)]++
		}
	}
	for email, n := range emails {
		assert.Equal(t, 1, n, "email %s duplicated on survivor", email)
	}
	assert.Len(t, dump.Contacts, 3)
	assertNoOrphans(t, store)
}

func TestEngine_ActivityDedup(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme"},
			{ID: 2, Name: "Acme"},
		},
		Activities: []models.Activity{
			{ID: 10, ProspectID: 1, Type: "call", Description: "intro"},
			{ID: 11, ProspectID: 1, Type: "call", Description: "pricing"},
			{ID: 12, ProspectID: 1, Type: "note", Description: "a"},
			{ID: 13, ProspectID: 1, Type: "note", Description: "b"},
			{ID: 20, ProspectID: 2, Type: "call", Description: "intro"},
			{ID: 21, ProspectID: 2, Type: "email", Description: "intro"},
			{ID: 22, ProspectID: 2, Type: "call", Description: "Intro"},
		},
	})

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2)
	lt := trace.Losers[0]

	require.Len(t, lt.Activities, 3)
	assert.Equal(t, models.ChildActionDropDuplicate, lt.Activities[0].Action)
	assert.Equal(t, models.ChildActionMove, lt.Activities[1].Action, "type differs")
	assert.Equal(t, models.ChildActionMove, lt.Activities[2].Action, "description match is exact")
	assert.Len(t, store.Dump().Activities, 6)
	assertNoOrphans(t, store)
}

func TestEngine_RelocateFallsBackToRecreate(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme"},
			{ID: 2, Name: "Acme"},
		},
		Contacts: []models.Contact{{ID: 20, ProspectID: 2, Name: "Pat", Role: "Owner", Email: "pat@acme.com", Phone: "1"}},
		Activities: []models.Activity{
			{ID: 10, ProspectID: 1, Type: "call", Description: "a"},
			{ID: 11, ProspectID: 1, Type: "call", Description: "b"},
			{ID: 30, ProspectID: 2, Type: "visit", Description: "tour"},
		},
	})
	store.RejectChildUpdates(true)

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2)
	lt := trace.Losers[0]

	assert.Equal(t, models.ChildActionRecreate, lt.Contacts[0].Action)
	assert.Equal(t, models.OutcomeApplied, lt.Contacts[0].Outcome)
	assert.Equal(t, models.ChildActionRecreate, lt.Activities[0].Action)
	assert.Equal(t, models.OutcomeApplied, lt.Deletion)

	dump := store.Dump()
	require.Len(t, dump.Contacts, 1)
	c := dump.Contacts[0]
	assert.NotEqual(t, int64(20), c.ID)
	assert.Equal(t, models.Contact{ID: c.ID, ProspectID: 1, Name: "Pat", Role: "Owner", Email: "pat@acme.com", Phone: "1"}, c)
	require.Len(t, dump.Activities, 3)
	for _, a := range dump.Activities {
		assert.Equal(t, int64(1), a.ProspectID)
		assert.NotEqual(t, int64(30), a.ID, "the original was replaced by a copy")
	}
	assertNoOrphans(t, store)
}

func TestEngine_FallbackFailureKeepsLoser(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme"},
			{ID: 2, Name: "Acme"},
		},
		Contacts:   []models.Contact{{ID: 20, ProspectID: 2, Name: "Pat"}},
		Activities: []models.Activity{{ID: 10, ProspectID: 1, Type: "call", Description: "a"}},
	})
	store.RejectChildUpdates(true)
	store.FailOn("CreateContact", 1, httperror.NewHTTPError(http.StatusInternalServerError, "boom"))

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2)
	lt := trace.Losers[0]

	assert.Equal(t, models.OutcomeFailed, lt.Contacts[0].Outcome)
	assert.NotEmpty(t, lt.Contacts[0].Error)
	assert.Equal(t, models.OutcomeKept, lt.Deletion)
	assert.NotEmpty(t, lt.KeptReason)
	assert.Equal(t, 1, lt.Failures())

	dump := store.Dump()
	assert.Len(t, dump.Prospects, 2)
	assert.Equal(t, int64(2), dump.Contacts[0].ProspectID, "contact stays under its old owner")
	assertNoOrphans(t, store)
}

func TestEngine_FieldUpdateFailureKeepsLoser(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme"},
			{ID: 2, Name: "Acme", Attributes: map[string]any{"phone": "555"}},
		},
	})
	store.FailOn("UpdateProspect", 1, httperror.NewHTTPError(http.StatusBadGateway, "down"))

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2)
	lt := trace.Losers[0]

	assert.Equal(t, models.OutcomeFailed, lt.FieldUpdate)
	assert.Equal(t, models.OutcomeKept, lt.Deletion)
	assert.Len(t, store.Dump().Prospects, 2, "the loser's phone is not lost")
}

func TestEngine_DeleteFailureIsReported(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme"},
			{ID: 2, Name: "Acme"},
			{ID: 3, Name: "Acme"},
		},
	})
	store.FailOn("DeleteProspect", 2, httperror.NewHTTPError(http.StatusInternalServerError, "locked"))

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2, 3)

	require.Len(t, trace.Losers, 2)
	assert.Equal(t, models.OutcomeFailed, trace.Losers[0].Deletion)
	assert.NotEmpty(t, trace.Losers[0].DeletionError)
	assert.Equal(t, models.OutcomeApplied, trace.Losers[1].Deletion, "later losers are still processed")
}

func TestEngine_AlreadyDeletedLoser(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme"},
			{ID: 2, Name: "Acme"},
		},
	})
	snapshot := loadSnapshot(t, store)
	require.NoError(t, store.DeleteProspect(context.Background(), 2))

	group := models.DuplicateGroup{Key: "Acme", Kind: models.GroupKindName, Members: snapshot.Prospects}
	trace := NewEngine(logging.Discard(), store, testOptions(false)).Process(context.Background(), snapshot, group)

	assert.Equal(t, models.OutcomeAlreadyApplied, trace.Losers[0].Deletion)
	assert.Zero(t, trace.Losers[0].Failures())
}

func TestEngine_MultipleLosersAccumulate(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme", Attributes: map[string]any{"notes": "first"}},
			{ID: 2, Name: "Acme", Attributes: map[string]any{"notes": "second", "phone": "555"}},
			{ID: 3, Name: "Acme", Attributes: map[string]any{"notes": "third", "phone": "555-0100"}},
		},
		Contacts: []models.Contact{
			{ID: 20, ProspectID: 2, Name: "Pat", Email: "pat@acme.com"},
			{ID: 30, ProspectID: 3, Name: "Patricia", Email: "pat@acme.com"},
		},
		Activities: []models.Activity{{ID: 40, ProspectID: 1, Type: "call", Description: "x"}},
	})

	trace := process(t, store, testOptions(false), models.GroupKindName, 1, 2, 3)

	require.Len(t, trace.Losers, 2)
	assert.Equal(t, models.ChildActionDropDuplicate, trace.Losers[1].Contacts[0].Action, "contact moved from the first loser is visible")

	dump := store.Dump()
	require.Len(t, dump.Prospects, 1)
	assert.Equal(t, "first\n---\nsecond\n---\nthird", dump.Prospects[0].Get("notes"))
	assert.Equal(t, "555-0100", dump.Prospects[0].Get("phone"))
	assert.Len(t, dump.Contacts, 1)
}

func TestEngine_DryRun(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme", Attributes: map[string]any{"notes": "first"}},
			{ID: 2, Name: "Acme", Attributes: map[string]any{"notes": "second"}},
			{ID: 3, Name: "Acme", Attributes: map[string]any{"notes": "third"}},
		},
		Contacts:   []models.Contact{{ID: 20, ProspectID: 2, Name: "Pat"}},
		Activities: []models.Activity{{ID: 40, ProspectID: 1, Type: "call", Description: "x"}},
	})
	before := store.Dump()

	trace := process(t, store, testOptions(true), models.GroupKindName, 1, 2, 3)

	assert.Empty(t, store.Calls(), "dry run makes no mutating calls")
	assert.Equal(t, before, store.Dump())

	require.Len(t, trace.Losers, 2)
	for _, lt := range trace.Losers {
		assert.Equal(t, models.OutcomePlanned, lt.FieldUpdate)
		assert.Equal(t, models.OutcomePlanned, lt.Deletion)
	}
	assert.Equal(t, models.OutcomePlanned, trace.Losers[0].Contacts[0].Outcome)
	assert.Equal(t, "first\n---\nsecond\n---\nthird", trace.Losers[1].FieldChanges[0].To, "planned notes accumulate")
}

func TestEngine_Placeholders(t *testing.T) {
	name := config.DefaultPlaceholderName
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: name},
			{ID: 2, Name: name},
			{ID: 3, Name: name},
		},
		Contacts:   []models.Contact{{ID: 20, ProspectID: 2, Name: "Pat"}},
		Activities: []models.Activity{{ID: 30, ProspectID: 3, Type: "call"}},
	})

	trace := process(t, store, testOptions(false), models.GroupKindPlaceholder, 1, 2, 3)

	assert.Empty(t, trace.Losers, "placeholders are never merged")
	require.Len(t, trace.Placeholders, 3)
	assert.Equal(t, models.OutcomeApplied, trace.Placeholders[0].Deletion)
	assert.Equal(t, models.OutcomeKept, trace.Placeholders[1].Deletion)
	assert.Equal(t, models.OutcomeKept, trace.Placeholders[2].Deletion)

	dump := store.Dump()
	require.Len(t, dump.Prospects, 2)
	assert.Equal(t, []string{"DeleteProspect 1"}, store.Calls())
	assertNoOrphans(t, store)
}

func TestEngine_Idempotent(t *testing.T) {
	store := crmmock.NewStore(crmmock.Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme", Attributes: map[string]any{"notes": "met owner"}},
			{ID: 2, Name: "Acme", Attributes: map[string]any{"notes": "call back", "phone": "555"}},
		},
		Contacts:   []models.Contact{{ID: 20, ProspectID: 2, Name: "Pat"}},
		Activities: []models.Activity{{ID: 30, ProspectID: 1, Type: "call", Description: "x"}},
	})
	store.FailOn("DeleteProspect", 2, httperror.NewHTTPError(http.StatusServiceUnavailable, "try later"))

	first := process(t, store, testOptions(false), models.GroupKindName, 1, 2)
	require.Equal(t, models.OutcomeFailed, first.Losers[0].Deletion)

	// the loser survived the first run; a second run only finishes the job
	store = crmmock.NewStore(store.Dump())
	second := process(t, store, testOptions(false), models.GroupKindName, 1, 2)

	lt := second.Losers[0]
	assert.Equal(t, models.OutcomeUnchanged, lt.FieldUpdate, "notes are not appended twice")
	assert.Empty(t, lt.Contacts)
	assert.Equal(t, models.OutcomeApplied, lt.Deletion)
	assert.Equal(t, []string{"DeleteProspect 2"}, store.Calls())

	dump := store.Dump()
	assert.Equal(t, "met owner\n---\ncall back", dump.Prospects[0].Get("notes"))
	assert.Len(t, dump.Contacts, 1)
}
