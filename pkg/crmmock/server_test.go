package crmmock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testSeed() Seed {
	return Seed{
		Prospects: []models.Prospect{
			{ID: 1, Name: "Acme", CreatedAt: "2024-01-01", Attributes: map[string]any{"phone": "555"}},
			{ID: 2, Name: "Acme", CreatedAt: "2024-02-01"},
		},
		Contacts: []models.Contact{
			{ID: 10, ProspectID: 2, Name: "Pat", Email: "pat@example.com"},
		},
		Activities: []models.Activity{
			{ID: 20, ProspectID: 2, Type: "call", Description: "intro"},
			{ID: 21, ProspectID: 1, Type: "visit", Description: "site"},
		},
	}
}

func newServedClient(t *testing.T, store *Store, key string) *crm.Client {
	t.Helper()
	server := httptest.NewServer(NewServer(store, "test-key", "crmmock-test", logging.Discard()))
	t.Cleanup(server.Close)

	client, err := crm.NewClient(crm.Config{BaseURL: server.URL, APIKey: key}, logging.Discard())
	require.NoError(t, err)
	return client
}

func TestServer_RoundTrip(t *testing.T) {
	store := NewStore(testSeed())
	client := newServedClient(t, store, "test-key")
	ctx := context.Background()

	prospects, err := client.ListProspects(ctx)
	require.NoError(t, err)
	require.Len(t, prospects, 2)
	assert.Equal(t, "555", prospects[0].Get("phone"))

	activities, err := client.ListActivities(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, activities, 1, "limit is honoured")

	require.NoError(t, client.UpdateProspect(ctx, 1, map[string]any{"notes": "hello", "units": 4}))
	require.NoError(t, client.UpdateContact(ctx, 10, map[string]any{"prospect_id": int64(1)}))
	_, err = client.CreateActivity(ctx, models.ActivityFields{ProspectID: 1, Type: "call", Description: "follow up"})
	require.NoError(t, err)
	created, err := client.CreateContact(ctx, 1, models.ContactFields{Name: "Sam"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	require.NoError(t, client.DeleteActivity(ctx, 20))
	require.NoError(t, client.DeleteProspect(ctx, 2))

	dump := store.Dump()
	require.Len(t, dump.Prospects, 1)
	assert.Equal(t, "hello", dump.Prospects[0].Get("notes"))
	assert.Equal(t, int64(4), dump.Prospects[0].Get("units"))
	assert.Equal(t, int64(1), dump.Contacts[0].ProspectID)
	assert.Len(t, dump.Contacts, 2)
	assert.Len(t, dump.Activities, 2)
}

func TestServer_EmptyCollections(t *testing.T) {
	store := NewStore(Seed{Prospects: []models.Prospect{{ID: 1, Name: "Solo"}}})
	client := newServedClient(t, store, "test-key")
	ctx := context.Background()

	contacts, err := client.ListContacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, contacts)

	activities, err := client.ListActivities(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, activities)

	data, err := json.Marshal(store.Dump())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"contacts":[]`)
	assert.Contains(t, string(data), `"activities":[]`)
}

func TestServer_Errors(t *testing.T) {
	store := NewStore(testSeed())
	client := newServedClient(t, store, "test-key")
	ctx := context.Background()

	err := client.DeleteProspect(ctx, 404)
	assert.True(t, crm.IsNotFound(err))

	err = client.UpdateContact(ctx, 10, map[string]any{"prospect_id": 999})
	assert.Equal(t, http.StatusUnprocessableEntity, crm.StatusCode(err))

	store.RejectChildUpdates(true)
	err = client.UpdateActivity(ctx, 20, map[string]any{"prospect_id": 1})
	assert.Equal(t, http.StatusMethodNotAllowed, crm.StatusCode(err))
}

func TestServer_RejectsBadAPIKey(t *testing.T) {
	client := newServedClient(t, NewStore(testSeed()), "wrong")

	_, err := client.ListProspects(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, crm.StatusCode(err))
}

func TestStore_FailOn(t *testing.T) {
	store := NewStore(testSeed())
	boom := assert.AnError
	store.FailOn("DeleteProspect", 2, boom)
	store.FailOn("UpdateContact", 0, boom)
	ctx := context.Background()

	assert.ErrorIs(t, store.DeleteProspect(ctx, 2), boom)
	assert.NoError(t, store.DeleteProspect(ctx, 1))
	assert.ErrorIs(t, store.UpdateContact(ctx, 10, map[string]any{"prospect_id": int64(2)}), boom)

	assert.Equal(t, []string{"DeleteProspect 2", "DeleteProspect 1", "UpdateContact 10"}, store.Calls())
	store.ResetCalls()
	assert.Empty(t, store.Calls())

	store.FailOn("UpdateContact", 0, nil)
	assert.NoError(t, store.UpdateContact(ctx, 10, map[string]any{"prospect_id": int64(2)}))
}

func TestStore_NewIDsDoNotCollide(t *testing.T) {
	store := NewStore(testSeed())

	c, err := store.CreateContact(context.Background(), 1, models.ContactFields{Name: "New"})
	require.NoError(t, err)
	assert.Equal(t, int64(22), c.ID)

	_, err = store.CreateContact(context.Background(), 99, models.ContactFields{Name: "Orphan"})
	assert.True(t, crm.IsNotFound(err))
}
