package loader

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Snapshot is the full, read-once view of the store taken at the start of a run.
// Child lookups are indexed by owning prospect id.
type Snapshot struct {
	Prospects  []models.Prospect
	Contacts   []models.Contact
	Activities []models.Activity

	// ActivitiesTruncated is set when the activity listing returned exactly the requested limit.
	ActivitiesTruncated bool

	byID       map[int64]*models.Prospect
	contacts   map[int64][]models.Contact
	activities map[int64][]models.Activity
}

// NewSnapshot indexes already-fetched records.
func NewSnapshot(prospects []models.Prospect, contacts []models.Contact, activities []models.Activity) *Snapshot {
	s := &Snapshot{
		Prospects:  prospects,
		Contacts:   contacts,
		Activities: activities,
		byID:       make(map[int64]*models.Prospect, len(prospects)),
		contacts:   make(map[int64][]models.Contact),
		activities: make(map[int64][]models.Activity),
	}
	for i := range prospects {
		s.byID[prospects[i].ID] = &prospects[i]
	}
	for _, c := range contacts {
		s.contacts[c.ProspectID] = append(s.contacts[c.ProspectID], c)
	}
	for _, a := range activities {
		s.activities[a.ProspectID] = append(s.activities[a.ProspectID], a)
	}
	return s
}

// Prospect returns the prospect with id, if present.
func (s *Snapshot) Prospect(id int64) (models.Prospect, bool) {
	p, ok := s.byID[id]
	if !ok {
		return models.Prospect{}, false
	}
	return *p, true
}

// ContactsOf returns the contacts owned by prospectID, in listing order.
func (s *Snapshot) ContactsOf(prospectID int64) []models.Contact {
	return s.contacts[prospectID]
}

// ActivitiesOf returns the activities owned by prospectID, in listing order.
func (s *Snapshot) ActivitiesOf(prospectID int64) []models.Activity {
	return s.activities[prospectID]
}

// Loader reads the three collections from the store.
type Loader struct {
	store         crm.Store
	activityLimit int
	logger        ectologger.Logger
}

// NewLoader creates a loader that requests at most activityLimit activities.
func NewLoader(store crm.Store, activityLimit int, logger ectologger.Logger) *Loader {
	return &Loader{
		store:         store,
		activityLimit: activityLimit,
		logger:        logger,
	}
}

// Load fetches prospects, activities and contacts. Any failure aborts the run before a mutation
// is attempted.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "loader.Loader.Load")
	defer span.End()

	l.logger.WithContext(ctx).Info("Fetching all data")

	prospects, err := l.store.ListProspects(ctx)
	if err != nil {
		return nil, loadError("prospects", err)
	}

	activities, err := l.store.ListActivities(ctx, l.activityLimit)
	if err != nil {
		return nil, loadError("activities", err)
	}

	contacts, err := l.store.ListContacts(ctx)
	if err != nil {
		return nil, loadError("contacts", err)
	}

	snapshot := NewSnapshot(prospects, contacts, activities)
	snapshot.ActivitiesTruncated = l.activityLimit > 0 && len(activities) >= l.activityLimit

	log := l.logger.WithContext(ctx).WithFields(map[string]any{
		"prospects":  len(prospects),
		"activities": len(activities),
		"contacts":   len(contacts),
	})
	if snapshot.ActivitiesTruncated {
		log.Warnf("activity listing hit the limit of %d; activities beyond it are invisible to this run and their owners may be misjudged as empty", l.activityLimit)
	} else {
		log.Info("Loaded snapshot")
	}

	return snapshot, nil
}

// loadError keeps the store's status code, or reports a gateway failure for transport errors.
func loadError(collection string, err error) error {
	code := crm.StatusCode(err)
	if code == 0 {
		code = http.StatusBadGateway
	}
	return httperror.WrapError(code, fmt.Errorf("failed to list %s: %w", collection, err))
}
