package crm

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Observer receives the latency of each store call.
type Observer interface {
	ObserveStoreCall(operation string, duration time.Duration)
}

type instrumentedStore struct {
	next     Store
	observer Observer
}

// Instrument wraps next so that every call is timed and reported to observer.
func Instrument(next Store, observer Observer) Store {
	return &instrumentedStore{next: next, observer: observer}
}

func (s *instrumentedStore) observe(op string, start time.Time) {
	s.observer.ObserveStoreCall(op, time.Since(start))
}

func (s *instrumentedStore) ListProspects(ctx context.Context) ([]models.Prospect, error) {
	defer s.observe("list_prospects", time.Now())
	return s.next.ListProspects(ctx)
}

func (s *instrumentedStore) ListActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	defer s.observe("list_activities", time.Now())
	return s.next.ListActivities(ctx, limit)
}

func (s *instrumentedStore) ListContacts(ctx context.Context) ([]models.Contact, error) {
	defer s.observe("list_contacts", time.Now())
	return s.next.ListContacts(ctx)
}

func (s *instrumentedStore) UpdateProspect(ctx context.Context, id int64, fields map[string]any) error {
	defer s.observe("update_prospect", time.Now())
	return s.next.UpdateProspect(ctx, id, fields)
}

func (s *instrumentedStore) DeleteProspect(ctx context.Context, id int64) error {
	defer s.observe("delete_prospect", time.Now())
	return s.next.DeleteProspect(ctx, id)
}

func (s *instrumentedStore) UpdateContact(ctx context.Context, id int64, fields map[string]any) error {
	defer s.observe("update_contact", time.Now())
	return s.next.UpdateContact(ctx, id, fields)
}

func (s *instrumentedStore) CreateContact(ctx context.Context, prospectID int64, fields models.ContactFields) (models.Contact, error) {
	defer s.observe("create_contact", time.Now())
	return s.next.CreateContact(ctx, prospectID, fields)
}

func (s *instrumentedStore) DeleteContact(ctx context.Context, id int64) error {
	defer s.observe("delete_contact", time.Now())
	return s.next.DeleteContact(ctx, id)
}

func (s *instrumentedStore) UpdateActivity(ctx context.Context, id int64, fields map[string]any) error {
	defer s.observe("update_activity", time.Now())
	return s.next.UpdateActivity(ctx, id, fields)
}

func (s *instrumentedStore) CreateActivity(ctx context.Context, fields models.ActivityFields) (models.Activity, error) {
	defer s.observe("create_activity", time.Now())
	return s.next.CreateActivity(ctx, fields)
}

func (s *instrumentedStore) DeleteActivity(ctx context.Context, id int64) error {
	defer s.observe("delete_activity", time.Now())
	return s.next.DeleteActivity(ctx, id)
}
