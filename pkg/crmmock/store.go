// Package crmmock is an in-memory record store with the same contract and error shapes as the
// real CRM, usable directly as a crm.Store or served over HTTP.
package crmmock

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/crm"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Seed is the initial content of a store.
type Seed struct {
	Prospects  []models.Prospect `json:"prospects"`
	Contacts   []models.Contact  `json:"contacts"`
	Activities []models.Activity `json:"activities"`
}

// LoadSeed reads a JSON seed file.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return seed, nil
}

// Store is a thread-safe in-memory crm.Store.
type Store struct {
	mu         sync.Mutex
	prospects  map[int64]models.Prospect
	contacts   map[int64]models.Contact
	activities map[int64]models.Activity
	nextID     int64

	rejectChildUpdates bool
	failures           map[string]error
	calls              []string
}

var _ crm.Store = (*Store)(nil)

// NewStore creates a store holding seed.
func NewStore(seed Seed) *Store {
	s := &Store{
		prospects:  make(map[int64]models.Prospect),
		contacts:   make(map[int64]models.Contact),
		activities: make(map[int64]models.Activity),
		failures:   make(map[string]error),
		nextID:     1,
	}
	for _, p := range seed.Prospects {
		s.prospects[p.ID] = p.Clone()
		s.bump(p.ID)
	}
	for _, c := range seed.Contacts {
		s.contacts[c.ID] = c
		s.bump(c.ID)
	}
	for _, a := range seed.Activities {
		s.activities[a.ID] = a
		s.bump(a.ID)
	}
	return s
}

func (s *Store) bump(id int64) {
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// RejectChildUpdates makes contact and activity updates fail with 405, as stores that only
// support create and delete on child records do.
func (s *Store) RejectChildUpdates(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectChildUpdates = reject
}

// FailOn makes the named operation fail with err for id. op is a Store method name such as
// "DeleteProspect"; for the create operations id is the owning prospect. id 0 fails every call.
// A nil err clears the failure.
func (s *Store) FailOn(op string, id int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, callKey(op, id))
		return
	}
	s.failures[callKey(op, id)] = err
}

// Calls returns the mutating calls received so far, formatted "Op id".
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Dump returns the current content ordered by id.
func (s *Store) Dump() Seed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Seed{
		Prospects:  sortedValues(s.prospects, func(p models.Prospect) int64 { return p.ID }),
		Contacts:   sortedValues(s.contacts, func(c models.Contact) int64 { return c.ID }),
		Activities: sortedValues(s.activities, func(a models.Activity) int64 { return a.ID }),
	}
}

func (s *Store) ListProspects(context.Context) ([]models.Prospect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := sortedValues(s.prospects, func(p models.Prospect) int64 { return p.ID })
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

func (s *Store) ListActivities(_ context.Context, limit int) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := sortedValues(s.activities, func(a models.Activity) int64 { return a.ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListContacts(context.Context) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.contacts, func(c models.Contact) int64 { return c.ID }), nil
}

func (s *Store) UpdateProspect(_ context.Context, id int64, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UpdateProspect", id); err != nil {
		return err
	}

	p, ok := s.prospects[id]
	if !ok {
		return notFound("prospect", id)
	}
	p = p.Clone()
	for key, value := range fields {
		switch key {
		case models.ProspectKeyID:
			continue
		case models.ProspectKeyName:
			p.Name = fmt.Sprint(value)
		case models.ProspectKeyCreatedAt:
			p.CreatedAt = fmt.Sprint(value)
		default:
			p.Set(key, value)
		}
	}
	s.prospects[id] = p
	return nil
}

func (s *Store) DeleteProspect(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteProspect", id); err != nil {
		return err
	}

	if _, ok := s.prospects[id]; !ok {
		return notFound("prospect", id)
	}
	delete(s.prospects, id)
	return nil
}

func (s *Store) UpdateContact(_ context.Context, id int64, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UpdateContact", id); err != nil {
		return err
	}
	if s.rejectChildUpdates {
		return httperror.NewHTTPError(http.StatusMethodNotAllowed, "contact updates are not supported")
	}

	c, ok := s.contacts[id]
	if !ok {
		return notFound("contact", id)
	}
	for key, value := range fields {
		switch key {
		case "prospect_id":
			owner, err := s.owner(value)
			if err != nil {
				return err
			}
			c.ProspectID = owner
		case "name":
			c.Name = fmt.Sprint(value)
		case "role":
			c.Role = fmt.Sprint(value)
		case "email":
			c.Email = fmt.Sprint(value)
		case "phone":
			c.Phone = fmt.Sprint(value)
		}
	}
	s.contacts[id] = c
	return nil
}

func (s *Store) CreateContact(_ context.Context, prospectID int64, fields models.ContactFields) (models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateContact", prospectID); err != nil {
		return models.Contact{}, err
	}

	if _, ok := s.prospects[prospectID]; !ok {
		return models.Contact{}, notFound("prospect", prospectID)
	}
	c := models.Contact{
		ID:         s.nextID,
		ProspectID: prospectID,
		Name:       fields.Name,
		Role:       fields.Role,
		Email:      fields.Email,
		Phone:      fields.Phone,
	}
	s.nextID++
	s.contacts[c.ID] = c
	return c, nil
}

func (s *Store) DeleteContact(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteContact", id); err != nil {
		return err
	}

	if _, ok := s.contacts[id]; !ok {
		return notFound("contact", id)
	}
	delete(s.contacts, id)
	return nil
}

func (s *Store) UpdateActivity(_ context.Context, id int64, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("UpdateActivity", id); err != nil {
		return err
	}
	if s.rejectChildUpdates {
		return httperror.NewHTTPError(http.StatusMethodNotAllowed, "activity updates are not supported")
	}

	a, ok := s.activities[id]
	if !ok {
		return notFound("activity", id)
	}
	for key, value := range fields {
		switch key {
		case "prospect_id":
			owner, err := s.owner(value)
			if err != nil {
				return err
			}
			a.ProspectID = owner
		case "type":
			a.Type = fmt.Sprint(value)
		case "description":
			a.Description = fmt.Sprint(value)
		}
	}
	s.activities[id] = a
	return nil
}

func (s *Store) CreateActivity(_ context.Context, fields models.ActivityFields) (models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("CreateActivity", fields.ProspectID); err != nil {
		return models.Activity{}, err
	}

	if _, ok := s.prospects[fields.ProspectID]; !ok {
		return models.Activity{}, notFound("prospect", fields.ProspectID)
	}
	a := models.Activity{
		ID:          s.nextID,
		ProspectID:  fields.ProspectID,
		Type:        fields.Type,
		Description: fields.Description,
		CreatedAt:   fields.CreatedAt,
	}
	s.nextID++
	s.activities[a.ID] = a
	return a, nil
}

func (s *Store) DeleteActivity(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("DeleteActivity", id); err != nil {
		return err
	}

	if _, ok := s.activities[id]; !ok {
		return notFound("activity", id)
	}
	delete(s.activities, id)
	return nil
}

// record logs the call and returns any injected failure. Callers hold s.mu.
func (s *Store) record(op string, id int64) error {
	key := callKey(op, id)
	s.calls = append(s.calls, key)
	if err, ok := s.failures[key]; ok {
		return err
	}
	if err, ok := s.failures[callKey(op, 0)]; ok {
		return err
	}
	return nil
}

// owner resolves a prospect_id payload value to an existing prospect. Callers hold s.mu.
func (s *Store) owner(value any) (int64, error) {
	var id int64
	switch v := value.(type) {
	case int64:
		id = v
	case int:
		id = int64(v)
	case float64:
		id = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid prospect_id %q", v.String())
		}
		id = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid prospect_id %q", v)
		}
		id = n
	default:
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid prospect_id %v", value)
	}

	if _, ok := s.prospects[id]; !ok {
		return 0, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "prospect %d does not exist", id)
	}
	return id, nil
}

func callKey(op string, id int64) string {
	return op + " " + strconv.FormatInt(id, 10)
}

func notFound(kind string, id int64) error {
	return httperror.NewHTTPErrorf(http.StatusNotFound, "%s %d not found", kind, id)
}

// sortedValues returns the values of m ordered by id; never nil, so an empty collection encodes as [].
func sortedValues[T any](m map[int64]T, id func(T) int64) []T {
	out := make([]T, 0, len(m))
	out = slices.AppendSeq(out, maps.Values(m))
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(id(a), id(b)) })
	return out
}
