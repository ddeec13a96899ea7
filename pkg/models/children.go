package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Child is a record owned by exactly one prospect through prospect_id.
type Child interface {
	GetID() int64
	GetProspectID() int64
}

// Contact is a person attached to a prospect.
type Contact struct {
	ID         int64  `json:"id"`
	ProspectID int64  `json:"prospect_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
}

func (c Contact) GetID() int64         { return c.ID }
func (c Contact) GetProspectID() int64 { return c.ProspectID }

// ContactFields is the payload used to create a contact under a prospect.
type ContactFields struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Fields returns the creatable fields of the contact.
func (c Contact) Fields() ContactFields {
	return ContactFields{
		Name:  c.Name,
		Role:  c.Role,
		Email: c.Email,
		Phone: c.Phone,
	}
}

// Activity is a timeline entry (call, visit, note) attached to a prospect.
type Activity struct {
	ID          int64  `json:"id"`
	ProspectID  int64  `json:"prospect_id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func (a Activity) GetID() int64         { return a.ID }
func (a Activity) GetProspectID() int64 { return a.ProspectID }

// ActivityFields is the payload used to create an activity.
type ActivityFields struct {
	ProspectID  int64  `json:"prospect_id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Fields returns the creatable fields of the activity, re-owned by prospectID.
func (a Activity) Fields(prospectID int64) ActivityFields {
	return ActivityFields{
		ProspectID:  prospectID,
		Type:        a.Type,
		Description: a.Description,
		CreatedAt:   a.CreatedAt,
	}
}

// UnmarshalJSON accepts ids as numbers or strings and text fields of any scalar type, so one odd
// record does not make the whole listing undecodable.
func (c *Contact) UnmarshalJSON(data []byte) error {
	raw, err := decodeRecord(data)
	if err != nil {
		return err
	}
	if c.ID, err = parseID(raw["id"]); err != nil {
		return fmt.Errorf("invalid contact id: %w", err)
	}
	if c.ProspectID, err = ownerID(raw["prospect_id"]); err != nil {
		return fmt.Errorf("invalid prospect_id of contact %d: %w", c.ID, err)
	}
	c.Name = stringValue(raw["name"])
	c.Role = stringValue(raw["role"])
	c.Email = stringValue(raw["email"])
	c.Phone = stringValue(raw["phone"])
	return nil
}

// UnmarshalJSON decodes an activity with the same tolerance as Contact.
func (a *Activity) UnmarshalJSON(data []byte) error {
	raw, err := decodeRecord(data)
	if err != nil {
		return err
	}
	if a.ID, err = parseID(raw["id"]); err != nil {
		return fmt.Errorf("invalid activity id: %w", err)
	}
	if a.ProspectID, err = ownerID(raw["prospect_id"]); err != nil {
		return fmt.Errorf("invalid prospect_id of activity %d: %w", a.ID, err)
	}
	a.Type = stringValue(raw["type"])
	a.Description = stringValue(raw["description"])
	a.CreatedAt = stringValue(raw["created_at"])
	return nil
}

func decodeRecord(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := make(map[string]any)
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ownerID parses a prospect_id; a missing owner is 0.
func ownerID(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	return parseID(v)
}
