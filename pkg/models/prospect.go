package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

// Reserved prospect keys that are modelled as struct fields rather than attributes.
const (
	ProspectKeyID        = "id"
	ProspectKeyName      = "name"
	ProspectKeyCreatedAt = "created_at"
)

// Prospect is the primary CRM entity. Everything besides id, name and created_at is kept in
// Attributes so that the set of mergeable fields stays configuration.
type Prospect struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	CreatedAt  string         `json:"created_at"`
	Attributes map[string]any `json:"-"`
}

// Get returns the raw attribute value for field, nil when absent.
func (p *Prospect) Get(field string) any {
	if p.Attributes == nil {
		return nil
	}
	return p.Attributes[field]
}

// Set stores an attribute value.
func (p *Prospect) Set(field string, value any) {
	if p.Attributes == nil {
		p.Attributes = make(map[string]any)
	}
	p.Attributes[field] = value
}

// Clone returns a copy whose attribute map can be mutated independently.
func (p Prospect) Clone() Prospect {
	p.Attributes = maps.Clone(p.Attributes)
	return p
}

// CreatedDate returns the date portion of CreatedAt for display.
func (p *Prospect) CreatedDate() string {
	if p.CreatedAt == "" {
		return "?"
	}
	if len(p.CreatedAt) > 10 {
		return p.CreatedAt[:10]
	}
	return p.CreatedAt
}

// UnmarshalJSON flattens the store representation into the struct fields and Attributes.
func (p *Prospect) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	raw := make(map[string]any)
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	id, err := parseID(raw[ProspectKeyID])
	if err != nil {
		return fmt.Errorf("invalid prospect id: %w", err)
	}

	p.ID = id
	p.Name = stringValue(raw[ProspectKeyName])
	p.CreatedAt = stringValue(raw[ProspectKeyCreatedAt])

	delete(raw, ProspectKeyID)
	delete(raw, ProspectKeyName)
	delete(raw, ProspectKeyCreatedAt)
	p.Attributes = raw

	return nil
}

// MarshalJSON writes the prospect back in the flat store representation.
func (p Prospect) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Attributes)+3)
	maps.Copy(out, p.Attributes)
	out[ProspectKeyID] = p.ID
	out[ProspectKeyName] = p.Name
	if p.CreatedAt != "" {
		out[ProspectKeyCreatedAt] = p.CreatedAt
	}
	return json.Marshal(out)
}

func parseID(v any) (int64, error) {
	switch id := v.(type) {
	case json.Number:
		return id.Int64()
	case float64:
		return int64(id), nil
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	case string:
		return json.Number(id).Int64()
	case nil:
		return 0, fmt.Errorf("missing id")
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}
