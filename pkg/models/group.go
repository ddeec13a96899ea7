package models

// GroupKind tells how a duplicate group was formed.
type GroupKind string

const (
	// GroupKindName groups prospects sharing an identical name
	GroupKindName GroupKind = "name"
	// GroupKindManual is an operator-declared pair whose names differ
	GroupKindManual GroupKind = "manual"
	// GroupKindPlaceholder holds records filed under the review placeholder name; never merged
	GroupKindPlaceholder GroupKind = "placeholder"
)

// DuplicateGroup is a transient set of prospects believed to be the same entity.
// Survivor and Losers are populated by election; Members keeps the grouping order.
type DuplicateGroup struct {
	Key      string     `json:"key"`
	Kind     GroupKind  `json:"kind"`
	Members  []Prospect `json:"members"`
	Survivor *Prospect  `json:"survivor,omitempty"`
	Losers   []Prospect `json:"losers,omitempty"`
}

// Size returns the number of members.
func (g *DuplicateGroup) Size() int {
	return len(g.Members)
}

// MemberIDs returns the member ids in group order.
func (g *DuplicateGroup) MemberIDs() []int64 {
	ids := make([]int64, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}
