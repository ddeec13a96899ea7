package merging

import (
	"cmp"
	"slices"
	"time"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/models"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// score is the election key of one member. Higher sorts first.
type score struct {
	activities int
	contacts   int
	age        int64
}

// Elect orders the group members by descending (activity count, contact count, age tiebreak)
// with a stable sort, and returns the first as survivor and the rest as losers in that order.
func Elect(snapshot *loader.Snapshot, members []models.Prospect, tiebreak string) (models.Prospect, []models.Prospect) {
	ranked := slices.Clone(members)
	scores := make(map[int64]score, len(ranked))
	for _, p := range ranked {
		scores[p.ID] = score{
			activities: len(snapshot.ActivitiesOf(p.ID)),
			contacts:   len(snapshot.ContactsOf(p.ID)),
			age:        ageKey(p.CreatedAt, tiebreak),
		}
	}

	slices.SortStableFunc(ranked, func(a, b models.Prospect) int {
		sa, sb := scores[a.ID], scores[b.ID]
		if c := cmp.Compare(sb.activities, sa.activities); c != 0 {
			return c
		}
		if c := cmp.Compare(sb.contacts, sa.contacts); c != 0 {
			return c
		}
		return cmp.Compare(sb.age, sa.age)
	})

	return ranked[0], ranked[1:]
}

// ageKey maps created_at to a value where larger means "prefer as survivor".
func ageKey(createdAt string, tiebreak string) int64 {
	if tiebreak != config.TiebreakOldest {
		return -int64(len(createdAt))
	}

	ts, ok := parseTimestamp(createdAt)
	if !ok {
		// unparseable timestamps rank below every parseable one
		return -1 << 62
	}
	return -ts.Unix()
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
