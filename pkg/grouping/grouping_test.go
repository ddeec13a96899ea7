package grouping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
)

func snapshotOf(prospects ...models.Prospect) *loader.Snapshot {
	return loader.NewSnapshot(prospects, nil, nil)
}

func rulesWith(mutate func(r *config.Rules)) config.Rules {
	rules := config.DefaultRules()
	rules.ManualMerges = nil
	if mutate != nil {
		mutate(&rules)
	}
	return rules
}

func group(t *testing.T, rules config.Rules, snapshot *loader.Snapshot) *Result {
	t.Helper()
	result, err := NewExactNameStrategy(rules, logging.Discard()).Group(context.Background(), snapshot)
	require.NoError(t, err)
	return result
}

func TestExactNameStrategy_GroupsIdenticalNames(t *testing.T) {
	result := group(t, rulesWith(nil), snapshotOf(
		models.Prospect{ID: 1, Name: "Acme"},
		models.Prospect{ID: 2, Name: "Beta"},
		models.Prospect{ID: 3, Name: "Acme"},
		models.Prospect{ID: 4, Name: "acme"},
	))

	require.Len(t, result.Groups, 1)
	assert.Equal(t, "Acme", result.Groups[0].Key)
	assert.Equal(t, models.GroupKindName, result.Groups[0].Kind)
	assert.Equal(t, []int64{1, 3}, result.Groups[0].MemberIDs(), "members keep snapshot order")
	assert.Equal(t, 2, result.Records())
}

func TestExactNameStrategy_NoDuplicates(t *testing.T) {
	result := group(t, rulesWith(nil), snapshotOf(
		models.Prospect{ID: 1, Name: "Acme"},
		models.Prospect{ID: 2, Name: "Beta"},
	))

	assert.Empty(t, result.Groups)
	assert.Empty(t, result.Excluded)
}

func TestExactNameStrategy_Exclusions(t *testing.T) {
	result := group(t, rulesWith(nil), snapshotOf(
		models.Prospect{ID: 1, Name: "FedEx"},
		models.Prospect{ID: 2, Name: "FedEx"},
		models.Prospect{ID: 3, Name: "USPS"},
		models.Prospect{ID: 4, Name: "USPS"},
		models.Prospect{ID: 5, Name: "Amazon"},
	))

	assert.Empty(t, result.Groups)
	assert.Equal(t, []string{"FedEx", "USPS"}, result.Excluded, "a singleton excluded name is not reported")
}

func TestExactNameStrategy_ManualPairs(t *testing.T) {
	rules := rulesWith(func(r *config.Rules) {
		r.ManualMerges = []config.ManualMerge{
			{SurvivorID: 3916, LoserID: 518},
			{SurvivorID: 10, LoserID: 11},
		}
	})

	result := group(t, rules, snapshotOf(
		models.Prospect{ID: 518, Name: "Alton at Southern Highlands"},
		models.Prospect{ID: 3916, Name: "Alton Southern Highlands"},
		models.Prospect{ID: 10, Name: "Only One Present"},
	))

	require.Len(t, result.Groups, 1, "a pair is injected only when both ids exist")
	g := result.Groups[0]
	assert.Equal(t, "MANUAL: Alton Southern Highlands + Alton at Southern Highlands", g.Key)
	assert.True(t, IsManualKey(g.Key))
	assert.Equal(t, models.GroupKindManual, g.Kind)
	assert.Equal(t, []int64{3916, 518}, g.MemberIDs())
}

func TestExactNameStrategy_Placeholder(t *testing.T) {
	result := group(t, rulesWith(nil), snapshotOf(
		models.Prospect{ID: 1, Name: config.DefaultPlaceholderName},
		models.Prospect{ID: 2, Name: config.DefaultPlaceholderName},
		models.Prospect{ID: 3, Name: config.DefaultPlaceholderName},
	))

	require.Len(t, result.Groups, 1)
	assert.Equal(t, models.GroupKindPlaceholder, result.Groups[0].Kind)
	assert.Equal(t, 3, result.Groups[0].Size())
}

func TestExactNameStrategy_SortedByKey(t *testing.T) {
	rules := rulesWith(func(r *config.Rules) {
		r.ManualMerges = []config.ManualMerge{{SurvivorID: 7, LoserID: 8}}
	})

	result := group(t, rules, snapshotOf(
		models.Prospect{ID: 1, Name: "Zeta"},
		models.Prospect{ID: 2, Name: "Zeta"},
		models.Prospect{ID: 3, Name: "Alpha"},
		models.Prospect{ID: 4, Name: "Alpha"},
		models.Prospect{ID: 7, Name: "Mid One"},
		models.Prospect{ID: 8, Name: "Mid Two"},
	))

	keys := make([]string, 0, len(result.Groups))
	for _, g := range result.Groups {
		keys = append(keys, g.Key)
	}
	assert.Equal(t, []string{"Alpha", "MANUAL: Mid One + Mid Two", "Zeta"}, keys)
}

func TestManualKey_MissingName(t *testing.T) {
	key := ManualKey(models.Prospect{ID: 1}, models.Prospect{ID: 2, Name: "B"})
	assert.Equal(t, "MANUAL: ? + B", key)
}
