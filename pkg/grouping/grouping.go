package grouping

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ManualKeyPrefix prefixes the key of every operator-declared group.
const ManualKeyPrefix = "MANUAL: "

// Result is the outcome of grouping one snapshot.
type Result struct {
	// Groups are sorted by key; every group has at least two members.
	Groups []models.DuplicateGroup
	// Excluded lists the duplicated names dropped because they denote distinct entities.
	Excluded []string
}

// Records returns the total number of members across all groups.
func (r *Result) Records() int {
	total := 0
	for _, g := range r.Groups {
		total += g.Size()
	}
	return total
}

// Strategy partitions a snapshot into duplicate groups. The merge engine only consumes the
// produced groups, so alternative matchers can be plugged in here.
type Strategy interface {
	Group(ctx context.Context, snapshot *loader.Snapshot) (*Result, error)
}

// ExactNameStrategy groups prospects whose names are byte-for-byte identical, then applies the
// exclusion list, injects manual pairs and flags the placeholder group.
type ExactNameStrategy struct {
	exclusions  map[string]struct{}
	manual      []config.ManualMerge
	placeholder string
	logger      ectologger.Logger
}

var _ Strategy = (*ExactNameStrategy)(nil)

// NewExactNameStrategy creates the default grouping strategy from the merge rules.
func NewExactNameStrategy(rules config.Rules, logger ectologger.Logger) *ExactNameStrategy {
	return &ExactNameStrategy{
		exclusions:  rules.ExclusionSet(),
		manual:      rules.ManualMerges,
		placeholder: rules.PlaceholderName,
		logger:      logger,
	}
}

// Group builds the duplicate groups for snapshot.
func (s *ExactNameStrategy) Group(ctx context.Context, snapshot *loader.Snapshot) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "grouping.ExactNameStrategy.Group")
	defer span.End()

	log := s.logger.WithContext(ctx)

	byName := make(map[string][]models.Prospect)
	for _, p := range snapshot.Prospects {
		byName[p.Name] = append(byName[p.Name], p)
	}

	groups := make(map[string]models.DuplicateGroup)
	excluded := []string{}
	for name, members := range byName {
		if len(members) < 2 {
			continue
		}
		if _, skip := s.exclusions[name]; skip {
			excluded = append(excluded, name)
			continue
		}

		kind := models.GroupKindName
		if s.placeholder != "" && name == s.placeholder {
			kind = models.GroupKindPlaceholder
		}
		groups[name] = models.DuplicateGroup{Key: name, Kind: kind, Members: members}
	}

	slices.Sort(excluded)
	for _, name := range excluded {
		log.WithField("name", name).Infof("Skipping '%s': different physical locations, not duplicates", name)
	}

	for _, pair := range s.manual {
		survivor, okSurvivor := snapshot.Prospect(pair.SurvivorID)
		loser, okLoser := snapshot.Prospect(pair.LoserID)
		if !okSurvivor || !okLoser {
			log.WithFields(map[string]any{
				"survivor_id": pair.SurvivorID,
				"loser_id":    pair.LoserID,
			}).Debug("Manual merge pair not present in snapshot, skipping")
			continue
		}

		key := ManualKey(survivor, loser)
		groups[key] = models.DuplicateGroup{
			Key:     key,
			Kind:    models.GroupKindManual,
			Members: []models.Prospect{survivor, loser},
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	result := &Result{
		Groups:   ectolinq.Map(keys, func(key string) models.DuplicateGroup { return groups[key] }),
		Excluded: excluded,
	}

	log.WithFields(map[string]any{
		"groups":   len(result.Groups),
		"records":  result.Records(),
		"excluded": len(excluded),
	}).Infof("Found %d duplicate groups (%d total records)", len(result.Groups), result.Records())

	return result, nil
}

// ManualKey names a manual group after both members.
func ManualKey(survivor, loser models.Prospect) string {
	return fmt.Sprintf("%s%s + %s", ManualKeyPrefix, displayName(survivor), displayName(loser))
}

// IsManualKey reports whether key was produced by ManualKey.
func IsManualKey(key string) bool {
	return strings.HasPrefix(key, ManualKeyPrefix)
}

func displayName(p models.Prospect) string {
	if p.Name == "" {
		return "?"
	}
	return p.Name
}
