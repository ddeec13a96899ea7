package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Tiebreak names for the final survivor election key.
const (
	// TiebreakCreatedAtLength ranks by the negated length of the created_at string
	TiebreakCreatedAtLength = "created_at_length"
	// TiebreakOldest parses created_at and prefers the oldest record
	TiebreakOldest = "oldest_created_at"
)

// DefaultPlaceholderName is the name given to records waiting for manual review.
const DefaultPlaceholderName = "Unknown (check management)"

// ManualMerge declares two prospects as duplicates whose names differ.
type ManualMerge struct {
	SurvivorID int64  `yaml:"survivor_id" json:"survivor_id" validate:"required,gt=0"`
	LoserID    int64  `yaml:"loser_id" json:"loser_id" validate:"required,gt=0,nefield=SurvivorID"`
	Note       string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Rules is the static, reviewable merge configuration.
type Rules struct {
	Exclusions      []string      `yaml:"exclusions" validate:"dive,required"`
	ManualMerges    []ManualMerge `yaml:"manual_merges" validate:"dive"`
	PlaceholderName string        `yaml:"placeholder_name"`
	MergeFields     []string      `yaml:"merge_fields" validate:"required,min=1,unique,dive,required"`
	NotesField      string        `yaml:"notes_field" validate:"required"`
	NotesDelimiter  string        `yaml:"notes_delimiter" validate:"required"`
	Tiebreak        string        `yaml:"tiebreak" validate:"oneof=created_at_length oldest_created_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultRules returns the rules fern ships with.
func DefaultRules() Rules {
	return Rules{
		Exclusions: []string{"FedEx", "FedEx Ground", "USPS", "Amazon", "US Foods"},
		ManualMerges: []ManualMerge{
			{SurvivorID: 3916, LoserID: 518, Note: "Alton Southern Highlands + Alton at Southern Highlands"},
		},
		PlaceholderName: DefaultPlaceholderName,
		MergeFields: []string{
			"address", "type", "property_type", "units", "notes", "source",
			"lat", "lng", "hours", "phone", "website", "contact_name",
			"contact_email", "contact_phone",
		},
		NotesField:     "notes",
		NotesDelimiter: "\n---\n",
		Tiebreak:       TiebreakCreatedAtLength,
	}
}

// LoadRules reads a YAML rules file over the defaults. An empty path yields the defaults.
// Keys absent from the file keep their default values.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, rules.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	return rules, rules.Validate()
}

// Validate checks the rules for structural errors and ambiguous manual pairs.
func (r Rules) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msg := "invalid merge rules:"
			for _, fe := range verrs {
				msg += fmt.Sprintf("\n • field '%s' failed rule '%s' (param '%s', got '%v')", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
			}
			return errors.New(msg)
		}
		return err
	}

	seen := make(map[int64]int, len(r.ManualMerges)*2)
	for i, pair := range r.ManualMerges {
		for _, id := range []int64{pair.SurvivorID, pair.LoserID} {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("invalid merge rules: prospect %d appears in manual merges %d and %d", id, prev, i)
			}
			seen[id] = i
		}
	}

	return nil
}

// ExclusionSet returns the exclusions as a lookup set.
func (r Rules) ExclusionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Exclusions))
	for _, name := range r.Exclusions {
		set[name] = struct{}{}
	}
	return set
}
