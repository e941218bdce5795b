package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"gopkg.in/yaml.v3"
)

// Catalogue is the YAML description of advisors' reference material.
//
//	advisors:
//	  - id: adams
//	    profiles:
//	      - image_ref: moonrise.jpg
//	        title: Moonrise, Hernandez
//	        year: 1941
//	        scores: {composition: 9, lighting: 9.5, ...}
//	        comments: {lighting: "..."}
//	    passages:
//	      - id: adams-visualize
//	        text: "..."
//	        weight: 1
type Catalogue struct {
	Advisors []AdvisorEntry `yaml:"advisors"`
}

type AdvisorEntry struct {
	ID       string           `yaml:"id"`
	Profiles []ProfileEntry   `yaml:"profiles"`
	Passages []models.Passage `yaml:"passages"`
}

// ProfileEntry carries scores and comments keyed by dimension name instead
// of vector position.
type ProfileEntry struct {
	models.DimensionalProfile `yaml:",inline"`
	Scores                    map[string]*float64 `yaml:"scores"`
	Comments                  map[string]string   `yaml:"comments"`
}

// AdvisorSet is one advisor's validated catalogue content.
type AdvisorSet struct {
	AdvisorID string
	Profiles  []*models.DimensionalProfile
	Passages  []*models.Passage
}

// LoadCatalogue reads and validates a catalogue file. Unknown keys are errors.
func LoadCatalogue(path string) ([]AdvisorSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}

	var cat Catalogue
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	return cat.Resolve()
}

// Resolve validates the catalogue and converts it to store models. Partially
// scored profiles resolve to unscored ones.
func (c *Catalogue) Resolve() ([]AdvisorSet, error) {
	if len(c.Advisors) == 0 {
		return nil, fmt.Errorf("catalogue lists no advisors")
	}

	seen := make(map[string]bool, len(c.Advisors))
	sets := make([]AdvisorSet, 0, len(c.Advisors))
	for _, adv := range c.Advisors {
		if adv.ID == "" {
			return nil, fmt.Errorf("advisor without id")
		}
		if seen[adv.ID] {
			return nil, fmt.Errorf("advisor %q listed twice", adv.ID)
		}
		seen[adv.ID] = true

		set := AdvisorSet{AdvisorID: adv.ID}
		refs := make(map[string]bool, len(adv.Profiles))
		for i := range adv.Profiles {
			p, err := adv.Profiles[i].resolve(adv.ID)
			if err != nil {
				return nil, fmt.Errorf("advisor %s profile %d: %w", adv.ID, i+1, err)
			}
			if refs[p.ImageRef] {
				return nil, fmt.Errorf("advisor %s: image_ref %q listed twice", adv.ID, p.ImageRef)
			}
			refs[p.ImageRef] = true
			set.Profiles = append(set.Profiles, p)
		}

		ids := make(map[string]bool, len(adv.Passages))
		for i := range adv.Passages {
			p := adv.Passages[i]
			p.AdvisorID = adv.ID
			switch {
			case p.ID == "":
				return nil, fmt.Errorf("advisor %s passage %d: id is required", adv.ID, i+1)
			case p.Text == "":
				return nil, fmt.Errorf("advisor %s passage %s: text is required", adv.ID, p.ID)
			case p.Weight < 0:
				return nil, fmt.Errorf("advisor %s passage %s: weight must not be negative", adv.ID, p.ID)
			case ids[p.ID]:
				return nil, fmt.Errorf("advisor %s: passage %q listed twice", adv.ID, p.ID)
			}
			ids[p.ID] = true
			set.Passages = append(set.Passages, &p)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (e *ProfileEntry) resolve(advisorID string) (*models.DimensionalProfile, error) {
	p := e.DimensionalProfile
	p.AdvisorID = advisorID
	if p.ImageRef == "" {
		return nil, fmt.Errorf("image_ref is required")
	}

	scores, err := models.ScoresFromMap(e.Scores)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.ImageRef, err)
	}
	p.Scores = scores

	for name, comment := range e.Comments {
		d, ok := models.LookupDimension(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown dimension %q in comments", p.ImageRef, name)
		}
		p.Comments[d] = comment
	}
	return &p, nil
}
