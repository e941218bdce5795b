package models

import (
	"fmt"
	"math"
	"time"
)

// NumDimensions is the fixed size of every score vector.
const NumDimensions = 8

// Dimension identifies one rubric axis.
type Dimension int

const (
	DimComposition Dimension = iota
	DimLighting
	DimFocus
	DimColor
	DimIsolation
	DimDepth
	DimBalance
	DimEmotion
)

// Dimensions lists every axis in vector order.
var Dimensions = [NumDimensions]Dimension{
	DimComposition, DimLighting, DimFocus, DimColor,
	DimIsolation, DimDepth, DimBalance, DimEmotion,
}

var dimensionKeys = [NumDimensions]string{
	"composition", "lighting", "focus", "color",
	"isolation", "depth", "balance", "emotion",
}

var dimensionTitles = [NumDimensions]string{
	"Composition", "Lighting", "Focus & Sharpness", "Color Harmony",
	"Subject Isolation", "Depth & Perspective", "Visual Balance", "Emotional Impact",
}

// Key is the stable machine name of d ("composition", "lighting", ...).
func (d Dimension) Key() string { return dimensionKeys[d] }

// Title is the human readable name of d.
func (d Dimension) Title() string { return dimensionTitles[d] }

func (d Dimension) String() string { return d.Key() }

// LookupDimension resolves a dimension from its key or title, case-insensitively.
// Common aliases emitted by generators ("sharpness", "color harmony") are accepted.
func LookupDimension(name string) (Dimension, bool) {
	n := normalizeDimensionName(name)
	for i := range dimensionKeys {
		if n == dimensionKeys[i] || n == normalizeDimensionName(dimensionTitles[i]) {
			return Dimension(i), true
		}
	}
	if d, ok := dimensionAliases[n]; ok {
		return d, true
	}
	return 0, false
}

var dimensionAliases = map[string]Dimension{
	"sharpness":          DimFocus,
	"focus_sharpness":    DimFocus,
	"color_harmony":      DimColor,
	"colour":             DimColor,
	"colour_harmony":     DimColor,
	"subject_isolation":  DimIsolation,
	"depth_perspective":  DimDepth,
	"perspective":        DimDepth,
	"visual_balance":     DimBalance,
	"emotional_impact":   DimEmotion,
	"impact":             DimEmotion,
	"light":              DimLighting,
	"composition_design": DimComposition,
}

func normalizeDimensionName(s string) string {
	out := make([]byte, 0, len(s))
	lastUnderscore := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
			lastUnderscore = false
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
			lastUnderscore = false
		default:
			if !lastUnderscore && len(out) > 0 {
				out = append(out, '_')
				lastUnderscore = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '_' {
		out = out[:len(out)-1]
	}
	return string(out)
}

// ScoreVector is a fully scored 8-dimension vector. A profile without one is unscored.
type ScoreVector [NumDimensions]float64

// Get returns the score of d.
func (v ScoreVector) Get(d Dimension) float64 { return v[d] }

// Map returns the vector keyed by dimension key.
func (v ScoreVector) Map() map[string]float64 {
	m := make(map[string]float64, NumDimensions)
	for _, d := range Dimensions {
		m[d.Key()] = v[d]
	}
	return m
}

// ScoresFromPartial builds a ScoreVector from possibly missing scores. The
// result is nil unless all eight are present, so a partially scored profile
// is treated as unscored rather than zero-filled.
func ScoresFromPartial(scores [NumDimensions]*float64) (*ScoreVector, error) {
	var v ScoreVector
	for i, s := range scores {
		if s == nil {
			return nil, nil
		}
		if err := validateScore(*s); err != nil {
			return nil, fmt.Errorf("%s: %w", Dimension(i).Key(), err)
		}
		v[i] = *s
	}
	return &v, nil
}

// ScoresFromMap builds a ScoreVector from a key→score map (see ScoresFromPartial).
func ScoresFromMap(m map[string]*float64) (*ScoreVector, error) {
	var partial [NumDimensions]*float64
	for name, s := range m {
		d, ok := LookupDimension(name)
		if !ok {
			return nil, fmt.Errorf("unknown dimension %q", name)
		}
		partial[d] = s
	}
	return ScoresFromPartial(partial)
}

func validateScore(s float64) error {
	if math.IsNaN(s) || s < 0 || s > 10 {
		return fmt.Errorf("score %v out of range [0,10]", s)
	}
	return nil
}

// DimensionalProfile is an 8-dimension scoring of one image together with
// per-dimension commentary. Advisor profiles are written by the offline
// indexer; a user profile lives only for the duration of one job.
type DimensionalProfile struct {
	AdvisorID    string                `db:"advisor_id"    json:"advisor_id"    yaml:"advisor_id"`
	ImageRef     string                `db:"image_ref"     json:"image_ref"     yaml:"image_ref"`
	Scores       *ScoreVector          `db:"scores"        json:"scores"        yaml:"-"`
	Comments     [NumDimensions]string `db:"comments"      json:"comments"      yaml:"-"`
	OverallGrade *float64              `db:"overall_grade" json:"overall_grade" yaml:"overall_grade"`
	Description  string                `db:"description"   json:"description"   yaml:"description"`
	Title        string                `db:"title"         json:"title"         yaml:"title"`
	Source       string                `db:"source"        json:"source"        yaml:"source"`
	Year         int                   `db:"year"          json:"year"          yaml:"year"`
	CreatedAt    time.Time             `db:"created_at"    json:"created_at"    yaml:"-"`
	UpdatedAt    time.Time             `db:"updated_at"    json:"updated_at"    yaml:"-"`
}

// Scored reports whether the profile carries a full score vector.
func (p *DimensionalProfile) Scored() bool {
	return p != nil && p.Scores != nil
}

// Passage is a quotable text excerpt attributed to an advisor.
type Passage struct {
	ID        string    `db:"id"         json:"id"         yaml:"id"`
	AdvisorID string    `db:"advisor_id" json:"advisor_id" yaml:"advisor_id"`
	Text      string    `db:"text"       json:"text"       yaml:"text"`
	Source    string    `db:"source"     json:"source"     yaml:"source"`
	Year      int       `db:"year"       json:"year"       yaml:"year"`
	Weight    float64   `db:"weight"     json:"weight"     yaml:"weight"`
	CreatedAt time.Time `db:"created_at" json:"created_at" yaml:"-"`
}
