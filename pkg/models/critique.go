package models

// Critique is the structured output of one inference pass.
type Critique struct {
	ImageDescription string              `json:"image_description"`
	Dimensions       []DimensionCritique `json:"dimensions"`
	OverallScore     *float64            `json:"overall_score"`
	Summary          string              `json:"summary"`
	ComparativeNote  string              `json:"comparative_note,omitempty"`
}

// DimensionCritique is the verdict for a single rubric axis. ImageCitation and
// QuoteCitation hold the raw tokens exactly as the generator emitted them; the
// citation resolver replaces them with CitedImage/CitedQuote or removes them.
type DimensionCritique struct {
	Name           string      `json:"name"`
	Score          *float64    `json:"score"`
	Comment        string      `json:"comment"`
	Recommendation string      `json:"recommendation"`
	ImageCitation  any         `json:"image_citation,omitempty"`
	QuoteCitation  any         `json:"quote_citation,omitempty"`
	CitedImage     *CitedImage `json:"cited_image,omitempty"`
	CitedQuote     *CitedQuote `json:"cited_quote,omitempty"`
}

// CitedImage is a reference work bound to a dimension.
type CitedImage struct {
	ID        string             `json:"id"`
	AdvisorID string             `json:"advisor_id"`
	ImageRef  string             `json:"image_ref"`
	Title     string             `json:"title,omitempty"`
	Source    string             `json:"source,omitempty"`
	Year      int                `json:"year,omitempty"`
	Rank      int                `json:"rank"`
	Distance  float64            `json:"distance"`
	Delta     map[string]float64 `json:"delta"`
}

// CitedQuote is an advisor passage bound to a dimension.
type CitedQuote struct {
	ID        string `json:"id"`
	PassageID string `json:"passage_id"`
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
	Year      int    `json:"year,omitempty"`
}

// DroppedCitation records a citation token removed during resolution.
type DroppedCitation struct {
	Dimension string `json:"dimension"`
	Kind      string `json:"kind"`
	Token     string `json:"token"`
	Reason    string `json:"reason"`
}

// CritiqueResult is the payload persisted on a done job.
type CritiqueResult struct {
	Critique
	EffectiveMode    Mode               `json:"effective_mode"`
	ParsePath        string             `json:"parse_path"`
	Fallback         string             `json:"fallback,omitempty"`
	UserScores       map[string]float64 `json:"user_scores,omitempty"`
	DroppedCitations []DroppedCitation  `json:"dropped_citations,omitempty"`
}

// Profile derives a dimensional profile from the critique. Scores stays nil
// unless every one of the eight dimensions carries a valid score.
func (c *Critique) Profile(advisorID, imageRef string) *DimensionalProfile {
	p := &DimensionalProfile{
		AdvisorID:    advisorID,
		ImageRef:     imageRef,
		OverallGrade: c.OverallScore,
		Description:  c.ImageDescription,
	}
	var partial [NumDimensions]*float64
	for _, dc := range c.Dimensions {
		d, ok := LookupDimension(dc.Name)
		if !ok {
			continue
		}
		partial[d] = dc.Score
		p.Comments[d] = dc.Comment
	}
	scores, err := ScoresFromPartial(partial)
	if err == nil {
		p.Scores = scores
	}
	return p
}
