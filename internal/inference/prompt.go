package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// SystemPrompt frames every critique request.
const SystemPrompt = `You are a photography mentor. You critique photographs along a fixed rubric and always answer with a single JSON object and nothing else.`

// Prompt renders the user instruction for one inference pass. When req carries
// a citation context the candidates and their citation limits are appended.
func Prompt(req models.InferenceRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Critique the attached photograph in the voice and standards of advisor %q.\n", req.AdvisorID)
	b.WriteString("Score each of these dimensions from 0 to 10:\n")
	for _, d := range models.Dimensions {
		fmt.Fprintf(&b, "- %s (%s)\n", d.Key(), d.Title())
	}
	b.WriteString(`
Respond with JSON of this shape:
{
  "image_description": "what the photograph shows",
  "dimensions": [
    {"name": "composition", "score": 7.5, "comment": "...", "recommendation": "..."}
  ],
  "overall_score": 7.0,
  "summary": "..."
}
Include all eight dimensions. Scores are plain numbers.
`)

	if req.Context == nil {
		return b.String()
	}

	b.WriteString("\n")
	b.WriteString(req.Context.Instruction)
	b.WriteString("\n\nReference images:\n")
	for _, img := range req.Context.Images {
		b.WriteString(renderImageCandidate(img))
		b.WriteByte('\n')
	}
	if len(req.Context.Quotes) > 0 {
		b.WriteString("\nAdvisor passages:\n")
		for _, q := range req.Context.Quotes {
			b.WriteString(renderQuoteCandidate(q))
			b.WriteByte('\n')
		}
	}
	b.WriteString(`
To cite, add "image_citation": "<id>" and/or "quote_citation": "<id>" to a dimension object,
and add a "comparative_note" string at the top level.
`)
	return b.String()
}

type promptImage struct {
	ID       string             `json:"id"`
	Title    string             `json:"title,omitempty"`
	Year     int                `json:"year,omitempty"`
	Distance float64            `json:"distance"`
	Scores   map[string]float64 `json:"scores,omitempty"`
	Delta    map[string]float64 `json:"delta"`
	Notes    map[string]string  `json:"notes,omitempty"`
}

func renderImageCandidate(c models.ImageCandidate) string {
	p := promptImage{
		ID:       c.ID,
		Title:    c.Profile.Title,
		Year:     c.Profile.Year,
		Distance: c.Distance,
		Delta:    c.Delta,
	}
	if c.Profile.Scores != nil {
		p.Scores = c.Profile.Scores.Map()
	}
	for _, d := range models.Dimensions {
		if note := c.Profile.Comments[d]; note != "" {
			if p.Notes == nil {
				p.Notes = make(map[string]string)
			}
			p.Notes[d.Key()] = note
		}
	}
	out, _ := json.Marshal(p)
	return string(out)
}

func renderQuoteCandidate(c models.QuoteCandidate) string {
	out, _ := json.Marshal(struct {
		ID     string `json:"id"`
		Text   string `json:"text"`
		Source string `json:"source,omitempty"`
	}{c.ID, c.Passage.Text, c.Passage.Source})
	return string(out)
}
