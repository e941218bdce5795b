// Package citation assigns request-scoped citation tokens to retrieved
// candidates and binds the tokens a generator emits back to those candidates.
package citation

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/mentorlens/internal/retrieval"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Citation kinds.
const (
	KindImage = "image"
	KindQuote = "quote"
)

// Drop reasons, in the order the checks run.
const (
	ReasonNotAString = "not_a_string"
	ReasonUnknownID  = "unknown_id"
	ReasonDuplicate  = "duplicate"
	ReasonCapReached = "cap_reached"
)

const (
	imagePrefix = "IMG_"
	quotePrefix = "QUOTE_"
)

// Limits caps the number of accepted citations per kind across one result.
type Limits struct {
	MaxImages int
	MaxQuotes int
}

// DefaultLimits allows three citations of each kind.
var DefaultLimits = Limits{MaxImages: 3, MaxQuotes: 3}

// Pool holds the candidates offered to one second-pass request, keyed by the
// token assigned to each.
type Pool struct {
	images  []models.ImageCandidate
	quotes  []models.QuoteCandidate
	imageIx map[string]int
	quoteIx map[string]int
}

// NewPool numbers matches as IMG_1..IMG_n in rank order and passages as
// QUOTE_1..QUOTE_m in the order given.
func NewPool(matches []retrieval.Match, passages []*models.Passage) *Pool {
	p := &Pool{
		images:  make([]models.ImageCandidate, 0, len(matches)),
		quotes:  make([]models.QuoteCandidate, 0, len(passages)),
		imageIx: make(map[string]int, len(matches)),
		quoteIx: make(map[string]int, len(passages)),
	}
	for i, m := range matches {
		if m.Profile == nil {
			continue
		}
		id := fmt.Sprintf("%s%d", imagePrefix, len(p.images)+1)
		p.imageIx[id] = len(p.images)
		p.images = append(p.images, models.ImageCandidate{
			ID:       id,
			Profile:  *m.Profile,
			Rank:     rankOf(m, i),
			Distance: m.Distance,
			Delta:    m.Delta.Map(),
		})
	}
	for _, ps := range passages {
		if ps == nil {
			continue
		}
		id := fmt.Sprintf("%s%d", quotePrefix, len(p.quotes)+1)
		p.quoteIx[id] = len(p.quotes)
		p.quotes = append(p.quotes, models.QuoteCandidate{ID: id, Passage: *ps})
	}
	return p
}

func rankOf(m retrieval.Match, i int) int {
	if m.Rank > 0 {
		return m.Rank
	}
	return i + 1
}

// Images returns the image candidates in token order.
func (p *Pool) Images() []models.ImageCandidate { return p.images }

// Quotes returns the quote candidates in token order.
func (p *Pool) Quotes() []models.QuoteCandidate { return p.quotes }

// Empty reports whether there is nothing to cite.
func (p *Pool) Empty() bool {
	return p == nil || (len(p.images) == 0 && len(p.quotes) == 0)
}

// Context renders the pool as the citation payload of a second-pass request.
func (p *Pool) Context(l Limits) *models.CitationContext {
	return &models.CitationContext{
		Instruction: fmt.Sprintf(
			"You may cite at most %d reference images and at most %d quotes in the whole critique. "+
				"Each dimension may carry at most one image_citation and one quote_citation. "+
				"Never cite the same ID twice. Only use IDs listed below, written exactly as given (e.g. %s1).",
			l.MaxImages, l.MaxQuotes, imagePrefix),
		MaxImageCitations: l.MaxImages,
		MaxQuoteCitations: l.MaxQuotes,
		Images:            p.images,
		Quotes:            p.quotes,
	}
}

// Resolve validates every citation token in c against pool and binds the
// accepted ones in place. Rejected tokens are removed from their dimension
// and returned. Resolve never fails; a nil pool drops every citation.
func Resolve(c *models.Critique, pool *Pool, l Limits) []models.DroppedCitation {
	if pool == nil {
		pool = NewPool(nil, nil)
	}
	r := resolver{
		pool:       pool,
		limits:     l,
		usedImages: make(map[string]bool),
		usedQuotes: make(map[string]bool),
	}
	for i := range c.Dimensions {
		dc := &c.Dimensions[i]
		r.resolveImage(dc)
		r.resolveQuote(dc)
	}
	return r.dropped
}

type resolver struct {
	pool       *Pool
	limits     Limits
	usedImages map[string]bool
	usedQuotes map[string]bool
	dropped    []models.DroppedCitation
}

func (r *resolver) resolveImage(dc *models.DimensionCritique) {
	dc.CitedImage = nil
	id, ok := r.check(dc.Name, KindImage, dc.ImageCitation, r.pool.imageIx, r.usedImages, r.limits.MaxImages)
	if !ok {
		dc.ImageCitation = nil
		return
	}
	cand := r.pool.images[r.pool.imageIx[id]]
	dc.ImageCitation = id
	dc.CitedImage = &models.CitedImage{
		ID:        id,
		AdvisorID: cand.Profile.AdvisorID,
		ImageRef:  cand.Profile.ImageRef,
		Title:     cand.Profile.Title,
		Source:    cand.Profile.Source,
		Year:      cand.Profile.Year,
		Rank:      cand.Rank,
		Distance:  cand.Distance,
		Delta:     cand.Delta,
	}
}

func (r *resolver) resolveQuote(dc *models.DimensionCritique) {
	dc.CitedQuote = nil
	id, ok := r.check(dc.Name, KindQuote, dc.QuoteCitation, r.pool.quoteIx, r.usedQuotes, r.limits.MaxQuotes)
	if !ok {
		dc.QuoteCitation = nil
		return
	}
	cand := r.pool.quotes[r.pool.quoteIx[id]]
	dc.QuoteCitation = id
	dc.CitedQuote = &models.CitedQuote{
		ID:        id,
		PassageID: cand.Passage.ID,
		Text:      cand.Passage.Text,
		Source:    cand.Passage.Source,
		Year:      cand.Passage.Year,
	}
}

// check runs the type, lookup, uniqueness and cap checks on one raw token and
// returns the canonical ID when it is accepted. An absent token (nil or an
// empty string) is not a drop.
func (r *resolver) check(dimension, kind string, raw any, index map[string]int, used map[string]bool, max int) (string, bool) {
	if raw == nil {
		return "", false
	}
	s, isString := raw.(string)
	if !isString {
		r.drop(dimension, kind, fmt.Sprint(raw), ReasonNotAString)
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}

	id := Normalize(s)
	if _, known := index[id]; !known {
		r.drop(dimension, kind, s, ReasonUnknownID)
		return "", false
	}
	if used[id] {
		r.drop(dimension, kind, s, ReasonDuplicate)
		return "", false
	}
	if len(used) >= max {
		r.drop(dimension, kind, s, ReasonCapReached)
		return "", false
	}
	used[id] = true
	return id, true
}

func (r *resolver) drop(dimension, kind, token, reason string) {
	slog.Debug("dropping citation", "dimension", dimension, "kind", kind, "token", token, "reason", reason)
	r.dropped = append(r.dropped, models.DroppedCitation{
		Dimension: dimension,
		Kind:      kind,
		Token:     token,
		Reason:    reason,
	})
}

// Normalize canonicalizes a citation token: surrounding whitespace and
// brackets are removed and letters upper-cased, so "[img_2]" reads as IMG_2.
func Normalize(token string) string {
	t := strings.TrimSpace(token)
	t = strings.Trim(t, "[]")
	return strings.ToUpper(strings.TrimSpace(t))
}
