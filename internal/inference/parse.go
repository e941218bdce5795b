package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Parse paths reported alongside a parsed critique.
const (
	ParseStrict   = "strict"
	ParseRepaired = "repaired"
)

// Parse decodes generator output into a Critique. It first tries a strict
// decode; on failure it runs one tolerant repair pass (code fences, trailing
// content, trailing commas, numeric literals such as "7/10" or ".5", and
// truncated output) and reports which path succeeded. Both paths require all
// eight dimensions. A result that fails both wraps ErrMalformedResult.
func Parse(raw string) (*models.Critique, string, error) {
	var strict models.Critique
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &strict); err == nil {
		if err := validateCritique(&strict); err == nil {
			return &strict, ParseStrict, nil
		}
	}

	repaired, ok := repairJSON(raw)
	if !ok {
		return nil, "", fmt.Errorf("%w: no JSON object in output", ErrMalformedResult)
	}
	c, err := decodeLenient(repaired)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if err := validateCritique(c); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return c, ParseRepaired, nil
}

// validateCritique requires exactly one entry for each of the eight
// dimensions. Scores may still be null; such a critique yields an unscored
// profile.
func validateCritique(c *models.Critique) error {
	if len(c.Dimensions) == 0 {
		return fmt.Errorf("no dimensions")
	}
	var seen [models.NumDimensions]bool
	for _, d := range c.Dimensions {
		dim, ok := models.LookupDimension(d.Name)
		if !ok {
			return fmt.Errorf("unknown dimension %q", d.Name)
		}
		if seen[dim] {
			return fmt.Errorf("dimension %q listed twice", d.Name)
		}
		seen[dim] = true
	}
	var missing []string
	for _, d := range models.Dimensions {
		if !seen[d] {
			missing = append(missing, d.Key())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dimensions: %s", strings.Join(missing, ", "))
	}
	return nil
}

type lenientCritique struct {
	ImageDescription string          `json:"image_description"`
	Description      string          `json:"description"`
	Dimensions       json.RawMessage `json:"dimensions"`
	OverallScore     lenientScore    `json:"overall_score"`
	Summary          string          `json:"summary"`
	ComparativeNote  string          `json:"comparative_note"`
}

type lenientDimension struct {
	Name           string       `json:"name"`
	Score          lenientScore `json:"score"`
	Comment        string       `json:"comment"`
	Recommendation string       `json:"recommendation"`
	ImageCitation  any          `json:"image_citation"`
	QuoteCitation  any          `json:"quote_citation"`
}

func (d lenientDimension) critique() models.DimensionCritique {
	return models.DimensionCritique{
		Name:           d.Name,
		Score:          d.Score.v,
		Comment:        d.Comment,
		Recommendation: d.Recommendation,
		ImageCitation:  d.ImageCitation,
		QuoteCitation:  d.QuoteCitation,
	}
}

// lenientScore accepts a number, a numeric string, or a ratio such as "7/10".
// Anything else decodes as missing.
type lenientScore struct {
	v *float64
}

func (s *lenientScore) UnmarshalJSON(b []byte) error {
	var x any
	if err := json.Unmarshal(b, &x); err != nil {
		return err
	}
	switch v := x.(type) {
	case float64:
		s.v = &v
	case string:
		if f, ok := parseScoreText(v); ok {
			s.v = &f
		}
	}
	return nil
}

var ratioPattern = regexp.MustCompile(`^\s*(-?\d*\.?\d+)\s*(?:/|out of)\s*(\d*\.?\d+)\s*$`)

func parseScoreText(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	m := ratioPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	num, err1 := strconv.ParseFloat(m[1], 64)
	den, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return scaleRatio(num, den)
}

// scaleRatio maps num/den onto the 0-10 rubric scale.
func scaleRatio(num, den float64) (float64, bool) {
	if den <= 0 {
		return 0, false
	}
	if den == 10 {
		return num, true
	}
	return math.Round(num*1000/den) / 100, true
}

func decodeLenient(raw string) (*models.Critique, error) {
	var lc lenientCritique
	if err := json.Unmarshal([]byte(raw), &lc); err != nil {
		return nil, err
	}
	c := &models.Critique{
		ImageDescription: lc.ImageDescription,
		OverallScore:     lc.OverallScore.v,
		Summary:          lc.Summary,
		ComparativeNote:  lc.ComparativeNote,
	}
	if c.ImageDescription == "" {
		c.ImageDescription = lc.Description
	}

	dims := bytes.TrimSpace(lc.Dimensions)
	switch {
	case len(dims) == 0 || bytes.Equal(dims, []byte("null")):
	case dims[0] == '[':
		var list []lenientDimension
		if err := json.Unmarshal(dims, &list); err != nil {
			return nil, fmt.Errorf("dimensions: %w", err)
		}
		for _, d := range list {
			// Truncation repair can leave a trailing empty object.
			if d.Name == "" {
				continue
			}
			c.Dimensions = append(c.Dimensions, d.critique())
		}
	case dims[0] == '{':
		byName, err := decodeDimensionObject(dims)
		if err != nil {
			return nil, err
		}
		c.Dimensions = byName
	default:
		return nil, fmt.Errorf("dimensions: unexpected %q", dims[:1])
	}
	return c, nil
}

// decodeDimensionObject handles {"composition": {...}, "lighting": 7, ...}.
func decodeDimensionObject(raw []byte) ([]models.DimensionCritique, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("dimensions: %w", err)
	}
	out := make([]models.DimensionCritique, 0, len(m))
	for name, v := range m {
		var d lenientDimension
		if err := json.Unmarshal(v, &d); err != nil {
			var s lenientScore
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("dimension %q: %w", name, err)
			}
			d.Score = s
		}
		if d.Name == "" {
			d.Name = name
		}
		out = append(out, d.critique())
	}
	sort.SliceStable(out, func(a, b int) bool {
		da, okA := models.LookupDimension(out[a].Name)
		db, okB := models.LookupDimension(out[b].Name)
		switch {
		case okA && okB:
			return da < db
		case okA != okB:
			return okA
		default:
			return out[a].Name < out[b].Name
		}
	})
	return out, nil
}

type repairCut struct {
	n     int
	stack []byte
}

// repairJSON extracts the first JSON object from raw and rewrites the common
// generator mistakes outside string literals. The bool is false when raw
// holds no object at all.
func repairJSON(raw string) (string, bool) {
	s := stripFences(raw)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	s = s[start:]

	var (
		out      strings.Builder
		stack    []byte
		inString bool
		escaped  bool
		last     repairCut
	)
	snapshot := func() {
		last = repairCut{n: out.Len(), stack: append([]byte(nil), stack...)}
	}

	for i := 0; i < len(s); {
		c := s[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			i++
			continue
		}

		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
			i++
		case c == '{' || c == '[':
			stack = append(stack, c)
			out.WriteByte(c)
			snapshot()
			i++
		case c == '}' || c == ']':
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			out.WriteByte(closerOf(open))
			i++
			if len(stack) == 0 {
				// Anything after the outermost object is chatter.
				return out.String(), true
			}
			snapshot()
		case c == ',':
			j := skipSpace(s, i+1)
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				i++
				continue
			}
			snapshot()
			out.WriteByte(c)
			i++
		case c == '-' || c == '.' || isDigit(c):
			n := scanNumber(s, i)
			tok := s[i:n]
			i = n
			if j := skipSpace(s, n); j < len(s) && s[j] == '/' {
				k := skipSpace(s, j+1)
				if m := scanNumber(s, k); m > k {
					if v, ok := ratioLiteral(tok, s[k:m]); ok {
						out.WriteString(v)
						i = m
						continue
					}
				}
			}
			out.WriteString(normalizeNumber(tok))
		default:
			out.WriteByte(c)
			i++
		}
	}

	// Output ended inside the object: close it in place if that parses,
	// otherwise fall back to the last complete value.
	body := out.String()
	if inString {
		if escaped {
			body = body[:len(body)-1]
		}
		body += `"`
	}
	candidate := strings.TrimRight(body, " \t\r\n")
	candidate = strings.TrimSuffix(candidate, ",")
	if strings.HasSuffix(candidate, ":") {
		candidate += "null"
	}
	candidate += closers(stack)
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	if last.n > 0 {
		return out.String()[:last.n] + closers(last.stack), true
	}
	return "", false
}

func stripFences(s string) string {
	i := strings.Index(s, "```")
	if i < 0 {
		return s
	}
	rest := s[i+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	if j := strings.Index(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func closerOf(open byte) byte {
	if open == '[' {
		return ']'
	}
	return '}'
}

func closers(stack []byte) string {
	b := make([]byte, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		b = append(b, closerOf(stack[i]))
	}
	return string(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

func scanNumber(s string, i int) int {
	for i < len(s) {
		c := s[i]
		if isDigit(c) || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			i++
			continue
		}
		break
	}
	return i
}

// normalizeNumber rewrites literals JSON rejects (".5", "5.", "07") into
// canonical form. Unparseable tokens pass through unchanged.
func normalizeNumber(tok string) string {
	if json.Valid([]byte(tok)) {
		return tok
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return tok
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func ratioLiteral(num, den string) (string, bool) {
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil {
		return "", false
	}
	v, ok := scaleRatio(n, d)
	if !ok {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}
