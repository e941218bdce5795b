package citation_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/kiranshivaraju/mentorlens/internal/citation"
	"github.com/kiranshivaraju/mentorlens/internal/retrieval"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(images, quotes int) *citation.Pool {
	var matches []retrieval.Match
	for i := 0; i < images; i++ {
		matches = append(matches, retrieval.Match{
			Profile:  &models.DimensionalProfile{AdvisorID: "adams", ImageRef: fmt.Sprintf("ref-%d.jpg", i+1), Title: fmt.Sprintf("Work %d", i+1)},
			Rank:     i + 1,
			Distance: float64(i) + 0.5,
		})
	}
	var passages []*models.Passage
	for i := 0; i < quotes; i++ {
		passages = append(passages, &models.Passage{ID: fmt.Sprintf("p%d", i+1), AdvisorID: "adams", Text: fmt.Sprintf("quote %d", i+1)})
	}
	return citation.NewPool(matches, passages)
}

func dims(images ...any) *models.Critique {
	c := &models.Critique{}
	for i, img := range images {
		c.Dimensions = append(c.Dimensions, models.DimensionCritique{
			Name:          models.Dimensions[i%models.NumDimensions].Key(),
			ImageCitation: img,
		})
	}
	return c
}

func TestNewPool_AssignsTokens(t *testing.T) {
	p := testPool(2, 3)

	require.Len(t, p.Images(), 2)
	require.Len(t, p.Quotes(), 3)
	assert.Equal(t, "IMG_1", p.Images()[0].ID)
	assert.Equal(t, "ref-2.jpg", p.Images()[1].Profile.ImageRef)
	assert.Equal(t, "QUOTE_3", p.Quotes()[2].ID)
	assert.False(t, p.Empty())
	assert.True(t, citation.NewPool(nil, nil).Empty())
}

func TestPool_Context(t *testing.T) {
	ctx := testPool(1, 1).Context(citation.Limits{MaxImages: 2, MaxQuotes: 1})

	assert.Equal(t, 2, ctx.MaxImageCitations)
	assert.Equal(t, 1, ctx.MaxQuoteCitations)
	assert.Contains(t, ctx.Instruction, "at most 2 reference images")
	assert.Contains(t, ctx.Instruction, "at most 1 quotes")
	require.Len(t, ctx.Images, 1)
	require.Len(t, ctx.Quotes, 1)
}

func TestResolve_DuplicateDroppedFromSecond(t *testing.T) {
	c := dims("IMG_2", "IMG_2")

	dropped := citation.Resolve(c, testPool(3, 0), citation.DefaultLimits)

	require.NotNil(t, c.Dimensions[0].CitedImage)
	assert.Equal(t, "IMG_2", c.Dimensions[0].CitedImage.ID)
	assert.Equal(t, "ref-2.jpg", c.Dimensions[0].CitedImage.ImageRef)
	assert.Equal(t, "IMG_2", c.Dimensions[0].ImageCitation)

	assert.Nil(t, c.Dimensions[1].CitedImage)
	assert.Nil(t, c.Dimensions[1].ImageCitation)

	require.Len(t, dropped, 1)
	assert.Equal(t, citation.ReasonDuplicate, dropped[0].Reason)
	assert.Equal(t, c.Dimensions[1].Name, dropped[0].Dimension)
	assert.Equal(t, citation.KindImage, dropped[0].Kind)
}

func TestResolve_TypeCheck(t *testing.T) {
	c := dims(float64(2), nil, "", []any{"IMG_1"})

	dropped := citation.Resolve(c, testPool(3, 0), citation.DefaultLimits)

	require.Len(t, dropped, 2)
	assert.Equal(t, citation.ReasonNotAString, dropped[0].Reason)
	assert.Equal(t, "2", dropped[0].Token)
	assert.Equal(t, citation.ReasonNotAString, dropped[1].Reason)
	for _, dc := range c.Dimensions {
		assert.Nil(t, dc.CitedImage)
		assert.Nil(t, dc.ImageCitation)
	}
}

func TestResolve_LookupCheck(t *testing.T) {
	c := dims("IMG_9", "QUOTE_1", " [img_1] ")

	dropped := citation.Resolve(c, testPool(2, 1), citation.DefaultLimits)

	require.Len(t, dropped, 2)
	assert.Equal(t, citation.ReasonUnknownID, dropped[0].Reason)
	assert.Equal(t, "IMG_9", dropped[0].Token)
	assert.Equal(t, citation.ReasonUnknownID, dropped[1].Reason)

	require.NotNil(t, c.Dimensions[2].CitedImage)
	assert.Equal(t, "IMG_1", c.Dimensions[2].CitedImage.ID)
	assert.Equal(t, "IMG_1", c.Dimensions[2].ImageCitation)
}

func TestResolve_CapReached(t *testing.T) {
	c := dims("IMG_1", "IMG_2", "IMG_3", "IMG_4")

	dropped := citation.Resolve(c, testPool(5, 0), citation.Limits{MaxImages: 2, MaxQuotes: 2})

	assert.NotNil(t, c.Dimensions[0].CitedImage)
	assert.NotNil(t, c.Dimensions[1].CitedImage)
	assert.Nil(t, c.Dimensions[2].CitedImage)
	assert.Nil(t, c.Dimensions[3].CitedImage)
	require.Len(t, dropped, 2)
	for _, d := range dropped {
		assert.Equal(t, citation.ReasonCapReached, d.Reason)
	}
}

func TestResolve_QuotesBindIndependently(t *testing.T) {
	c := &models.Critique{Dimensions: []models.DimensionCritique{
		{Name: "composition", ImageCitation: "IMG_1", QuoteCitation: "QUOTE_1"},
		{Name: "lighting", ImageCitation: "QUOTE_1", QuoteCitation: "QUOTE_2"},
	}}

	dropped := citation.Resolve(c, testPool(1, 2), citation.DefaultLimits)

	require.NotNil(t, c.Dimensions[0].CitedQuote)
	assert.Equal(t, "p1", c.Dimensions[0].CitedQuote.PassageID)
	assert.Equal(t, "quote 1", c.Dimensions[0].CitedQuote.Text)
	require.NotNil(t, c.Dimensions[1].CitedQuote)
	assert.Equal(t, "p2", c.Dimensions[1].CitedQuote.PassageID)

	// A quote token is not valid in the image pool.
	assert.Nil(t, c.Dimensions[1].CitedImage)
	require.Len(t, dropped, 1)
	assert.Equal(t, citation.ReasonUnknownID, dropped[0].Reason)
	assert.Equal(t, citation.KindImage, dropped[0].Kind)
}

func TestResolve_NilPoolDropsEverything(t *testing.T) {
	c := dims("IMG_1")
	dropped := citation.Resolve(c, nil, citation.DefaultLimits)
	require.Len(t, dropped, 1)
	assert.Nil(t, c.Dimensions[0].CitedImage)
}

func TestResolve_ClearsStaleBindings(t *testing.T) {
	c := &models.Critique{Dimensions: []models.DimensionCritique{
		{Name: "focus", CitedImage: &models.CitedImage{ID: "IMG_7"}},
	}}
	citation.Resolve(c, testPool(1, 0), citation.DefaultLimits)
	assert.Nil(t, c.Dimensions[0].CitedImage)
}

func TestResolve_UniquenessAndCardinalityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tokens := []any{"IMG_1", "IMG_2", "IMG_3", "IMG_4", "img_2", "QUOTE_1", "QUOTE_2", "QUOTE_5", 3, nil, true, ""}
	limits := citation.Limits{MaxImages: 3, MaxQuotes: 2}

	for iter := 0; iter < 500; iter++ {
		c := &models.Critique{}
		for d := 0; d < models.NumDimensions; d++ {
			c.Dimensions = append(c.Dimensions, models.DimensionCritique{
				Name:          models.Dimensions[d].Key(),
				ImageCitation: tokens[rng.Intn(len(tokens))],
				QuoteCitation: tokens[rng.Intn(len(tokens))],
			})
		}

		citation.Resolve(c, testPool(4, 3), limits)

		seenImages := map[string]bool{}
		seenQuotes := map[string]bool{}
		for _, dc := range c.Dimensions {
			if dc.CitedImage != nil {
				require.False(t, seenImages[dc.CitedImage.ID], "image %s bound twice", dc.CitedImage.ID)
				seenImages[dc.CitedImage.ID] = true
			}
			if dc.CitedQuote != nil {
				require.False(t, seenQuotes[dc.CitedQuote.ID], "quote %s bound twice", dc.CitedQuote.ID)
				seenQuotes[dc.CitedQuote.ID] = true
			}
		}
		require.LessOrEqual(t, len(seenImages), limits.MaxImages)
		require.LessOrEqual(t, len(seenQuotes), limits.MaxQuotes)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "IMG_2", citation.Normalize(" [img_2] "))
	assert.Equal(t, "QUOTE_1", citation.Normalize("QUOTE_1"))
}
