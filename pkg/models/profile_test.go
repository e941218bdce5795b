package models_test

import (
	"testing"

	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestLookupDimension(t *testing.T) {
	tests := map[string]models.Dimension{
		"composition":         models.DimComposition,
		"Lighting":            models.DimLighting,
		"Focus & Sharpness":   models.DimFocus,
		"sharpness":           models.DimFocus,
		"Color Harmony":       models.DimColor,
		"subject isolation":   models.DimIsolation,
		"Depth & Perspective": models.DimDepth,
		"visual_balance":      models.DimBalance,
		"Emotional Impact":    models.DimEmotion,
	}
	for name, want := range tests {
		got, ok := models.LookupDimension(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := models.LookupDimension("texture")
	assert.False(t, ok)
}

func TestScoresFromPartial_AllPresent(t *testing.T) {
	var partial [models.NumDimensions]*float64
	for i := range partial {
		partial[i] = f(float64(i))
	}
	v, err := models.ScoresFromPartial(partial)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 7.0, v.Get(models.DimEmotion))
}

func TestScoresFromPartial_MissingIsUnscored(t *testing.T) {
	var partial [models.NumDimensions]*float64
	for i := range partial {
		partial[i] = f(5)
	}
	partial[models.DimDepth] = nil

	v, err := models.ScoresFromPartial(partial)
	require.NoError(t, err)
	assert.Nil(t, v, "a partially scored profile must be treated as unscored, not zero-filled")
}

func TestScoresFromPartial_OutOfRange(t *testing.T) {
	var partial [models.NumDimensions]*float64
	for i := range partial {
		partial[i] = f(5)
	}
	partial[models.DimColor] = f(11)

	_, err := models.ScoresFromPartial(partial)
	assert.ErrorContains(t, err, "color")
}

func TestScoresFromMap_UnknownDimension(t *testing.T) {
	_, err := models.ScoresFromMap(map[string]*float64{"texture": f(3)})
	assert.Error(t, err)
}

func TestCritiqueProfile(t *testing.T) {
	c := models.Critique{ImageDescription: "harbour at dusk", OverallScore: f(7.5)}
	for _, d := range models.Dimensions {
		c.Dimensions = append(c.Dimensions, models.DimensionCritique{
			Name: d.Title(), Score: f(6), Comment: "ok " + d.Key(),
		})
	}

	p := c.Profile("adams", "upload/a.jpg")
	require.True(t, p.Scored())
	assert.Equal(t, "ok lighting", p.Comments[models.DimLighting])
	assert.Equal(t, "harbour at dusk", p.Description)

	c.Dimensions[3].Score = nil
	assert.False(t, c.Profile("adams", "upload/a.jpg").Scored())
}
