package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

func TestAnimal(t *testing.T) {
	e := Default()
	cases := map[string]string{
		"Sweet Beef Jerky":              "beef",
		"Turkey Bacon Strips":           "turkey",
		"Smoked SALMON Jerky":           "salmon",
		"Ahi Tuna Teriyaki":             "tuna",
		"Wild Boar & Beef Sticks":       "boar",
		"Buffalo Original":              "bison",
		"Hamburger Helper":              "other",
		"Peppered Steak Bites":          "beef",
		"Chickenless Mushroom Jerky":    "other",
		"Deer Camp Hot Venison Nuggets": "venison",
	}
	for title, want := range cases {
		assert.Equal(t, want, e.Animal(title).Type, title)
	}
}

func TestAnimalDisplayIsSpeciesSpecific(t *testing.T) {
	e := Default()
	assert.Equal(t, "Salmon", e.Animal("salmon jerky").Display)
	assert.Equal(t, "Tuna", e.Animal("tuna jerky").Display)
}

func flavorKeys(fs []Flavor) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Key
	}
	return out
}

func TestFlavorsOrderedByTitlePosition(t *testing.T) {
	e := Default()
	assert.Equal(t, []string{"sweet"}, flavorKeys(e.Flavors("Sweet Beef Jerky")))
	assert.Equal(t, []string{"spicy", "sweet"}, flavorKeys(e.Flavors("Hot & Honey Pork")))
	assert.Equal(t, []string{"smoky", "peppered", "garlic"},
		flavorKeys(e.Flavors("Hickory Smoked Black Pepper Garlic Beef")))
	assert.Equal(t, []string{"original"}, flavorKeys(e.Flavors("Beef Jerky")))
	assert.Equal(t, []string{"spicy"}, flavorKeys(e.Flavors("JALAPEÑO Turkey")))
}

func TestClassify(t *testing.T) {
	info := domain.ProductInfo{Title: "Teriyaki Sweet Chicken"}
	Default().Classify(&info)
	assert.Equal(t, "chicken", info.AnimalType)
	assert.Equal(t, "Chicken", info.AnimalDisplay)
	assert.Equal(t, "teriyaki", info.PrimaryFlavor)
	assert.Equal(t, "Teriyaki", info.FlavorDisplay)
	assert.Equal(t, []string{"sweet"}, info.SecondaryFlavors)

	plain := domain.ProductInfo{Title: "Beef"}
	Default().Classify(&plain)
	assert.Equal(t, "original", plain.PrimaryFlavor)
	assert.Equal(t, []string{}, plain.SecondaryFlavors)
}

func TestNewRejectsMissingDefaultFlavor(t *testing.T) {
	_, err := New([]byte("flavors: [{key: sweet, keywords: [sweet]}]\ndefault_flavor: original\n"))
	require.Error(t, err)
}

func TestHasTag(t *testing.T) {
	assert.True(t, HasTag("featured, Rankable", "rankable"))
	assert.True(t, HasTag("RANKABLE", "rankable"))
	assert.True(t, HasTag("new rankable  sale", "rankable"))
	assert.False(t, HasTag("featured, spicy", "rankable"))
	assert.False(t, HasTag("unrankable", "rankable"))
	assert.False(t, HasTag("", "rankable"))
}
