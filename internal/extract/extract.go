// Package extract derives animal and flavor classification from product
// titles using fixed keyword tables.
package extract

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

//go:embed tables.yaml
var defaultTables []byte

type Animal struct {
	Type     string   `yaml:"type"`
	Display  string   `yaml:"display"`
	Icon     string   `yaml:"icon"`
	Keywords []string `yaml:"keywords"`
}

type Flavor struct {
	Key      string   `yaml:"key"`
	Display  string   `yaml:"display"`
	Icon     string   `yaml:"icon"`
	Keywords []string `yaml:"keywords"`
}

type tables struct {
	Animals       []Animal `yaml:"animals"`
	DefaultAnimal Animal   `yaml:"default_animal"`
	Flavors       []Flavor `yaml:"flavors"`
	DefaultFlavor string   `yaml:"default_flavor"`
}

type phrase []string

type Extractor struct {
	animals       []Animal
	animalWords   [][]phrase
	defaultAnimal Animal
	flavors       []Flavor
	flavorWords   [][]phrase
	defaultFlavor Flavor
}

// New parses keyword tables in YAML.
func New(raw []byte) (*Extractor, error) {
	var t tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse extractor tables: %w", err)
	}
	e := &Extractor{animals: t.Animals, defaultAnimal: t.DefaultAnimal, flavors: t.Flavors}
	for _, a := range t.Animals {
		e.animalWords = append(e.animalWords, phrases(a.Keywords))
	}
	found := false
	for _, f := range t.Flavors {
		e.flavorWords = append(e.flavorWords, phrases(f.Keywords))
		if f.Key == t.DefaultFlavor {
			e.defaultFlavor = f
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("default flavor %q not in table", t.DefaultFlavor)
	}
	return e, nil
}

// Default returns the extractor over the built-in tables.
func Default() *Extractor {
	e, err := New(defaultTables)
	if err != nil {
		panic(err)
	}
	return e
}

func phrases(keywords []string) []phrase {
	out := make([]phrase, 0, len(keywords))
	for _, k := range keywords {
		if w := words(k); len(w) > 0 {
			out = append(out, w)
		}
	}
	return out
}

// words case-folds s and splits it on anything that is not a letter or digit.
func words(s string) []string {
	folded := cases.Fold().String(s)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// firstIndex returns the first word position where any phrase starts, or -1.
func firstIndex(title []string, ps []phrase) int {
	best := -1
	for _, p := range ps {
		for i := 0; i+len(p) <= len(title); i++ {
			if best >= 0 && i >= best {
				break
			}
			if matchAt(title, i, p) {
				best = i
				break
			}
		}
	}
	return best
}

func matchAt(title []string, i int, p phrase) bool {
	for j, w := range p {
		if title[i+j] != w {
			return false
		}
	}
	return true
}

// Animal returns the first table entry whose keyword appears in title.
func (e *Extractor) Animal(title string) Animal {
	w := words(title)
	for i, ps := range e.animalWords {
		if firstIndex(w, ps) >= 0 {
			return e.animals[i]
		}
	}
	return e.defaultAnimal
}

// Flavors returns every matching flavor ordered by where it first appears
// in title. The result is never empty.
func (e *Extractor) Flavors(title string) []Flavor {
	w := words(title)
	type hit struct {
		pos, idx int
	}
	var hits []hit
	for i, ps := range e.flavorWords {
		if pos := firstIndex(w, ps); pos >= 0 {
			hits = append(hits, hit{pos, i})
		}
	}
	if len(hits) == 0 {
		return []Flavor{e.defaultFlavor}
	}
	// Insertion sort keeps table order for flavors starting at the same word.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]Flavor, len(hits))
	for i, h := range hits {
		out[i] = e.flavors[h.idx]
	}
	return out
}

// Classify fills the derived animal and flavor fields of info from its title.
func (e *Extractor) Classify(info *domain.ProductInfo) {
	a := e.Animal(info.Title)
	info.AnimalType, info.AnimalDisplay, info.AnimalIcon = a.Type, a.Display, a.Icon

	flavors := e.Flavors(info.Title)
	info.PrimaryFlavor = flavors[0].Key
	info.FlavorDisplay = flavors[0].Display
	info.FlavorIcon = flavors[0].Icon
	info.SecondaryFlavors = make([]string, 0, len(flavors)-1)
	for _, f := range flavors[1:] {
		info.SecondaryFlavors = append(info.SecondaryFlavors, f.Key)
	}
}

// Flavor looks up a flavor by key.
func (e *Extractor) Flavor(key string) (Flavor, bool) {
	for _, f := range e.flavors {
		if f.Key == key {
			return f, true
		}
	}
	return Flavor{}, false
}

// HasTag reports whether the comma- or space-separated tag list contains
// token, ignoring case.
func HasTag(tags, token string) bool {
	want := cases.Fold().String(strings.TrimSpace(token))
	if want == "" {
		return false
	}
	for _, t := range strings.FieldsFunc(tags, func(r rune) bool { return r == ',' || unicode.IsSpace(r) }) {
		if cases.Fold().String(t) == want {
			return true
		}
	}
	return false
}
