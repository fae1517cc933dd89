// Package recommend ranks storefront products for a pet. A pet's traits
// become a weighted keyword bag which is matched against product text, then
// adjusted for species, allergens, budget, stock and the owner's dislikes.
package recommend

import (
	"strings"
	"time"

	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
)

// Traits are the pet attributes that drive recommendations.
type Traits struct {
	Species       string    `json:"species"`
	Breed         string    `json:"breed,omitempty"`
	Size          string    `json:"size,omitempty"`
	LifeStage     string    `json:"life_stage,omitempty"`
	Birthdate     time.Time `json:"birthdate,omitempty"`
	ActivityLevel string    `json:"activity_level,omitempty"`
	Allergies     []string  `json:"allergies,omitempty"`
	Flavors       []string  `json:"flavors,omitempty"`
	Interests     []string  `json:"interests,omitempty"`
	BudgetMin     float64   `json:"budget_min,omitempty"`
	BudgetMax     float64   `json:"budget_max,omitempty"`
}

// Keyword weights.
const (
	weightSpecies   = 5.0
	weightBreed     = 2.0
	weightSize      = 1.5
	weightLifeStage = 2.0
	weightFlavor    = 2.5
	weightInterest  = 2.0
	weightActivity  = 1.0
)

var activityHints = map[string][]string{
	"high": {"active", "durable", "fetch", "tough"},
	"low":  {"calming", "orthopedic", "soft"},
}

var lifeStageTerms = map[string][]string{
	"puppy":  {"puppy", "puppies", "pup"},
	"kitten": {"kitten", "kittens"},
	"young":  {"young", "junior"},
	"adult":  {"adult"},
	"senior": {"senior", "aging", "mature"},
}

// Profile is the weighted keyword bag built from a pet's traits.
type Profile struct {
	Species   string
	Keywords  map[string]float64
	Avoid     []string
	BudgetMin float64
	BudgetMax float64
}

// BuildProfile tokenizes traits into a Profile. now is used to derive the
// life stage from the birthdate when none was given.
func BuildProfile(t Traits, now time.Time) Profile {
	p := Profile{
		Species:   catalog.NormalizeSpecies(t.Species),
		Keywords:  make(map[string]float64),
		BudgetMin: nonNegative(t.BudgetMin),
		BudgetMax: nonNegative(t.BudgetMax),
	}
	if p.BudgetMax > 0 && p.BudgetMin > p.BudgetMax {
		p.BudgetMin, p.BudgetMax = p.BudgetMax, p.BudgetMin
	}

	for _, w := range catalog.SpeciesTerms(p.Species) {
		p.add(w, weightSpecies)
	}
	p.addText(t.Breed, weightBreed)
	p.addText(t.Size, weightSize)

	stage := strings.ToLower(strings.TrimSpace(t.LifeStage))
	if stage == "" {
		stage = LifeStage(p.Species, t.Birthdate, now)
	}
	for _, w := range lifeStageTerms[stage] {
		p.add(w, weightLifeStage)
	}

	for _, f := range t.Flavors {
		p.addText(f, weightFlavor)
	}
	for _, i := range t.Interests {
		p.addText(i, weightInterest)
	}
	for _, w := range activityHints[strings.ToLower(strings.TrimSpace(t.ActivityLevel))] {
		p.add(w, weightActivity)
	}

	seen := make(map[string]bool)
	for _, a := range t.Allergies {
		for _, tok := range catalog.Tokenize(a) {
			if len(tok) < 3 || seen[tok] {
				continue
			}
			seen[tok] = true
			p.Avoid = append(p.Avoid, tok)
			delete(p.Keywords, tok)
		}
	}
	return p
}

// LifeStage derives puppy/kitten, adult or senior from a birthdate. Species
// without a known lifespan curve are "adult"; a zero birthdate yields "".
func LifeStage(species string, birthdate, now time.Time) string {
	if birthdate.IsZero() || birthdate.After(now) {
		return ""
	}
	years := now.Sub(birthdate).Hours() / 24 / 365.25
	switch species {
	case "dog":
		switch {
		case years < 1:
			return "puppy"
		case years >= 7:
			return "senior"
		}
	case "cat":
		switch {
		case years < 1:
			return "kitten"
		case years >= 10:
			return "senior"
		}
	}
	return "adult"
}

// add keeps the highest weight seen for a keyword.
func (p *Profile) add(word string, weight float64) {
	if word == "" {
		return
	}
	if weight > p.Keywords[word] {
		p.Keywords[word] = weight
	}
}

func (p *Profile) addText(text string, weight float64) {
	for _, tok := range catalog.Tokenize(text) {
		if len(tok) < 3 {
			continue
		}
		p.add(tok, weight)
	}
}

func nonNegative(f float64) float64 {
	if f != f || f < 0 {
		return 0
	}
	return f
}
