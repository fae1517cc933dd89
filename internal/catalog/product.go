// Package catalog holds the storefront product model and the shop-page
// filters: category, species, price window, stock, text search and sort.
package catalog

import (
	"strings"
	"time"
	"unicode"
)

// Product is a storefront product flattened from the Storefront API.
type Product struct {
	ID             string    `json:"id"`
	Handle         string    `json:"handle"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	ProductType    string    `json:"product_type,omitempty"`
	Vendor         string    `json:"vendor,omitempty"`
	Tags           []string  `json:"tags"`
	Options        []Option  `json:"options,omitempty"`
	Price          float64   `json:"price"`
	CompareAtPrice float64   `json:"compare_at_price,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Available      bool      `json:"available"`
	CreatedAt      time.Time `json:"created_at"`
	ImageURL       string    `json:"image_url,omitempty"`
	Variants       []Variant `json:"variants,omitempty"`
}

type Option struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type Variant struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

// Species and the words that identify them in product text.
var speciesSynonyms = map[string][]string{
	"dog":          {"dog", "dogs", "puppy", "puppies", "canine", "pup"},
	"cat":          {"cat", "cats", "kitten", "kittens", "feline", "kitty"},
	"bird":         {"bird", "birds", "parrot", "avian", "parakeet", "budgie"},
	"fish":         {"fish", "aquarium", "aquatic", "betta", "goldfish"},
	"reptile":      {"reptile", "reptiles", "lizard", "gecko", "turtle", "snake", "terrarium"},
	"small_animal": {"rabbit", "rabbits", "hamster", "guinea", "ferret", "rodent", "bunny", "chinchilla"},
}

// SpeciesList returns the recognised species in a fixed order.
func SpeciesList() []string {
	return []string{"dog", "cat", "bird", "fish", "reptile", "small_animal"}
}

// SpeciesTerms returns the words for species, or nil if it is unknown.
func SpeciesTerms(species string) []string {
	return speciesSynonyms[species]
}

// NormalizeSpecies maps free text ("Puppy", "kitty", "rabbit") to a species
// key. It returns "" for anything unrecognised.
func NormalizeSpecies(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	if _, ok := speciesSynonyms[s]; ok {
		return s
	}
	for key, words := range speciesSynonyms {
		for _, w := range words {
			if w == s {
				return key
			}
		}
	}
	if s == "small_animals" || s == "smallanimal" {
		return "small_animal"
	}
	return ""
}

// MentionedSpecies returns the species whose words occur in tokens.
func MentionedSpecies(tokens map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for key, words := range speciesSynonyms {
		for _, w := range words {
			if tokens[w] {
				out[key] = true
				break
			}
		}
	}
	return out
}

// TokenSet is the set of lowercased tokens across the product's title,
// type and tags.
func (p Product) TokenSet() map[string]bool {
	set := make(map[string]bool)
	for _, field := range []string{p.Title, p.ProductType, strings.Join(p.Tags, " ")} {
		for _, tok := range Tokenize(field) {
			set[tok] = true
		}
	}
	return set
}

// Tokenize lowercases s and splits it on anything that is not a letter or
// digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Slug lowercases s and joins its tokens with "-".
func Slug(s string) string {
	return strings.Join(Tokenize(s), "-")
}
