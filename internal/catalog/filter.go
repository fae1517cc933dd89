package catalog

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
)

// Sort orders accepted by Apply.
const (
	SortFeatured  = "featured"
	SortRelevance = "relevance"
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
	SortTitleAsc  = "title-asc"
	SortTitleDesc = "title-desc"
	SortNewest    = "newest"
)

// Filter is the shop page's filter state. Zero prices mean "no bound".
type Filter struct {
	Query       string
	Category    string
	Species     string
	MinPrice    float64
	MaxPrice    float64
	InStockOnly bool
	Sort        string
}

var categorySynonyms = map[string][]string{
	"food":        {"food", "kibble", "dry-food", "wet-food", "dog-food", "cat-food", "meal", "meals"},
	"treats":      {"treat", "treats", "chew", "chews", "snack", "snacks", "jerky"},
	"toys":        {"toy", "toys", "plush", "ball", "balls", "rope", "squeaky"},
	"accessories": {"accessory", "accessories", "collar", "collars", "leash", "leashes", "harness", "bowl", "bowls", "carrier"},
	"health":      {"health", "supplement", "supplements", "vitamin", "vitamins", "dental", "wellness", "medicine"},
	"grooming":    {"grooming", "shampoo", "brush", "brushes", "nail-clipper", "wipes"},
	"beds":        {"bed", "beds", "crate", "crates", "furniture", "mat", "blanket"},
}

// NormalizeSort returns sort if it is known and SortFeatured otherwise.
func NormalizeSort(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case SortFeatured, SortRelevance, SortPriceAsc, SortPriceDesc, SortTitleAsc, SortTitleDesc, SortNewest:
		return s
	default:
		return SortFeatured
	}
}

// MatchesCategory reports whether the product type or any tag names the
// category or one of its synonyms.
func MatchesCategory(p Product, category string) bool {
	category = Slug(category)
	if category == "" {
		return true
	}
	terms := categorySynonyms[category]
	if terms == nil {
		terms = []string{category}
	}
	candidates := make([]string, 0, len(p.Tags)+1)
	candidates = append(candidates, Slug(p.ProductType))
	for _, tag := range p.Tags {
		candidates = append(candidates, Slug(tag))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, term := range terms {
			if c == term {
				return true
			}
		}
	}
	return false
}

// MatchesSpecies accepts products that mention the species or mention no
// species at all.
func MatchesSpecies(p Product, species string) bool {
	species = NormalizeSpecies(species)
	if species == "" {
		return true
	}
	mentioned := MentionedSpecies(p.TokenSet())
	return len(mentioned) == 0 || mentioned[species]
}

// MatchesPrice applies the inclusive price window.
func MatchesPrice(p Product, min, max float64) bool {
	if math.IsNaN(p.Price) {
		return false
	}
	if min > 0 && p.Price < min {
		return false
	}
	if max > 0 && p.Price > max {
		return false
	}
	return true
}

// Apply filters and sorts products. The input slice is not modified.
func Apply(products []Product, f Filter) []Product {
	sortKey := NormalizeSort(f.Sort)
	queryTokens := QueryTokens(f.Query)
	phrase := strings.ToLower(strings.TrimSpace(f.Query))

	type ranked struct {
		product Product
		score   float64
		pos     int
	}
	kept := make([]ranked, 0, len(products))
	for i, p := range products {
		if f.Category != "" && !MatchesCategory(p, f.Category) {
			continue
		}
		if f.Species != "" && !MatchesSpecies(p, f.Species) {
			continue
		}
		if !MatchesPrice(p, f.MinPrice, f.MaxPrice) {
			continue
		}
		if f.InStockOnly && !p.Available {
			continue
		}
		score := 0.0
		if len(queryTokens) > 0 {
			score = SearchScore(p, queryTokens, phrase)
			if score <= 0 {
				continue
			}
		}
		kept = append(kept, ranked{product: p, score: score, pos: i})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		switch sortKey {
		case SortRelevance:
			if a.score != b.score {
				return a.score > b.score
			}
		case SortPriceAsc:
			if a.product.Price != b.product.Price {
				return a.product.Price < b.product.Price
			}
		case SortPriceDesc:
			if a.product.Price != b.product.Price {
				return a.product.Price > b.product.Price
			}
		case SortTitleAsc, SortTitleDesc:
			ta, tb := strings.ToLower(a.product.Title), strings.ToLower(b.product.Title)
			if ta != tb {
				if sortKey == SortTitleAsc {
					return ta < tb
				}
				return ta > tb
			}
		case SortNewest:
			if !a.product.CreatedAt.Equal(b.product.CreatedAt) {
				return a.product.CreatedAt.After(b.product.CreatedAt)
			}
		}
		if sortKey == SortFeatured || sortKey == SortRelevance {
			if a.pos != b.pos {
				return a.pos < b.pos
			}
		}
		return a.product.Handle < b.product.Handle
	})

	out := make([]Product, len(kept))
	for i, k := range kept {
		out[i] = k.product
	}
	return out
}

// Page slices products at an offset cursor. The returned cursor is empty on
// the last page.
func Page(products []Product, cursor string, limit int) ([]Product, string, error) {
	offset := 0
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", apperr.BadRequest("invalid cursor")
		}
		offset = n
	}
	if limit <= 0 {
		return []Product{}, "", nil
	}
	if offset >= len(products) {
		return []Product{}, "", nil
	}
	end := offset + limit
	if end >= len(products) {
		return products[offset:], "", nil
	}
	return products[offset:end], strconv.Itoa(end), nil
}
