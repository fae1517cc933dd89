package recommend

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
)

// Field weights for keyword overlap.
const (
	fieldTitle   = 3.0
	fieldType    = 2.0
	fieldTags    = 2.0
	fieldOptions = 1.0
	fieldVendor  = 0.5
)

// Adjustments applied after keyword overlap.
const (
	penaltySpeciesMismatch = -15.0
	penaltyAllergen        = -12.0
	boostInBudget          = 3.0
	maxPenaltyOverBudget   = 8.0
	penaltyUnderBudget     = -1.0
	penaltyUnavailable     = -4.0
	penaltyDisliked        = -25.0
)

// Options carries per-request inputs to Score and Rerank.
type Options struct {
	Dislikes map[string]bool
	Seed     string
}

// Scored is a product with its score and the reasons behind it.
type Scored struct {
	Product catalog.Product `json:"product"`
	Score   float64         `json:"score"`
	Reasons []string        `json:"reasons"`
}

type productFields struct {
	title, ptype, tags, options, vendor map[string]bool
	all                                 map[string]bool
}

func fieldsOf(p catalog.Product) productFields {
	f := productFields{
		title:   set(catalog.Tokenize(p.Title)),
		ptype:   set(catalog.Tokenize(p.ProductType)),
		tags:    set(catalog.Tokenize(strings.Join(p.Tags, " "))),
		options: make(map[string]bool),
		vendor:  set(catalog.Tokenize(p.Vendor)),
	}
	for _, o := range p.Options {
		for _, v := range o.Values {
			for _, tok := range catalog.Tokenize(v) {
				f.options[tok] = true
			}
		}
	}
	f.all = make(map[string]bool)
	for _, m := range []map[string]bool{f.title, f.ptype, f.tags, f.options} {
		for k := range m {
			f.all[k] = true
		}
	}
	return f
}

// Score rates a product for a profile. Keywords contribute their weight
// times the sum of the weights of the fields they occur in.
func Score(profile Profile, p catalog.Product, opts Options) Scored {
	f := fieldsOf(p)
	out := Scored{Product: p, Reasons: []string{}}

	keywords := make([]string, 0, len(profile.Keywords))
	for k := range profile.Keywords {
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)

	for _, k := range keywords {
		hit := 0.0
		if f.title[k] {
			hit += fieldTitle
		}
		if f.ptype[k] {
			hit += fieldType
		}
		if f.tags[k] {
			hit += fieldTags
		}
		if f.options[k] {
			hit += fieldOptions
		}
		if f.vendor[k] {
			hit += fieldVendor
		}
		if hit > 0 {
			out.Score += profile.Keywords[k] * hit
			out.Reasons = append(out.Reasons, "matches "+k)
		}
	}

	if profile.Species != "" {
		mentioned := catalog.MentionedSpecies(f.all)
		if len(mentioned) > 0 && !mentioned[profile.Species] {
			out.Score += penaltySpeciesMismatch
			out.Reasons = append(out.Reasons, "made for another species")
		}
	}

	for _, a := range profile.Avoid {
		if f.all[a] {
			out.Score += penaltyAllergen
			out.Reasons = append(out.Reasons, "contains "+a)
		}
	}

	if adj, reason := budgetAdjustment(profile, p.Price); reason != "" {
		out.Score += adj
		out.Reasons = append(out.Reasons, reason)
	}

	if !p.Available {
		out.Score += penaltyUnavailable
		out.Reasons = append(out.Reasons, "out of stock")
	}
	if opts.Dislikes[p.Handle] {
		out.Score += penaltyDisliked
		out.Reasons = append(out.Reasons, "disliked")
	}

	out.Score = math.Round(out.Score*100) / 100
	return out
}

func budgetAdjustment(profile Profile, price float64) (float64, string) {
	if math.IsNaN(price) || price < 0 {
		return 0, ""
	}
	min, max := profile.BudgetMin, profile.BudgetMax
	if min == 0 && max == 0 {
		return 0, ""
	}
	switch {
	case max > 0 && price > max:
		over := maxPenaltyOverBudget * (price - max) / max
		if over > maxPenaltyOverBudget {
			over = maxPenaltyOverBudget
		}
		return -over, fmt.Sprintf("over budget by %.2f", price-max)
	case min > 0 && price < min:
		return penaltyUnderBudget, "under budget"
	default:
		return boostInBudget, "within budget"
	}
}

func set(tokens []string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}
