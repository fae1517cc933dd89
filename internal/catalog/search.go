package catalog

import "strings"

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "for": true, "of": true,
	"with": true, "to": true, "in": true, "my": true, "on": true, "or": true,
}

// Field weights for search relevance.
const (
	searchTitleWeight       = 3.0
	searchTypeWeight        = 2.0
	searchTagWeight         = 2.0
	searchVendorWeight      = 1.0
	searchDescriptionWeight = 0.5
	searchPhraseBonus       = 5.0
)

// QueryTokens tokenizes a search query, dropping stop words and duplicates.
func QueryTokens(q string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 4)
	for _, tok := range Tokenize(q) {
		if stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// SearchScore scores a product against query tokens. A token counts once per
// field it appears in; a plural query word also matches its singular. The
// whole phrase appearing in the title earns a bonus.
func SearchScore(p Product, tokens []string, phrase string) float64 {
	fields := []struct {
		set    map[string]bool
		weight float64
	}{
		{tokenSet(p.Title), searchTitleWeight},
		{tokenSet(p.ProductType), searchTypeWeight},
		{tokenSet(strings.Join(p.Tags, " ")), searchTagWeight},
		{tokenSet(p.Vendor), searchVendorWeight},
		{tokenSet(p.Description), searchDescriptionWeight},
	}

	score := 0.0
	for _, tok := range tokens {
		alt := strings.TrimSuffix(tok, "s")
		for _, f := range fields {
			if f.set[tok] || (alt != tok && len(alt) > 2 && f.set[alt]) {
				score += f.weight
			}
		}
	}
	if score > 0 && phrase != "" && strings.Contains(strings.ToLower(p.Title), phrase) {
		score += searchPhraseBonus
	}
	return score
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(s) {
		set[tok] = true
	}
	return set
}
