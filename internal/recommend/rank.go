package recommend

import (
	"hash/fnv"
	"sort"

	"github.com/00Mars/pet-pawket-sub000/internal/catalog"
)

// Rerank scores every product and sorts by score, highest first. Equal
// scores are ordered by a hash of the seed and handle, so a given seed
// always yields the same order.
func Rerank(products []catalog.Product, profile Profile, opts Options) []Scored {
	scored := make([]Scored, 0, len(products))
	seen := make(map[string]bool, len(products))
	for _, p := range products {
		if p.Handle == "" || seen[p.Handle] {
			continue
		}
		seen[p.Handle] = true
		scored = append(scored, Score(profile, p, opts))
	}

	keys := make(map[string]uint32, len(scored))
	for _, s := range scored {
		keys[s.Product.Handle] = Hash(opts.Seed + "|" + s.Product.Handle)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ka, kb := keys[a.Product.Handle], keys[b.Product.Handle]
		if ka != kb {
			return ka < kb
		}
		return a.Product.Handle < b.Product.Handle
	})
	return scored
}

// Window returns one page of ranked results and the page count. With rotate
// set, the first page shown is chosen by the seed's hash and later pages
// wrap around; otherwise pages past the end are empty.
func Window(ranked []Scored, seed string, page, size int, rotate bool) ([]Scored, int) {
	n := len(ranked)
	if n == 0 || size <= 0 || page < 0 {
		return []Scored{}, pageCount(n, size)
	}
	count := pageCount(n, size)
	idx := page
	if rotate {
		idx = (int(Hash(seed)%uint32(count)) + page) % count
	}
	if idx >= count {
		return []Scored{}, count
	}
	start := idx * size
	end := start + size
	if end > n {
		end = n
	}
	out := make([]Scored, end-start)
	copy(out, ranked[start:end])
	return out, count
}

// Hash is 32-bit FNV-1a.
func Hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func pageCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
