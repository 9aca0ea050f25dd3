// Package search provides read-only projections over the catalog and the
// cart. Nothing in this package reads or writes stock; callers pass in the
// data and get filtered views back.
package search

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

// NameThreshold is the minimum normalized similarity for a name match.
const NameThreshold = 0.6

// ByName scores every product name against the query and keeps those at or
// above NameThreshold, best first. Scoring takes the best of the whole-name
// similarity and the per-word similarity, so a single-word query still finds
// multi-word product names.
func ByName(products []domain.Product, query string) []domain.ProductMatch {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	matches := make([]domain.ProductMatch, 0, 8)
	for _, p := range products {
		score := nameScore(query, p.Name)
		if score >= NameThreshold {
			matches = append(matches, domain.ProductMatch{Product: p, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Product.Name < matches[j].Product.Name
		}
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func nameScore(query string, name string) float64 {
	name = strings.ToLower(name)
	if strings.Contains(name, query) {
		return 1
	}
	best := levenshtein.Match(query, name, nil)
	for _, word := range strings.Fields(name) {
		if s := levenshtein.Match(query, word, nil); s > best {
			best = s
		}
	}
	return best
}

// ByBarcode filters products whose identifier contains the fragment.
func ByBarcode(products []domain.Product, fragment string) []domain.Product {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil
	}
	out := make([]domain.Product, 0, 8)
	for _, p := range products {
		if strings.Contains(p.ID, fragment) {
			out = append(out, p)
		}
	}
	return out
}

// ByPriceRange keeps products priced inside [min, max]. A nil bound leaves
// that end open.
func ByPriceRange(products []domain.Product, min *decimal.Decimal, max *decimal.Decimal) []domain.Product {
	out := make([]domain.Product, 0, 8)
	for _, p := range products {
		if min != nil && p.Price.LessThan(*min) {
			continue
		}
		if max != nil && p.Price.GreaterThan(*max) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// CartLines filters a cart view by name similarity or barcode containment.
// Each match carries the line's index in the live cart, so a follow-up edit
// targets the real CartLine rather than the copy returned here.
func CartLines(lines []domain.CartLine, query string) []domain.CartMatch {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	out := make([]domain.CartMatch, 0, len(lines))
	for i, line := range lines {
		if strings.Contains(line.ProductID, query) || nameScore(query, line.Name) >= NameThreshold {
			out = append(out, domain.CartMatch{Index: i, Line: line})
		}
	}
	return out
}
