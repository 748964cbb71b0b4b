// Package picks suggests warehouse pick numbers for catalog variants.
//
// Suggestions are drawn from a cohort band when the variant's SKU or title
// carries a cohort marker, otherwise from the neighborhood of variants that
// share its SKU prefix or product type, otherwise from a global counter.
// The allocation state is a snapshot: it is rebuilt wholesale whenever the
// variant set changes and only grows by reservation in between. Two
// allocators built from the same snapshot can hand out the same number;
// uniqueness is enforced when edits are saved.
package picks

import (
	"sort"
	"strconv"
	"strings"
)

// Variant is the allocator's view of a catalog variant.
type Variant struct {
	ID          string
	SKU         string
	Title       string
	ProductType string
	PickNumber  string
	Archived    bool
}

// State indexes the pick numbers held by non-archived variants.
type State struct {
	used          map[int]struct{}
	byProductType map[string][]int
	bySKUPrefix   map[string][]int
	globalMax     int
	nextCounter   int
}

// Rebuild derives a fresh State from variants.
func Rebuild(variants []Variant) *State {
	s := &State{
		used:          make(map[int]struct{}),
		byProductType: make(map[string][]int),
		bySKUPrefix:   make(map[string][]int),
	}
	for _, v := range variants {
		if v.Archived {
			continue
		}
		n, ok := ParsePickNumber(v.PickNumber)
		if !ok {
			continue
		}
		s.used[n] = struct{}{}
		if pt := productTypeKey(v.ProductType); pt != "" {
			s.byProductType[pt] = append(s.byProductType[pt], n)
		}
		if prefix := SKUPrefix(v.SKU); prefix != "" {
			s.bySKUPrefix[prefix] = append(s.bySKUPrefix[prefix], n)
		}
		if n > s.globalMax {
			s.globalMax = n
		}
	}
	for key, list := range s.byProductType {
		s.byProductType[key] = sortedUnique(list)
	}
	for key, list := range s.bySKUPrefix {
		s.bySKUPrefix[key] = sortedUnique(list)
	}
	s.nextCounter = s.globalMax + 1
	return s
}

// Reserve marks n as used without touching the neighborhood indexes.
func (s *State) Reserve(n int) {
	if n < 1 || n > MaxPickNumber {
		return
	}
	s.used[n] = struct{}{}
}

func (s *State) IsUsed(n int) bool {
	_, ok := s.used[n]
	return ok
}

func (s *State) GlobalMax() int { return s.globalMax }

func (s *State) NextCounter() int { return s.nextCounter }

// UsedCount returns the number of distinct reserved or assigned numbers.
func (s *State) UsedCount() int { return len(s.used) }

// MaxPickNumber bounds pick numbers so neighborhood arithmetic cannot
// overflow. Larger stored values are treated as unparseable.
const MaxPickNumber = 999_999_999

// ParsePickNumber accepts a decimal integer in [1, MaxPickNumber], ignoring
// surrounding space.
func ParsePickNumber(raw string) (int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 || n > MaxPickNumber {
		return 0, false
	}
	return n, true
}

// SKUPrefix returns the uppercased SKU text before the first hyphen.
func SKUPrefix(sku string) string {
	trimmed := strings.TrimSpace(sku)
	if i := strings.Index(trimmed, "-"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.ToUpper(strings.TrimSpace(trimmed))
}

func productTypeKey(productType string) string {
	return strings.ToLower(strings.TrimSpace(productType))
}

func sortedUnique(list []int) []int {
	sort.Ints(list)
	out := list[:0]
	for _, n := range list {
		if len(out) > 0 && out[len(out)-1] == n {
			continue
		}
		out = append(out, n)
	}
	return out
}
