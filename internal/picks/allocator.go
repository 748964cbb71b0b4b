package picks

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	minGap         = 2
	maxGap         = 10
	probeAboveMax  = 100
	probeBelowMin  = 50
	lowestPickable = 1
)

var (
	ErrUnknownVariant    = errors.New("unknown variant")
	ErrInvalidPickNumber = fmt.Errorf("pick number must be an integer between 1 and %d", MaxPickNumber)
)

// Source names the tier that produced a suggestion.
type Source string

const (
	SourceCohort      Source = "cohort_band"
	SourceSKUPrefix   Source = "sku_prefix"
	SourceProductType Source = "product_type"
	SourceGlobal      Source = "global_counter"
)

// Suggestion is a reserved pick number and where it came from.
type Suggestion struct {
	VariantID  string `json:"variantId"`
	PickNumber int    `json:"pickNumber"`
	Source     Source `json:"source"`
}

// Options tunes an Allocator. A nil Now uses time.Now.
type Options struct {
	Now func() time.Time
}

// Allocator hands out pick-number suggestions for one editing session.
// It is not safe for concurrent use.
type Allocator struct {
	state    *State
	variants map[string]Variant
	pending  map[string]string
	now      func() time.Time
}

func NewAllocator(variants []Variant, opts Options) *Allocator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &Allocator{pending: make(map[string]string), now: now}
	a.Rebuild(variants)
	return a
}

// Rebuild replaces the state from variants. Pending edits stay reserved.
func (a *Allocator) Rebuild(variants []Variant) {
	a.state = Rebuild(variants)
	a.variants = make(map[string]Variant, len(variants))
	for _, v := range variants {
		a.variants[v.ID] = v
	}
	for _, raw := range a.pending {
		if n, ok := ParsePickNumber(raw); ok {
			a.state.Reserve(n)
		}
	}
}

// Known reports whether variantID is part of the loaded catalog.
func (a *Allocator) Known(variantID string) bool {
	_, ok := a.variants[variantID]
	return ok
}

// State exposes the current allocation state.
func (a *Allocator) State() *State { return a.state }

// SuggestNext returns a reserved suggestion for variantID.
func (a *Allocator) SuggestNext(variantID string) (int, error) {
	s, err := a.Suggest(variantID)
	if err != nil {
		return 0, err
	}
	return s.PickNumber, nil
}

// Suggest is SuggestNext with the producing tier attached.
func (a *Allocator) Suggest(variantID string) (Suggestion, error) {
	v, ok := a.variants[variantID]
	if !ok {
		return Suggestion{}, fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}
	n, source := a.pick(v)
	a.state.Reserve(n)
	return Suggestion{VariantID: variantID, PickNumber: n, Source: source}, nil
}

// Accept records number as the variant's pending pick number and reserves it.
func (a *Allocator) Accept(variantID string, number int) error {
	if _, ok := a.variants[variantID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}
	if number < lowestPickable || number > MaxPickNumber {
		return ErrInvalidPickNumber
	}
	a.state.Reserve(number)
	a.pending[variantID] = strconv.Itoa(number)
	return nil
}

// Pending returns a copy of the accepted, unsaved pick numbers by variant id.
func (a *Allocator) Pending() map[string]string {
	out := make(map[string]string, len(a.pending))
	for id, n := range a.pending {
		out[id] = n
	}
	return out
}

// ClearPending drops accepted numbers, typically after they were saved.
func (a *Allocator) ClearPending() {
	a.pending = make(map[string]string)
}

// DropPending forgets the accepted numbers of the given variants only.
func (a *Allocator) DropPending(variantIDs ...string) {
	for _, id := range variantIDs {
		delete(a.pending, id)
	}
}

func (a *Allocator) pick(v Variant) (int, Source) {
	if band, ok := CohortBand(v, a.now()); ok {
		if n, ok := a.probeBand(band); ok {
			return n, SourceCohort
		}
	}
	if n, ok := a.probeNeighborhood(a.state.bySKUPrefix[SKUPrefix(v.SKU)]); ok {
		return n, SourceSKUPrefix
	}
	if n, ok := a.probeNeighborhood(a.state.byProductType[productTypeKey(v.ProductType)]); ok {
		return n, SourceProductType
	}
	return a.nextGlobal(), SourceGlobal
}

func (a *Allocator) probeBand(band Band) (int, bool) {
	for n := band.Min; n <= band.Max; n++ {
		if !a.state.IsUsed(n) {
			return n, true
		}
	}
	return 0, false
}

// probeNeighborhood searches a sorted bucket: earliest small gap, then just
// above its maximum, then just below its minimum.
func (a *Allocator) probeNeighborhood(sorted []int) (int, bool) {
	if len(sorted) == 0 {
		return 0, false
	}
	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		gap := next - prev
		if gap < minGap || gap > maxGap {
			continue
		}
		for n := prev + 1; n < next; n++ {
			if !a.state.IsUsed(n) {
				return n, true
			}
		}
	}
	top := sorted[len(sorted)-1]
	for i := 1; i <= probeAboveMax; i++ {
		n := top + i
		if n > MaxPickNumber {
			break
		}
		if !a.state.IsUsed(n) {
			return n, true
		}
	}
	bottom := sorted[0]
	for i := 1; i <= probeBelowMin; i++ {
		n := bottom - i
		if n < lowestPickable {
			break
		}
		if !a.state.IsUsed(n) {
			return n, true
		}
	}
	return 0, false
}

func (a *Allocator) nextGlobal() int {
	n := a.state.nextCounter
	if n < lowestPickable {
		n = lowestPickable
	}
	for a.state.IsUsed(n) {
		n++
	}
	a.state.nextCounter = n + 1
	return n
}
