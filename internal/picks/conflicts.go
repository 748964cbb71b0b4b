package picks

import (
	"sort"
	"strconv"
	"strings"
)

const (
	FieldPickNumber = "pick_number"
	FieldSKU        = "sku"

	ConflictBatchDuplicate    = "batch_duplicate"
	ConflictExistingDuplicate = "existing_duplicate"
	ConflictInvalidValue      = "invalid_value"
)

// Edit is a proposed change to one variant. Nil fields are unchanged.
type Edit struct {
	VariantID  string  `json:"variantId" validate:"required"`
	SKU        *string `json:"sku,omitempty"`
	PickNumber *string `json:"pickNumber,omitempty"`
}

// Conflict is a uniqueness violation found before saving.
type Conflict struct {
	Field      string   `json:"field"`
	Value      string   `json:"value"`
	Kind       string   `json:"kind"`
	VariantIDs []string `json:"variantIds"`
}

// Duplicate is a value already shared by several non-archived variants.
type Duplicate struct {
	Field      string   `json:"field"`
	Value      string   `json:"value"`
	VariantIDs []string `json:"variantIds"`
}

type fieldSpec struct {
	name      string
	edited    func(Edit) *string
	stored    func(Variant) string
	normalize func(string) (string, bool)
}

var uniqueFields = []fieldSpec{
	{
		name:   FieldPickNumber,
		edited: func(e Edit) *string { return e.PickNumber },
		stored: func(v Variant) string { return v.PickNumber },
		normalize: func(raw string) (string, bool) {
			n, ok := ParsePickNumber(raw)
			if !ok {
				return strings.TrimSpace(raw), false
			}
			return strconv.Itoa(n), true
		},
	},
	{
		name:   FieldSKU,
		edited: func(e Edit) *string { return e.SKU },
		stored: func(v Variant) string { return v.SKU },
		normalize: func(raw string) (string, bool) {
			return strings.ToUpper(strings.TrimSpace(raw)), true
		},
	},
}

// DetectConflicts reports duplicates within edits and between edits and
// existing non-archived variants. Cleared values never conflict.
func DetectConflicts(edits []Edit, existing []Variant) []Conflict {
	byID := make(map[string]Variant, len(existing))
	for _, v := range existing {
		byID[v.ID] = v
	}
	var conflicts []Conflict
	for _, field := range uniqueFields {
		conflicts = append(conflicts, detectField(field, edits, existing, byID)...)
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Field != conflicts[j].Field {
			return conflicts[i].Field < conflicts[j].Field
		}
		if conflicts[i].Value != conflicts[j].Value {
			return conflicts[i].Value < conflicts[j].Value
		}
		return conflicts[i].Kind < conflicts[j].Kind
	})
	return conflicts
}

func detectField(field fieldSpec, edits []Edit, existing []Variant, byID map[string]Variant) []Conflict {
	var conflicts []Conflict
	editedIDs := make(map[string]struct{})
	batch := make(map[string][]string)
	var order []string

	for _, edit := range edits {
		raw := field.edited(edit)
		if raw == nil {
			continue
		}
		if v, ok := byID[edit.VariantID]; ok && v.Archived {
			continue
		}
		editedIDs[edit.VariantID] = struct{}{}
		if strings.TrimSpace(*raw) == "" {
			continue
		}
		value, ok := field.normalize(*raw)
		if !ok {
			conflicts = append(conflicts, Conflict{Field: field.name, Value: value, Kind: ConflictInvalidValue, VariantIDs: []string{edit.VariantID}})
			continue
		}
		if _, seen := batch[value]; !seen {
			order = append(order, value)
		}
		batch[value] = appendUnique(batch[value], edit.VariantID)
	}

	holders := make(map[string][]string)
	for _, v := range existing {
		if v.Archived {
			continue
		}
		if _, ok := editedIDs[v.ID]; ok {
			continue
		}
		value, ok := field.normalize(field.stored(v))
		if !ok || value == "" {
			continue
		}
		holders[value] = append(holders[value], v.ID)
	}

	for _, value := range order {
		ids := batch[value]
		if len(ids) > 1 {
			conflicts = append(conflicts, Conflict{Field: field.name, Value: value, Kind: ConflictBatchDuplicate, VariantIDs: ids})
		}
		if others := holders[value]; len(others) > 0 {
			all := append(append([]string(nil), ids...), others...)
			conflicts = append(conflicts, Conflict{Field: field.name, Value: value, Kind: ConflictExistingDuplicate, VariantIDs: all})
		}
	}
	return conflicts
}

// FindDuplicates lists values shared by more than one non-archived variant.
func FindDuplicates(variants []Variant) []Duplicate {
	var out []Duplicate
	for _, field := range uniqueFields {
		groups := make(map[string][]string)
		for _, v := range variants {
			if v.Archived {
				continue
			}
			value, ok := field.normalize(field.stored(v))
			if !ok || value == "" {
				continue
			}
			groups[value] = append(groups[value], v.ID)
		}
		for value, ids := range groups {
			if len(ids) < 2 {
				continue
			}
			sort.Strings(ids)
			out = append(out, Duplicate{Field: field.name, Value: value, VariantIDs: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
