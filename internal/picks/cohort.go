package picks

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Band is an inclusive pick-number range reserved for a cohort.
type Band struct {
	Min int
	Max int
}

var (
	// BandUpcoming holds next-year and imperfect stock.
	BandUpcoming = Band{Min: 9000, Max: 9999}
	// BandPriorYear holds last year's stock.
	BandPriorYear = Band{Min: 1000, Max: 1999}
)

var titleYear = regexp.MustCompile(`\b(\d{4})\b`)

// CohortBand returns the band implied by the variant's SKU and title at now.
func CohortBand(v Variant, now time.Time) (Band, bool) {
	next := now.Year() + 1
	prior := now.Year() - 1

	segments := skuSegments(v.SKU)
	lower := strings.ToLower(v.SKU + " " + v.Title)
	if strings.Contains(lower, "imperfect") || hasSegment(segments, "IMP") {
		return BandUpcoming, true
	}
	years := markedYears(segments, v.Title)
	if _, ok := years[next]; ok {
		return BandUpcoming, true
	}
	if _, ok := years[prior]; ok {
		return BandPriorYear, true
	}
	return Band{}, false
}

func skuSegments(sku string) []string {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(sku)), "-")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasSegment(segments []string, want string) bool {
	for _, s := range segments {
		if s == want {
			return true
		}
	}
	return false
}

// markedYears collects YYYY and Y<yy> SKU segments and 4-digit title years.
func markedYears(segments []string, title string) map[int]struct{} {
	years := make(map[int]struct{})
	for _, seg := range segments {
		switch {
		case len(seg) == 4 && allDigits(seg):
			n, _ := strconv.Atoi(seg)
			years[n] = struct{}{}
		case len(seg) == 3 && seg[0] == 'Y' && allDigits(seg[1:]):
			n, _ := strconv.Atoi(seg[1:])
			years[2000+n] = struct{}{}
		}
	}
	for _, m := range titleYear.FindAllStringSubmatch(title, -1) {
		n, _ := strconv.Atoi(m[1])
		years[n] = struct{}{}
	}
	return years
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
