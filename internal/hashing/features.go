package hashing

import (
	"bytes"
	"path/filepath"
	"sort"
	"strings"
)

// sectionKeywords are matched against the lower-cased markup, in this order
var sectionKeywords = []string{
	"hero", "cta", "product", "testimonial", "footer", "header", "grid", "pricing",
}

// categoryKeywords drive category tagging. A file name hit weighs 2, a
// content hit weighs 1, and a category is tagged at 2 or more.
var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"Welcome", []string{"welcome", "getting started", "thanks for joining", "onboard"}},
	{"Ecommerce", []string{"order", "cart", "shop", "product", "purchase", "shipping", "receipt", "invoice"}},
	{"Newsletter", []string{"newsletter", "digest", "weekly", "monthly", "update", "news", "edition", "issue"}},
	{"Promo", []string{"sale", "discount", "offer", "deal", "promo", "limited", "exclusive", "black friday", "christmas", "holiday"}},
	{"Transactional", []string{"reset", "verify", "confirm", "security", "alert", "notification", "otp", "code"}},
}

// DefaultCategory is assigned when no category reaches the tagging weight
const DefaultCategory = "Newsletter"

// Categories lists the known category names in tagging order
func Categories() []string {
	names := make([]string, len(categoryKeywords))
	for i, c := range categoryKeywords {
		names[i] = c.name
	}
	return names
}

// responsive reports whether the markup carries responsive style rules
func responsive(lower []byte) bool {
	return bytes.Contains(lower, []byte("@media")) || bytes.Contains(lower, []byte("<mj-breakpoint"))
}

// sections returns the section keywords present in the markup
func sections(lower []byte) []string {
	var found []string
	for _, k := range sectionKeywords {
		if bytes.Contains(lower, []byte(k)) {
			found = append(found, k)
		}
	}
	return found
}

// Sections returns the section keywords present in the markup, in keyword order
func Sections(b []byte) []string {
	return sections(bytes.ToLower(b))
}

// categorize tags the artifact by keyword hits in its file name and content.
// Tags are ordered by weight, heaviest first, with ties in tagging order.
func categorize(name string, lower []byte) []string {
	lowName := strings.ToLower(filepath.Base(name))
	content := string(lower)

	type hit struct {
		name   string
		weight int
		order  int
	}
	var hits []hit
	for i, c := range categoryKeywords {
		w := 0
		for _, kw := range c.keywords {
			if lowName != "" && strings.Contains(lowName, kw) {
				w += 2
			}
			if strings.Contains(content, kw) {
				w++
			}
		}
		if w >= 2 {
			hits = append(hits, hit{c.name, w, i})
		}
	}
	if len(hits) == 0 {
		return []string{DefaultCategory}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].weight != hits[j].weight {
			return hits[i].weight > hits[j].weight
		}
		return hits[i].order < hits[j].order
	})
	tags := make([]string, len(hits))
	for i, h := range hits {
		tags[i] = h.name
	}
	return tags
}
