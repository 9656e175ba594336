package scoring

import (
	"fmt"
	"math"
)

// Subscore names, as recorded in rubric errors
const (
	SubHierarchy      = "hierarchy"
	SubResponsiveness = "responsiveness"
	SubCodeSafety     = "code_safety"
	SubAesthetics     = "aesthetics"
	SubContrast       = "contrast"
	SubTokenization   = "tokenization"
)

// maxSafeSize is the size above which clients start clipping messages
const maxSafeSize = 350 * 1024

// heuristic evaluates one subscore as a fraction in [0,1]
type heuristic func(doc *document, palette Palette) (float64, error)

// criterion is one weighted rubric entry
type criterion struct {
	name   string
	weight float64
	eval   heuristic
}

// rubric is the fixed, ordered set of criteria. Weights sum to 100.
var rubric = []criterion{
	{SubHierarchy, 20, hierarchy},
	{SubResponsiveness, 20, responsiveness},
	{SubCodeSafety, 20, codeSafety},
	{SubAesthetics, 20, aesthetics},
	{SubContrast, 10, contrast},
	{SubTokenization, 10, tokenization},
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func hierarchy(doc *document, _ Palette) (float64, error) {
	return 0.6*math.Min(1, float64(doc.tables)/10) +
		0.2*math.Min(1, float64(doc.sections)/3) +
		0.2*indicator(doc.hasCTA), nil
}

func responsiveness(doc *document, _ Palette) (float64, error) {
	return 0.6*indicator(doc.hasMedia) +
		0.2*indicator(doc.hasViewport) +
		0.2*indicator(doc.fluid), nil
}

func codeSafety(doc *document, _ Palette) (float64, error) {
	score := 1.0
	if doc.scripts > 0 {
		score -= 1.0
	}
	if doc.eventHandlers > 0 {
		score -= 0.3
	}
	if doc.jsURLs > 0 {
		score -= 0.3
	}
	if doc.embeds > 0 {
		score -= 0.3
	}
	if doc.imbalanced {
		score -= 0.2
	}
	if doc.size > maxSafeSize {
		score -= 0.2
	}
	return clamp(score), nil
}

func aesthetics(doc *document, _ Palette) (float64, error) {
	backgrounds := 0
	for _, group := range doc.groups {
		for _, d := range group {
			if isBackground(d.prop) {
				backgrounds++
			}
		}
	}
	return 0.5*indicator(doc.styleBlocks > 0) + math.Min(0.5, 0.1*float64(backgrounds)), nil
}

// contrast is the share of color/background pairs, declared together, that
// meet the WCAG AA ratio once tokens are resolved through the palette
func contrast(doc *document, palette Palette) (float64, error) {
	pairs, passing := 0, 0
	for _, group := range doc.groups {
		var fg, bg string
		for _, d := range group {
			switch {
			case d.prop == "color":
				fg = d.value
			case isBackground(d.prop):
				bg = d.value
			}
		}
		if fg == "" || bg == "" {
			continue
		}
		fc, ok1 := parseColor(palette.resolve(fg))
		bc, ok2 := parseColor(palette.resolve(bg))
		if !ok1 || !ok2 {
			continue
		}
		pairs++
		if contrastRatio(fc, bc) >= MinContrastRatio {
			passing++
		}
	}
	if pairs == 0 {
		return 0, errRubric(SubContrast, "no color/background pairs to evaluate")
	}
	return float64(passing) / float64(pairs), nil
}

// tokenization is the share of color and font-family usages that reference
// a design token instead of a literal value
func tokenization(doc *document, _ Palette) (float64, error) {
	tokens, literals := 0, 0
	for _, group := range doc.groups {
		for _, d := range group {
			switch {
			case d.prop == "font-family":
				if hasToken(d.value) {
					tokens++
				} else if d.value != "inherit" {
					literals++
				}
			case isColorProp(d.prop):
				if hasToken(d.value) {
					tokens++
				} else if _, ok := parseColor(d.value); ok {
					literals++
				}
			}
		}
	}
	if tokens+literals == 0 {
		return 0, errRubric(SubTokenization, "no color or font usages")
	}
	return float64(tokens) / float64(tokens+literals), nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// round2 rounds to two decimals
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DescribeRubric renders the criterion weights
func DescribeRubric() string {
	s := ""
	for i, c := range rubric {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%g", c.name, c.weight)
	}
	return s
}
