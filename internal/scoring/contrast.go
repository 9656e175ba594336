package scoring

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MinContrastRatio is the WCAG AA threshold for normal text
const MinContrastRatio = 4.5

type rgb struct {
	r, g, b uint8
}

var (
	hexColor = regexp.MustCompile(`#([0-9a-fA-F]{8}|[0-9a-fA-F]{6}|[0-9a-fA-F]{3})\b`)
	rgbColor = regexp.MustCompile(`rgba?\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})`)
)

var namedColors = map[string]rgb{
	"white":  {255, 255, 255},
	"black":  {0, 0, 0},
	"red":    {255, 0, 0},
	"green":  {0, 128, 0},
	"blue":   {0, 0, 255},
	"yellow": {255, 255, 0},
	"orange": {255, 165, 0},
	"gray":   {128, 128, 128},
	"grey":   {128, 128, 128},
	"silver": {192, 192, 192},
	"navy":   {0, 0, 128},
	"purple": {128, 0, 128},
}

// parseColor extracts the first color from a CSS value. Alpha is ignored.
func parseColor(value string) (rgb, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if m := hexColor.FindStringSubmatch(v); m != nil {
		h := m[1]
		if len(h) == 3 {
			h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
		}
		n, err := strconv.ParseUint(h[:6], 16, 32)
		if err != nil {
			return rgb{}, false
		}
		return rgb{uint8(n >> 16), uint8(n >> 8), uint8(n)}, true
	}
	if m := rgbColor.FindStringSubmatch(v); m != nil {
		var c [3]uint8
		for i := 0; i < 3; i++ {
			n, err := strconv.Atoi(m[i+1])
			if err != nil || n > 255 {
				return rgb{}, false
			}
			c[i] = uint8(n)
		}
		return rgb{c[0], c[1], c[2]}, true
	}
	for _, word := range strings.Fields(v) {
		if c, ok := namedColors[word]; ok {
			return c, true
		}
	}
	return rgb{}, false
}

// luminance is the WCAG relative luminance
func (c rgb) luminance() float64 {
	channel := func(v uint8) float64 {
		s := float64(v) / 255
		if s <= 0.03928 {
			return s / 12.92
		}
		return math.Pow((s+0.055)/1.055, 2.4)
	}
	return 0.2126*channel(c.r) + 0.7152*channel(c.g) + 0.0722*channel(c.b)
}

// contrastRatio returns the WCAG contrast ratio of two colors, 1 to 21
func contrastRatio(a, b rgb) float64 {
	la, lb := a.luminance(), b.luminance()
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}
