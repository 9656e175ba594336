package scoring

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Design-token vocabulary. Templates reference brand values as {brandX};
// a skin substitutes them later.
const (
	TokenBG        = "brandBG"
	TokenPrimary   = "brandPrimary"
	TokenSecondary = "brandSecondary"
	TokenText      = "brandText"
	TokenAccent    = "brandAccent"
	TokenFont      = "brandFont"
)

var (
	// tokenPattern matches a token reference in markup
	tokenPattern = regexp.MustCompile(`\{(brand[A-Za-z]+)\}`)

	// tokenRefPattern also matches tokens rewritten as CSS variables
	tokenRefPattern = regexp.MustCompile(`\{(brand[A-Za-z]+)\}|var\(--(brand[A-Za-z]+)\)`)
)

// Palette maps token names to concrete values. It is only used to resolve
// tokens for contrast checks and to map literal colors back to tokens.
type Palette map[string]string

// Validate checks that every color token resolves to a parseable color
func (p Palette) Validate() error {
	for _, tok := range []string{TokenBG, TokenPrimary, TokenSecondary, TokenText, TokenAccent} {
		v, ok := p[tok]
		if !ok {
			return fmt.Errorf("palette is missing %s", tok)
		}
		if _, ok := parseColor(v); !ok {
			return fmt.Errorf("palette %s is not a color: %q", tok, v)
		}
	}
	return nil
}

// Digest fingerprints the palette entries in key order
func (p Palette) Digest() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(p[k])
		_, _ = d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// skins are the reference palettes of the design system
var skins = map[string]Palette{
	"linear_dark": {
		TokenBG: "#0a0a0a", TokenPrimary: "#ffffff", TokenSecondary: "#888888",
		TokenText: "#ffffff", TokenAccent: "#5c6bc0",
		TokenFont: "'Inter', 'Helvetica Neue', sans-serif",
	},
	"apple_light": {
		TokenBG: "#ffffff", TokenPrimary: "#1d1d1f", TokenSecondary: "#86868b",
		TokenText: "#1d1d1f", TokenAccent: "#0071e3",
		TokenFont: "'SF Pro Display', -apple-system, BlinkMacSystemFont, sans-serif",
	},
	"dtc_pastel": {
		TokenBG: "#fef6f0", TokenPrimary: "#2d2d2d", TokenSecondary: "#666666",
		TokenText: "#2d2d2d", TokenAccent: "#e07c5f",
		TokenFont: "'Poppins', 'Helvetica Neue', sans-serif",
	},
	"editorial_serif": {
		TokenBG: "#f8f5f0", TokenPrimary: "#1a1a1a", TokenSecondary: "#555555",
		TokenText: "#1a1a1a", TokenAccent: "#8b4513",
		TokenFont: "'Georgia', 'Times New Roman', serif",
	},
	"brutalist_bold": {
		TokenBG: "#ffff00", TokenPrimary: "#000000", TokenSecondary: "#333333",
		TokenText: "#000000", TokenAccent: "#ff0000",
		TokenFont: "'Impact', 'Arial Black', sans-serif",
	},
}

// DefaultSkin is the reference palette used when none is configured
const DefaultSkin = "apple_light"

// Skin returns a copy of a named reference palette
func Skin(name string) (Palette, error) {
	p, ok := skins[name]
	if !ok {
		return nil, fmt.Errorf("unknown skin %q (known: %s)", name, strings.Join(SkinNames(), ", "))
	}
	out := make(Palette, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}

// SkinNames lists the reference palettes
func SkinNames() []string {
	names := make([]string, 0, len(skins))
	for n := range skins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// hasToken reports whether a value references a design token
func hasToken(value string) bool {
	return tokenRefPattern.MatchString(value)
}

// resolve substitutes palette values for token references. Unknown tokens
// are left in place, so the value stops parsing as a color.
func (p Palette) resolve(value string) string {
	return tokenRefPattern.ReplaceAllStringFunc(value, func(m string) string {
		sub := tokenRefPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := p[name]; ok {
			return v
		}
		return m
	})
}

// reverseColor maps a literal palette color back to a token. Background and
// text tokens win over the others when values coincide.
func (p Palette) reverseColor(prop, hex string) (string, bool) {
	order := []string{TokenText, TokenBG, TokenAccent, TokenPrimary, TokenSecondary}
	if isBackground(prop) {
		order = []string{TokenBG, TokenAccent, TokenText, TokenPrimary, TokenSecondary}
	}
	want, ok := parseColor(hex)
	if !ok {
		return "", false
	}
	for _, tok := range order {
		if c, ok := parseColor(p[tok]); ok && c == want {
			return tok, true
		}
	}
	return "", false
}
