package scoring

import (
	"bytes"
	"regexp"
	"strings"
)

// Remediator applies mechanical fixes to an artifact before it is rescored.
// Every fix is idempotent: remediating already remediated bytes changes nothing.
type Remediator struct {
	palette Palette
}

// NewRemediator creates a remediator that maps literal palette colors to tokens
func NewRemediator(palette Palette) *Remediator {
	return &Remediator{palette: palette}
}

var (
	imgTag      = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	tableTag    = regexp.MustCompile(`(?i)<table\b[^>]*>`)
	htmlTag     = regexp.MustCompile(`(?i)<html\b[^>]*>`)
	headTag     = regexp.MustCompile(`(?i)<head\b[^>]*>`)
	altAttr     = regexp.MustCompile(`(?i)\salt\s*=`)
	roleAttr    = regexp.MustCompile(`(?i)\srole\s*=`)
	langAttr    = regexp.MustCompile(`(?i)\slang\s*=`)
	viewportTag = regexp.MustCompile(`(?i)<meta\b[^>]*name\s*=\s*["']?viewport`)

	// colorContext matches a literal hex color used as a CSS or attribute value
	colorContext = regexp.MustCompile(`(?i)(background-color|background|border-color|bgcolor|color)(\s*:\s*|\s*=\s*["']?)(#[0-9a-f]{6}|#[0-9a-f]{3})\b`)
)

const viewportMeta = `<meta name="viewport" content="width=device-width, initial-scale=1">`

// Fix is the name of one remediation
type Fix string

const (
	FixImgAlt       Fix = "img-alt"
	FixTableRole    Fix = "table-role"
	FixHTMLLang     Fix = "html-lang"
	FixViewport     Fix = "viewport-meta"
	FixPaletteToken Fix = "palette-tokens"
)

// Remediate returns the fixed markup and the fixes that changed it
func (r *Remediator) Remediate(content []byte) ([]byte, []Fix) {
	out := content
	var applied []Fix

	apply := func(fix Fix, next []byte) {
		if !bytes.Equal(next, out) {
			applied = append(applied, fix)
			out = next
		}
	}

	apply(FixImgAlt, addAttr(out, imgTag, altAttr, ` alt=""`))
	apply(FixTableRole, addAttr(out, tableTag, roleAttr, ` role="presentation"`))
	apply(FixHTMLLang, addLang(out))
	apply(FixViewport, addViewport(out))
	if r.palette != nil {
		apply(FixPaletteToken, r.tokenize(out))
	}
	return out, applied
}

// addAttr appends attr to every tag matching tagRe that lacks has
func addAttr(b []byte, tagRe, has *regexp.Regexp, attr string) []byte {
	return tagRe.ReplaceAllFunc(b, func(tag []byte) []byte {
		if has.Match(tag) {
			return tag
		}
		return insertBeforeClose(tag, attr)
	})
}

// insertBeforeClose inserts attr before the closing ">" or "/>" of a tag
func insertBeforeClose(tag []byte, attr string) []byte {
	end := len(tag) - 1
	for end > 0 && (tag[end-1] == '/' || tag[end-1] == ' ') {
		end--
	}
	out := make([]byte, 0, len(tag)+len(attr))
	out = append(out, tag[:end]...)
	out = append(out, attr...)
	out = append(out, tag[end:]...)
	return out
}

func addLang(b []byte) []byte {
	loc := htmlTag.FindIndex(b)
	if loc == nil || langAttr.Match(b[loc[0]:loc[1]]) {
		return b
	}
	fixed := insertBeforeClose(b[loc[0]:loc[1]], ` lang="en"`)
	return splice(b, loc, fixed)
}

func addViewport(b []byte) []byte {
	if viewportTag.Match(b) {
		return b
	}
	loc := headTag.FindIndex(b)
	if loc == nil {
		return b
	}
	return splice(b, []int{loc[1], loc[1]}, []byte(viewportMeta))
}

func splice(b []byte, loc []int, repl []byte) []byte {
	out := make([]byte, 0, len(b)+len(repl))
	out = append(out, b[:loc[0]]...)
	out = append(out, repl...)
	out = append(out, b[loc[1]:]...)
	return out
}

// tokenize replaces literal colors that equal a palette color with the token
func (r *Remediator) tokenize(b []byte) []byte {
	return colorContext.ReplaceAllFunc(b, func(m []byte) []byte {
		sub := colorContext.FindSubmatch(m)
		prop := strings.ToLower(string(sub[1]))
		if prop == "bgcolor" {
			prop = "background-color"
		}
		tok, ok := r.palette.reverseColor(prop, string(sub[3]))
		if !ok {
			return m
		}
		out := make([]byte, 0, len(m)+len(tok))
		out = append(out, sub[1]...)
		out = append(out, sub[2]...)
		out = append(out, '{')
		out = append(out, tok...)
		out = append(out, '}')
		return out
	})
}
