package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/types"
)

// declaration is one CSS property/value pair
type declaration struct {
	prop  string
	value string
}

// document holds the facts the heuristics need, gathered in one tokenizer pass
type document struct {
	size     int
	lower    []byte
	isMJML   bool
	tables   int
	sections int
	hasCTA   bool

	hasViewport bool
	hasMedia    bool
	fluid       bool

	scripts       int
	eventHandlers int
	jsURLs        int
	embeds        int
	imbalanced    bool

	styleBlocks int

	// groups are declarations that apply to one element or one CSS rule
	groups [][]declaration
}

// voidElements never have an end tag
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "param": true,
	"source": true, "track": true, "wbr": true,
}

// optionalEnd elements may legally be left open
var optionalEnd = map[string]bool{
	"html": true, "head": true, "body": true, "p": true, "li": true, "tr": true,
	"td": true, "th": true, "tbody": true, "thead": true, "tfoot": true, "option": true,
	"dt": true, "dd": true, "colgroup": true,
}

// tableLike MJML elements compile to one table each
var tableLike = map[string]bool{
	"mj-section": true, "mj-column": true, "mj-wrapper": true, "mj-group": true, "mj-hero": true,
}

// colorAttrs are presentational attributes that carry a color or font
var colorAttrs = map[string]string{
	"bgcolor":                    "background-color",
	"color":                      "color",
	"background-color":           "background-color",
	"container-background-color": "background-color",
	"border-color":               "border-color",
	"font-family":                "font-family",
}

var (
	cssComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	cssBody    = regexp.MustCompile(`\{([^{}]*)\}`)
)

var errUnparseableMarkup = errors.New("markup not parseable")

// parseDocument tokenizes rendered markup. It follows the hashing module's
// definition of unparseable: invalid UTF-8, NUL bytes, a tokenizer error or
// no element tags at all.
func parseDocument(b []byte) (*document, error) {
	if !utf8.Valid(b) || bytes.IndexByte(b, 0) >= 0 {
		return nil, errUnparseableMarkup
	}

	doc := &document{size: len(b), lower: bytes.ToLower(b)}
	doc.sections = len(hashing.Sections(b))
	doc.hasMedia = bytes.Contains(doc.lower, []byte("@media"))
	doc.fluid = bytes.Contains(doc.lower, []byte("max-width:")) || bytes.Contains(doc.lower, []byte(`width="100%"`))

	var stack []string
	var inStyle bool
	var css strings.Builder
	tags := 0

	z := html.NewTokenizer(bytes.NewReader(b))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return nil, fmt.Errorf("%w: %v", errUnparseableMarkup, z.Err())
			}
			if tags == 0 {
				return nil, errUnparseableMarkup
			}
			for _, open := range stack {
				if !optionalEnd[open] {
					doc.imbalanced = true
				}
			}
			doc.addCSS(css.String())
			return doc, nil

		case html.TextToken:
			if inStyle {
				css.Write(z.Text())
				css.WriteByte('\n')
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tags++
			name, hasAttr := z.TagName()
			tag := string(name)
			attrs := make(map[string]string)
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				attrs[strings.ToLower(string(k))] = string(v)
			}
			doc.element(tag, attrs)

			if tt == html.StartTagToken && !voidElements[tag] {
				stack = append(stack, tag)
				if tag == "style" || tag == "mj-style" {
					inStyle = true
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "style" || tag == "mj-style" {
				inStyle = false
			}
			stack = doc.closeTag(stack, tag)
		}
	}
}

// closeTag pops the stack up to tag. Skipped elements that require an end
// tag, or an end tag with no open element, mark the document imbalanced.
func (d *document) closeTag(stack []string, tag string) []string {
	if voidElements[tag] {
		return stack
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] != tag {
			continue
		}
		for _, skipped := range stack[i+1:] {
			if !optionalEnd[skipped] {
				d.imbalanced = true
			}
		}
		return stack[:i]
	}
	d.imbalanced = true
	return stack
}

func (d *document) element(tag string, attrs map[string]string) {
	switch {
	case tag == "mjml":
		// The MJML compiler emits the viewport meta and fluid, media-query layout
		d.isMJML = true
		d.hasViewport = true
		d.fluid = true
	case tag == "table" || tableLike[tag]:
		d.tables++
	case tag == "script":
		d.scripts++
	case tag == "iframe" || tag == "object" || tag == "embed" || tag == "form":
		d.embeds++
	case tag == "meta" && strings.EqualFold(attrs["name"], "viewport"):
		d.hasViewport = true
	case tag == "mj-button":
		d.hasCTA = true
	case tag == "mj-breakpoint":
		d.hasMedia = true
	}
	if tag == "mj-column" {
		d.hasMedia = true
	}
	if tag == "a" || tag == "button" {
		marker := strings.ToLower(attrs["class"] + " " + attrs["id"])
		if tag == "button" || strings.Contains(marker, "btn") || strings.Contains(marker, "button") || strings.Contains(marker, "cta") {
			d.hasCTA = true
		}
	}

	var group []declaration
	for k, v := range attrs {
		if strings.HasPrefix(k, "on") && len(k) > 2 {
			d.eventHandlers++
		}
		if (k == "href" || k == "src" || k == "action") && strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "javascript:") {
			d.jsURLs++
		}
		if prop, ok := colorAttrs[k]; ok && strings.TrimSpace(v) != "" {
			// color on anything but <font> or mj-* elements is not presentational
			if k == "color" && tag != "font" && !strings.HasPrefix(tag, "mj-") {
				continue
			}
			group = append(group, declaration{prop: prop, value: strings.TrimSpace(v)})
		}
	}
	if style, ok := attrs["style"]; ok {
		group = append(group, parseDeclarations(style)...)
	}
	if len(group) > 0 {
		sortDeclarations(group)
		d.groups = append(d.groups, group)
	}
}

// addCSS collects the rule bodies of style block text
func (d *document) addCSS(css string) {
	css = cssComment.ReplaceAllString(css, "")
	// Token braces would split rule bodies; rewrite them as CSS variables
	css = tokenPattern.ReplaceAllString(css, "var(--$1)")
	if strings.TrimSpace(css) == "" {
		return
	}
	d.styleBlocks++
	for _, m := range cssBody.FindAllStringSubmatch(css, -1) {
		if group := parseDeclarations(m[1]); len(group) > 0 {
			d.groups = append(d.groups, group)
		}
	}
}

// parseDeclarations splits "a: b; c: d" into declarations
func parseDeclarations(s string) []declaration {
	var out []declaration
	for _, part := range strings.Split(s, ";") {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
		if prop == "" || value == "" {
			continue
		}
		out = append(out, declaration{prop: prop, value: value})
	}
	return out
}

// sortDeclarations orders attribute-derived declarations deterministically;
// map iteration order must not leak into scores
func sortDeclarations(group []declaration) {
	sort.Slice(group, func(i, j int) bool {
		if group[i].prop != group[j].prop {
			return group[i].prop < group[j].prop
		}
		return group[i].value < group[j].value
	})
}

// isBackground reports whether a property sets a background color
func isBackground(prop string) bool {
	return prop == "background" || prop == "background-color"
}

// isColorProp reports whether a property carries a color value
func isColorProp(prop string) bool {
	return prop == "color" || isBackground(prop) || prop == "border-color"
}

// errRubric builds the rubric error for a subscore
func errRubric(subscore, reason string) *types.ScoringRubricError {
	return &types.ScoringRubricError{Subscore: subscore, Reason: reason}
}
