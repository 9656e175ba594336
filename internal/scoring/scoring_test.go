package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/steveyegge/forge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const styleTokenized = `<style>
  body { background-color: {brandBG}; font-family: {brandFont}; }
  .main { max-width: 640px; background-color: {brandBG}; }
  .headline { color: {brandPrimary}; background-color: {brandBG}; }
  .cta-button { color: {brandBG}; background-color: {brandAccent}; }
  .footer { color: {brandText}; background-color: {brandBG}; }
  @media screen and (max-width: 600px) { .main { width: 100% !important; } }
</style>`

const styleLiteral = `<style>
  body { background-color: #ffffff; font-family: {brandFont}; }
  .main { background-color: #ffffff; }
  .headline { color: #1d1d1f; background-color: #ffffff; }
  .cta-button { color: #ffffff; background-color: #0071e3; }
  .footer { color: #1d1d1f; background-color: #ffffff; }
  @media screen and (max-width: 600px) { .main { width: 100% !important; } }
</style>`

func email(head string, tables int) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString(head)
	b.WriteString("\n</head>\n<body>\n")
	b.WriteString(`<table role="presentation" class="header"><tr><td><img src="logo.png" alt="Logo"></td></tr></table>` + "\n")
	b.WriteString(`<table role="presentation" class="hero"><tr><td><h1 class="headline">Hello</h1><a class="cta-button" href="https://example.com">Shop</a></td></tr></table>` + "\n")
	for i := 2; i < tables-1; i++ {
		fmt.Fprintf(&b, `<table role="presentation"><tr><td><p>Row %d</p></td></tr></table>`+"\n", i)
	}
	b.WriteString(`<table role="presentation" class="footer"><tr><td><p>Unsubscribe</p></td></tr></table>` + "\n")
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

var (
	// Ten tables, responsive rules, every color and font through tokens
	polishedEmail = email(`<meta name="viewport" content="width=device-width, initial-scale=1">`+"\n"+styleTokenized, 10)

	// Seven tables, no viewport meta, literal palette colors
	almostEmail = email(styleLiteral, 7)

	// Two tables, no responsive rules, literal hex colors
	roughEmail = `<html><head><title>Offer</title></head><body>
<table width="600"><tr><td bgcolor="#ffffff"><p style="color:#333333">Big offer</p></td></tr></table>
<table width="600"><tr><td style="color:#000000; background-color:#ffffff">Buy now</td></tr></table>
</body></html>`
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(Config{})
	require.NoError(t, err)
	return s
}

func TestPolishedEmailIsKept(t *testing.T) {
	s := newTestScorer(t)
	score, err := s.Score(context.Background(), 1, types.TypeHTML, []byte(polishedEmail))
	require.NoError(t, err)

	assert.Empty(t, score.Errors)
	assert.Equal(t, 1.0, score.Subscores.Hierarchy)
	assert.Equal(t, 1.0, score.Subscores.Responsiveness)
	assert.Equal(t, 1.0, score.Subscores.CodeSafety)
	assert.Equal(t, 1.0, score.Subscores.Aesthetics)
	assert.Equal(t, 1.0, score.Subscores.Contrast)
	assert.Equal(t, 1.0, score.Subscores.Tokenization)
	assert.Equal(t, 100.0, score.Total)
	assert.Equal(t, types.BandKeep, score.Band)
	assert.Equal(t, s.Version(), score.RubricVersion)

	d, err := NewGate(s, nil).Evaluate(context.Background(), 1, types.TypeHTML, []byte(polishedEmail))
	require.NoError(t, err)
	assert.True(t, d.Kept())
	assert.Equal(t, []State{StateScored, StateKeep}, d.Path)
	assert.Equal(t, 1, d.Score.Attempts)
}

func TestRoughEmailIsDropped(t *testing.T) {
	s := newTestScorer(t)
	score, err := s.Score(context.Background(), 2, types.TypeHTML, []byte(roughEmail))
	require.NoError(t, err)

	assert.Less(t, score.Total, types.RetryThreshold)
	assert.Equal(t, types.BandDrop, score.Band)
	assert.Equal(t, 0.0, score.Subscores.Responsiveness)
	assert.Equal(t, 0.0, score.Subscores.Tokenization)
	assert.InDelta(t, 36.4, score.Total, 0.001)

	d, err := NewGate(s, nil).Evaluate(context.Background(), 2, types.TypeHTML, []byte(roughEmail))
	require.NoError(t, err)
	assert.False(t, d.Kept())
	assert.Equal(t, types.BandDrop, d.Score.Band)
	assert.Equal(t, []State{StateScored, StateDrop}, d.Path, "drop band is never retried")
}

func TestRetryBandIsRemediatedOnce(t *testing.T) {
	s := newTestScorer(t)
	first, err := s.Score(context.Background(), 3, types.TypeHTML, []byte(almostEmail))
	require.NoError(t, err)
	require.Equal(t, types.BandRetry, first.Band, "total %.2f", first.Total)
	assert.InDelta(t, 83.51, first.Total, 0.001)

	d, err := NewGate(s, nil).Evaluate(context.Background(), 3, types.TypeHTML, []byte(almostEmail))
	require.NoError(t, err)
	assert.Equal(t, []State{StateScored, StateRetry, StateRemediated, StateRescored, StateKeep}, d.Path)
	assert.True(t, d.Kept())
	assert.Equal(t, 2, d.Score.Attempts)
	assert.True(t, d.Score.Remediated)
	assert.InDelta(t, 96.4, d.Score.Total, 0.001)
	assert.Equal(t, first.ContentHash, d.Score.ContentHash)
	assert.Contains(t, d.Fixes, FixViewport)
	assert.Contains(t, d.Fixes, FixPaletteToken)
	assert.Contains(t, string(d.Content), "{brandAccent}")
}

func TestRetryThatStaysBelowKeepIsDropped(t *testing.T) {
	s := newTestScorer(t)
	// Nothing to remediate: rescoring yields the same retry-band total
	content := strings.Replace(email(styleLiteral, 7), "<head>", "<header-less>", 1)
	content = strings.Replace(content, "</head>", "</header-less>", 1)

	d, err := NewGate(s, NewRemediator(nil)).Evaluate(context.Background(), 4, types.TypeHTML, []byte(content))
	require.NoError(t, err)
	require.Len(t, d.Path, 5)
	assert.Equal(t, StateDrop, d.Path[4])
	assert.Equal(t, types.BandDrop, d.Score.Band)
	assert.False(t, d.Score.Remediated)
	assert.Equal(t, 2, d.Score.Attempts)
}

func TestVersionCoversPalette(t *testing.T) {
	light := newTestScorer(t)
	dark, err := Skin("linear_dark")
	require.NoError(t, err)
	s, err := NewScorer(Config{Palette: dark})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(light.Version(), RubricVersion+"+"))
	assert.NotEqual(t, light.Version(), s.Version())
	assert.Equal(t, s.Version(), NewGate(s, nil).Version())

	again, err := NewScorer(Config{Palette: dark})
	require.NoError(t, err)
	assert.Equal(t, s.Version(), again.Version(), "same palette, same version")
}

func TestTotalIsRoundedBeforeBanding(t *testing.T) {
	assert.Equal(t, 85.0, round2(84.996))
	assert.Equal(t, types.BandKeep, types.ClassifyBand(round2(84.996)))
	assert.Equal(t, 84.99, round2(84.994))
	assert.Equal(t, types.BandRetry, types.ClassifyBand(round2(84.994)))
	assert.Equal(t, types.BandRetry, types.ClassifyBand(round2(74.996)))
}

func TestScoreIsDeterministic(t *testing.T) {
	s := newTestScorer(t)
	for _, content := range []string{polishedEmail, almostEmail, roughEmail} {
		a, err := s.Score(context.Background(), 1, types.TypeHTML, []byte(content))
		require.NoError(t, err)
		b, err := s.Score(context.Background(), 1, types.TypeHTML, []byte(content))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestRemediationIsIdempotent(t *testing.T) {
	palette, err := Skin(DefaultSkin)
	require.NoError(t, err)
	r := NewRemediator(palette)

	raw := `<html><head></head><body><table><tr><td style="color: #1d1d1f; background-color: #ffffff"><img src="a.png" /></td></tr></table></body></html>`
	once, fixes := r.Remediate([]byte(raw))
	assert.ElementsMatch(t, []Fix{FixImgAlt, FixTableRole, FixHTMLLang, FixViewport, FixPaletteToken}, fixes)
	assert.Contains(t, string(once), `<img src="a.png" alt="" />`)
	assert.Contains(t, string(once), `<table role="presentation">`)
	assert.Contains(t, string(once), `<html lang="en">`)
	assert.Contains(t, string(once), `name="viewport"`)
	assert.Contains(t, string(once), `color: {brandText}; background-color: {brandBG}`)

	twice, fixes := r.Remediate(once)
	assert.Empty(t, fixes)
	assert.Equal(t, string(once), string(twice))
}

func TestRemediatorLeavesForeignColors(t *testing.T) {
	palette, err := Skin(DefaultSkin)
	require.NoError(t, err)
	r := NewRemediator(palette)

	raw := `<p style="color:#123456">x</p>`
	out, fixes := r.Remediate([]byte(raw))
	assert.Empty(t, fixes)
	assert.Equal(t, raw, string(out))
}

func TestRubricErrorsDefaultToZero(t *testing.T) {
	s := newTestScorer(t)
	content := `<html><head><meta name="viewport" content="width=device-width"></head><body><table><tr><td>Plain</td></tr></table></body></html>`

	score, err := s.Score(context.Background(), 5, types.TypeHTML, []byte(content))
	require.NoError(t, err)
	require.Len(t, score.Errors, 2)
	assert.Contains(t, score.Errors[0], SubContrast)
	assert.Contains(t, score.Errors[1], SubTokenization)
	assert.Equal(t, 0.0, score.Subscores.Contrast)
	assert.Equal(t, 0.0, score.Subscores.Tokenization)
	assert.Greater(t, score.Total, 0.0, "total is still computed")
}

func TestUnparseableScoresZero(t *testing.T) {
	s := newTestScorer(t)
	score, err := s.Score(context.Background(), 6, types.TypeHTML, []byte("no markup at all"))
	require.NoError(t, err)
	assert.Len(t, score.Errors, len(rubric))
	assert.Equal(t, 0.0, score.Total)
	assert.Equal(t, types.BandDrop, score.Band)
}

func TestCodeSafetyPenalties(t *testing.T) {
	tests := []struct {
		name string
		html string
		want float64
	}{
		{"clean", `<div><p>ok</p></div>`, 1.0},
		{"script", `<div><script>alert(1)</script></div>`, 0.0},
		{"event handler", `<div onclick="x()"><p>ok</p></div>`, 0.7},
		{"javascript url", `<div><a href="javascript:void(0)">x</a></div>`, 0.7},
		{"form", `<div><form><input name="q"></form></div>`, 0.7},
		{"unclosed div", `<div><span>x</span>`, 0.8},
		{"stray end tag", `<div>x</div></span>`, 0.8},
		{"optional end tags", `<table><tr><td>a<td>b</table>`, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parseDocument([]byte(tt.html))
			require.NoError(t, err)
			got, err := codeSafety(doc, nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestMJMLStructure(t *testing.T) {
	s := newTestScorer(t)
	mjml := `<mjml>
  <mj-head><mj-style>.hero { background-color: {brandBG}; color: {brandText}; }</mj-style></mj-head>
  <mj-body>
    <mj-section css-class="hero"><mj-column><mj-text color="{brandText}">Hi</mj-text><mj-button background-color="{brandAccent}" color="#ffffff">Go</mj-button></mj-column></mj-section>
    <mj-section css-class="footer"><mj-column><mj-text>Bye</mj-text></mj-column></mj-section>
  </mj-body>
</mjml>`

	score, err := s.Score(context.Background(), 7, types.TypeMJML, []byte(mjml))
	require.NoError(t, err)
	assert.Equal(t, 1.0, score.Subscores.Responsiveness)
	// 4 table-like components, 2 sections, a button
	assert.InDelta(t, 0.6*0.4+0.2*(2.0/3.0)+0.2, score.Subscores.Hierarchy, 1e-9)
	assert.Equal(t, 1.0, score.Subscores.Contrast)
	assert.InDelta(t, 4.0/5.0, score.Subscores.Tokenization, 1e-9)
}

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, types.ArtifactType, []byte) ([]byte, error) {
	return nil, errors.New("compiler unavailable")
}

func TestRendererFailure(t *testing.T) {
	s, err := NewScorer(Config{Renderer: failingRenderer{}})
	require.NoError(t, err)
	_, err = s.Score(context.Background(), 8, types.TypeMJML, []byte("<mjml></mjml>"))
	assert.ErrorContains(t, err, "compiler unavailable")
}

func TestContrastRatio(t *testing.T) {
	white, _ := parseColor("#fff")
	black, _ := parseColor("black")
	assert.InDelta(t, 21.0, contrastRatio(white, black), 0.01)
	assert.InDelta(t, 1.0, contrastRatio(white, white), 1e-9)

	c, ok := parseColor("rgba(0, 113, 227, 0.5)")
	require.True(t, ok)
	assert.Equal(t, rgb{0, 113, 227}, c)

	_, ok = parseColor("transparent")
	assert.False(t, ok)
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from State
		band types.Band
		want State
	}{
		{StateScored, types.BandKeep, StateKeep},
		{StateScored, types.BandRetry, StateRetry},
		{StateScored, types.BandDrop, StateDrop},
		{StateRetry, types.BandRetry, StateRemediated},
		{StateRemediated, types.BandRetry, StateRescored},
		{StateRescored, types.BandKeep, StateKeep},
		{StateRescored, types.BandRetry, StateDrop},
		{StateRescored, types.BandDrop, StateDrop},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.from, tt.band), func(t *testing.T) {
			got, err := transition(tt.from, tt.band)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := transition(StateKeep, types.BandKeep)
	assert.Error(t, err, "terminal states have no transitions")
}

func TestSkins(t *testing.T) {
	for _, name := range SkinNames() {
		p, err := Skin(name)
		require.NoError(t, err)
		assert.NoError(t, p.Validate(), name)
	}
	_, err := Skin("nope")
	assert.Error(t, err)
}
