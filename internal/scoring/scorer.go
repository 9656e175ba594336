// Package scoring evaluates keeper records against a fixed six-criterion
// rubric and gates them into keep, retry or drop.
//
// Every subscore is a deterministic heuristic over the rendered markup, so
// identical bytes always produce an identical Score. A heuristic that cannot
// evaluate its inputs scores 0 and records a *types.ScoringRubricError on the
// Score; the total is still computed.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steveyegge/forge/internal/hashing"
	"github.com/steveyegge/forge/internal/types"
)

// RubricVersion identifies the rubric and heuristics. Scores are stamped
// with Scorer.Version, which also covers the palette.
const RubricVersion = "forge-rubric/1"

// Renderer turns an artifact into the HTML the heuristics read. MJML is
// compiled by an external collaborator; see PassthroughRenderer.
type Renderer interface {
	Render(ctx context.Context, typ types.ArtifactType, content []byte) ([]byte, error)
}

// PassthroughRenderer returns the markup unchanged. MJML documents are then
// scored on their component structure (mj-section, mj-column, mj-button).
type PassthroughRenderer struct{}

// Render returns content as is
func (PassthroughRenderer) Render(_ context.Context, _ types.ArtifactType, content []byte) ([]byte, error) {
	return content, nil
}

// Config configures a Scorer
type Config struct {
	Renderer Renderer // Default: PassthroughRenderer
	Palette  Palette  // Default: the DefaultSkin palette
	Logger   *slog.Logger
}

// Scorer computes quality scores. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	renderer Renderer
	palette  Palette
	version  string
	logger   *slog.Logger
}

// NewScorer creates a scorer
func NewScorer(cfg Config) (*Scorer, error) {
	if cfg.Renderer == nil {
		cfg.Renderer = PassthroughRenderer{}
	}
	if cfg.Palette == nil {
		p, err := Skin(DefaultSkin)
		if err != nil {
			return nil, err
		}
		cfg.Palette = p
	}
	if err := cfg.Palette.Validate(); err != nil {
		return nil, fmt.Errorf("invalid palette: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scorer{
		renderer: cfg.Renderer,
		palette:  cfg.Palette,
		version:  RubricVersion + "+" + cfg.Palette.Digest(),
		logger:   cfg.Logger,
	}, nil
}

// Version identifies the rubric and palette a score was computed with.
// Stored scores with a different version are recomputed.
func (s *Scorer) Version() string {
	return s.version
}

// Palette returns the palette used to resolve tokens
func (s *Scorer) Palette() Palette {
	return s.palette
}

// Score evaluates one artifact. The returned Score carries the band implied
// by its total and Attempts=1; the Gate decides what happens next. An error
// is only returned when rendering fails.
func (s *Scorer) Score(ctx context.Context, recordID int64, typ types.ArtifactType, content []byte) (*types.Score, error) {
	rendered, err := s.renderer.Render(ctx, typ, content)
	if err != nil {
		return nil, fmt.Errorf("failed to render record %d: %w", recordID, err)
	}

	score := &types.Score{
		RecordID:      recordID,
		ContentHash:   hashing.ContentHash(content),
		Attempts:      1,
		RubricVersion: s.version,
	}

	doc, parseErr := parseDocument(rendered)
	var weighted, weights float64
	for _, c := range rubric {
		weights += c.weight

		var v float64
		var err error
		if parseErr != nil {
			err = errRubric(c.name, parseErr.Error())
		} else {
			v, err = c.eval(doc, s.palette)
		}
		if err != nil {
			var rubricErr *types.ScoringRubricError
			if !errors.As(err, &rubricErr) {
				err = errRubric(c.name, err.Error())
			}
			v = 0
			score.Errors = append(score.Errors, err.Error())
		}

		v = clamp(v)
		setSubscore(&score.Subscores, c.name, v)
		weighted += c.weight * v
	}

	score.Total = round2(100 * weighted / weights)
	score.Band = types.ClassifyBand(score.Total)

	s.logger.Debug("Scored record",
		"record_id", recordID,
		"total", score.Total,
		"band", score.Band,
		"rubric_errors", len(score.Errors))
	return score, nil
}

func setSubscore(sub *types.Subscores, name string, v float64) {
	switch name {
	case SubHierarchy:
		sub.Hierarchy = v
	case SubResponsiveness:
		sub.Responsiveness = v
	case SubCodeSafety:
		sub.CodeSafety = v
	case SubAesthetics:
		sub.Aesthetics = v
	case SubContrast:
		sub.Contrast = v
	case SubTokenization:
		sub.Tokenization = v
	}
}
