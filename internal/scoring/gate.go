package scoring

import (
	"context"
	"fmt"

	"github.com/steveyegge/forge/internal/types"
)

// State is a step of the quality gate
type State string

const (
	StateScored     State = "scored"
	StateRetry      State = "retry"
	StateRemediated State = "remediated"
	StateRescored   State = "rescored"
	StateKeep       State = "keep"
	StateDrop       State = "drop"
)

// IsTerminal reports whether the gate stops in this state
func (s State) IsTerminal() bool {
	return s == StateKeep || s == StateDrop
}

// transition returns the state that follows from, given the band of the most
// recent score. There is exactly one path through StateRetry, so the gate
// terminates after at most one remediation.
func transition(from State, band types.Band) (State, error) {
	switch from {
	case StateScored:
		switch band {
		case types.BandKeep:
			return StateKeep, nil
		case types.BandRetry:
			return StateRetry, nil
		default:
			return StateDrop, nil
		}
	case StateRetry:
		return StateRemediated, nil
	case StateRemediated:
		return StateRescored, nil
	case StateRescored:
		// A second retry band is not retried again
		if band == types.BandKeep {
			return StateKeep, nil
		}
		return StateDrop, nil
	}
	return "", fmt.Errorf("no transition from %s", from)
}

// Decision is the outcome of the gate for one record
type Decision struct {
	// Score is the final score. Its Band is the terminal decision: keep or drop.
	Score *types.Score

	// Content is the markup that was finally scored (remediated when a retry ran)
	Content []byte

	Fixes []Fix
	Path  []State
}

// Kept reports whether the record made it into the catalog
func (d *Decision) Kept() bool {
	return d.Score.Band == types.BandKeep
}

// Gate runs the score → (retry → remediate → rescore) → keep|drop state machine
type Gate struct {
	scorer     *Scorer
	remediator *Remediator
}

// NewGate creates a gate. A nil remediator uses the scorer's palette.
func NewGate(scorer *Scorer, remediator *Remediator) *Gate {
	if remediator == nil {
		remediator = NewRemediator(scorer.Palette())
	}
	return &Gate{scorer: scorer, remediator: remediator}
}

// Version is the version stamped on the scores this gate produces
func (g *Gate) Version() string {
	return g.scorer.Version()
}

// Evaluate scores a record and walks it to a terminal state
func (g *Gate) Evaluate(ctx context.Context, recordID int64, typ types.ArtifactType, content []byte) (*Decision, error) {
	score, err := g.scorer.Score(ctx, recordID, typ, content)
	if err != nil {
		return nil, err
	}
	return g.walk(ctx, score, typ, content)
}

func (g *Gate) walk(ctx context.Context, score *types.Score, typ types.ArtifactType, content []byte) (*Decision, error) {
	d := &Decision{Score: score, Content: content, Path: []State{StateScored}}
	state := StateScored

	for !state.IsTerminal() {
		next, err := transition(state, d.Score.Band)
		if err != nil {
			return nil, err
		}

		switch next {
		case StateRemediated:
			d.Content, d.Fixes = g.remediator.Remediate(d.Content)
		case StateRescored:
			rescored, err := g.scorer.Score(ctx, score.RecordID, typ, d.Content)
			if err != nil {
				return nil, err
			}
			// The score belongs to the record, not to the remediated bytes
			rescored.ContentHash = score.ContentHash
			rescored.Attempts = 2
			rescored.Remediated = len(d.Fixes) > 0
			d.Score = rescored
		}

		state = next
		d.Path = append(d.Path, state)
	}

	if state == StateKeep {
		d.Score.Band = types.BandKeep
	} else {
		d.Score.Band = types.BandDrop
	}
	return d, nil
}
