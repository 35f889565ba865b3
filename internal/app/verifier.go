package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tiershift/internal/catalog"
	"tiershift/internal/ledger"
	"tiershift/internal/relocate"

	"go.uber.org/zap"
)

// Mismatch is an object whose current definition differs from its snapshot
type Mismatch struct {
	Object   ledger.ObjectID `json:"object"`
	Reason   string          `json:"reason"`
	Expected string          `json:"expected,omitempty"`
	Actual   string          `json:"actual,omitempty"`
}

// Verifier compares current definitions against a run's snapshots
type Verifier struct {
	scripter  catalog.Scripter
	snapshots ledger.SnapshotStore
	logger    *zap.Logger
}

// NewVerifier creates a verifier
func NewVerifier(scripter catalog.Scripter, snapshots ledger.SnapshotStore, logger *zap.Logger) *Verifier {
	return &Verifier{scripter: scripter, snapshots: snapshots, logger: logger}
}

// Verify re-captures every snapshotted object of the run and compares it
// byte for byte. An empty result means every object is unchanged.
func (v *Verifier) Verify(ctx context.Context, runID string) ([]Mismatch, error) {
	snaps, err := v.snapshots.Snapshots(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	var mismatches []Mismatch
	for _, snap := range snaps {
		current, err := v.scripter.Script(ctx, snap.Object)
		if errors.Is(err, relocate.ErrObjectNotFound) {
			mismatches = append(mismatches, Mismatch{
				Object:   snap.Object,
				Reason:   "object not found",
				Expected: snap.Definition,
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to script %s: %w", snap.Object, err)
		}

		if current == snap.Definition {
			continue
		}
		m := Mismatch{
			Object:   snap.Object,
			Reason:   firstDifference(snap.Definition, current),
			Expected: snap.Definition,
			Actual:   current,
		}
		v.logger.Warn("Definition changed", zap.String("object", snap.Object.String()), zap.String("reason", m.Reason))
		mismatches = append(mismatches, m)
	}

	v.logger.Info("Verification finished",
		zap.Int("objects", len(snaps)),
		zap.Int("mismatches", len(mismatches)),
	)
	return mismatches, nil
}

// firstDifference describes the first line where two definitions diverge
func firstDifference(expected, actual string) string {
	want := strings.Split(expected, "\n")
	got := strings.Split(actual, "\n")

	for i := 0; i < len(want) || i < len(got); i++ {
		var w, g string
		if i < len(want) {
			w = want[i]
		}
		if i < len(got) {
			g = got[i]
		}
		if w == g {
			continue
		}
		switch {
		case i >= len(want):
			return fmt.Sprintf("line %d added: %q", i+1, g)
		case i >= len(got):
			return fmt.Sprintf("line %d removed: %q", i+1, w)
		default:
			return fmt.Sprintf("line %d: expected %q, got %q", i+1, w, g)
		}
	}
	return "definitions differ"
}
