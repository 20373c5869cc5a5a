package model

import "fmt"

// OptimizeOptions selects the markers that survive OptimizeForTracking.
type OptimizeOptions struct {
	// KeepAllMarkers leaves every marker in place.
	KeepAllMarkers bool
	// KeepMarkers names the markers to keep when KeepAllMarkers is false.
	KeepMarkers []string
}

// OptimizeForTracking shortens the line without changing its transfer map:
// markers go (except the kept ones), then inactive multipoles, then
// consecutive multipoles are merged, redundant apertures dropped, zero
// length drifts removed and consecutive drifts merged.
//
// The steps run on a scratch order; l changes only when all of them
// succeed. Lines with collective elements are rejected because merging
// across them would change where the ensemble is kicked.
func (l *Line) OptimizeForTracking(opts OptimizeOptions) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	if l.HasCollective() {
		return fmt.Errorf("%w: cannot optimize a line with collective elements", ErrStructuralConflict)
	}
	work := l.ShareCopy()
	var steps []func(...string) error
	if !opts.KeepAllMarkers {
		steps = append(steps, work.RemoveMarkers)
	}
	steps = append(steps,
		work.RemoveInactiveMultipoles,
		work.MergeConsecutiveMultipoles,
		work.RemoveRedundantApertures,
		work.RemoveZeroLengthDrifts,
		work.MergeConsecutiveDrifts,
	)
	for _, step := range steps {
		if err := step(opts.KeepMarkers...); err != nil {
			return fmt.Errorf("optimize for tracking: %w", err)
		}
	}
	l.commit(work.entries())
	return nil
}
