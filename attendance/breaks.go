package attendance

import (
	"fmt"

	"github.com/warp/hoursbank/generic"
)

// =============================================================================
// BREAK CALCULATOR - Where the break falls inside a shift
// =============================================================================

// Placement decides where an automatic break goes when the schedule has no
// explicit break start.
type Placement string

const (
	// PlacementMidpointStart starts the break at the shift midpoint,
	// moved earlier if needed so it ends inside the shift.
	// 09:00-17:00 with 60 minutes gives 13:00-14:00.
	PlacementMidpointStart Placement = "midpoint_start"

	// PlacementCentered centers the break on the midpoint and clamps both
	// edges into the shift. 09:00-17:00 with 60 minutes gives 12:30-13:30.
	PlacementCentered Placement = "centered"
)

func ParsePlacement(s string) (Placement, error) {
	switch Placement(s) {
	case "":
		return PlacementMidpointStart, nil
	case PlacementMidpointStart, PlacementCentered:
		return Placement(s), nil
	}
	return "", fmt.Errorf("unknown break placement %q", s)
}

// Window is a half-open clock interval [Start, End).
type Window struct {
	Start generic.ClockTime
	End   generic.ClockTime
}

func (w Window) Minutes() int { return max(w.End.Minutes()-w.Start.Minutes(), 0) }

// Contains reports whether t is in [Start, End).
func (w Window) Contains(t generic.ClockTime) bool { return t >= w.Start && t < w.End }

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }

type BreakCalculator struct {
	Placement Placement
}

// Window returns the break inside the shift [start, end], or nil when there
// is none. An explicit start is used as is; automatic placement only
// happens when the shift is longer than the break.
func (c BreakCalculator) Window(start, end generic.ClockTime, duration *int, explicitStart *generic.ClockTime) *Window {
	if duration == nil || *duration <= 0 {
		return nil
	}
	d := *duration
	if explicitStart != nil {
		return &Window{Start: *explicitStart, End: explicitStart.Add(d)}
	}

	length := end.Minutes() - start.Minutes()
	if length <= d {
		return nil
	}
	mid := start.Add(length / 2)

	switch c.Placement {
	case PlacementCentered:
		bs, be := mid.Add(-d/2), mid.Add(-d/2).Add(d)
		bs, be = max(bs, start), min(be, end)
		if be <= bs {
			return nil
		}
		return &Window{Start: bs, End: be}
	default:
		bs := mid
		if bs.Add(d) > end {
			bs = end.Add(-d)
		}
		return &Window{Start: bs, End: bs.Add(d)}
	}
}

// OverlapMinutes is the clamped overlap between [from, to] and the break.
func OverlapMinutes(w *Window, from, to generic.ClockTime) int {
	if w == nil || to <= from {
		return 0
	}
	lo, hi := max(from, w.Start), min(to, w.End)
	return max(hi.Minutes()-lo.Minutes(), 0)
}
