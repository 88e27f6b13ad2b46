package finance

import "time"

// =============================================================================
// PERIOD - Statement window
// =============================================================================

// Period bounds a statement by transaction day, inclusive on both ends.
// A zero From or To leaves that side open.
type Period struct {
	From time.Time
	To   time.Time
}

// Day truncates t to its calendar day in UTC. Transaction dates are compared
// at day granularity; Seq orders entries within a day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Before reports whether t falls on a day before the window opens.
func (p Period) Before(t time.Time) bool {
	return !p.From.IsZero() && Day(t).Before(Day(p.From))
}

// After reports whether t falls on a day after the window closes.
func (p Period) After(t time.Time) bool {
	return !p.To.IsZero() && Day(t).After(Day(p.To))
}

// Contains returns true if t falls within [From, To].
func (p Period) Contains(t time.Time) bool {
	return !p.Before(t) && !p.After(t)
}

func (p Period) String() string {
	from, to := "-", "-"
	if !p.From.IsZero() {
		from = p.From.Format("2006-01-02")
	}
	if !p.To.IsZero() {
		to = p.To.Format("2006-01-02")
	}
	return "[" + from + ", " + to + "]"
}
