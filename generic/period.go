/*
period.go - Booking period algebra

PURPOSE:
  A Period is a time range with an optional end and one of two resolutions:

    FullDays = true   Start and End are dates; End is the LAST day (inclusive)
    FullDays = false  Start and End are datetimes; End is exclusive

  A nil End means the period is open-ended (extends to +infinity). An hourly
  period with End == Start is an instant.

KEY OPERATIONS:
  Overlaps, Contains, IsBefore, IsBeforeOrDuring, Tail, SetFullDays, AsDays

  Every comparison goes through two normalized bounds: lower() and
  EndBound(), both in half-open [lower, bound) form. That keeps each
  operation consistent with the others, whatever the resolution.

EXAMPLE:
  [2025-03-01, 2025-03-03] full days  → bounds [03-01 00:00, 03-04 00:00)
                                        AsDays() = 3
  [10:00, 14:00) hourly               → AsDays() = 1 (rounded up)

SEE ALSO:
  - booking.go: operation vs mobilization periods
  - availability.go: overlap-driven neighbor discovery
*/
package generic

import (
	"fmt"
	"time"
)

// Period is immutable in practice: every operation returns a new value.
type Period struct {
	Start    time.Time
	End      *time.Time
	FullDays bool
}

// NewPeriod builds a closed period and checks Start <= End.
// Full-day periods are truncated to dates.
func NewPeriod(start, end time.Time, fullDays bool) (Period, error) {
	p := Period{Start: start, End: &end, FullDays: fullDays}
	if fullDays {
		p = p.truncated()
	}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// MustPeriod is NewPeriod for literals known to be valid.
func MustPeriod(start, end time.Time, fullDays bool) Period {
	p, err := NewPeriod(start, end, fullDays)
	if err != nil {
		panic(err)
	}
	return p
}

// Days is shorthand for a full-day period from the first to the last day.
func Days(first, last time.Time) Period {
	return MustPeriod(first, last, true)
}

// NewOpenPeriod builds a period without an end.
func NewOpenPeriod(start time.Time, fullDays bool) Period {
	p := Period{Start: start, FullDays: fullDays}
	if fullDays {
		p = p.truncated()
	}
	return p
}

// Validate rejects periods whose end lies before their start.
func (p Period) Validate() error {
	if p.Start.IsZero() {
		return fmt.Errorf("%w: missing start", ErrInvalidPeriod)
	}
	if p.End != nil && p.End.Before(p.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidPeriod,
			p.End.Format(time.RFC3339), p.Start.Format(time.RFC3339))
	}
	return nil
}

func (p Period) truncated() Period {
	out := Period{Start: StartOfDay(p.Start), FullDays: p.FullDays}
	if p.End != nil {
		end := StartOfDay(*p.End)
		out.End = &end
	}
	return out
}

func (p Period) clone() Period {
	return Period{Start: p.Start, End: cloneTime(p.End), FullDays: p.FullDays}
}

// IsOpen reports whether the period has no end.
func (p Period) IsOpen() bool { return p.End == nil }

func (p Period) isInstant() bool {
	return !p.FullDays && p.End != nil && p.End.Equal(p.Start)
}

func (p Period) lower() time.Time {
	if p.FullDays {
		return StartOfDay(p.Start)
	}
	return p.Start
}

// EndBound returns the exclusive upper bound. A full-day period ends at the
// midnight following its last day. ok is false for open-ended periods.
func (p Period) EndBound() (time.Time, bool) {
	if p.End == nil {
		return time.Time{}, false
	}
	if p.FullDays {
		return StartOfDay(*p.End).AddDate(0, 0, 1), true
	}
	return *p.End, true
}

// Lower returns the inclusive start instant.
func (p Period) Lower() time.Time { return p.lower() }

// =============================================================================
// PREDICATES
// =============================================================================

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	lo := p.lower()
	if t.Before(lo) {
		return false
	}
	if p.isInstant() {
		return t.Equal(lo)
	}
	hi, ok := p.EndBound()
	if !ok {
		return true
	}
	return t.Before(hi)
}

// Overlaps is symmetric. Touching periods ([a, b) and [b, c)) do not overlap.
// An instant overlaps a period iff the period contains it.
func (p Period) Overlaps(o Period) bool {
	if p.isInstant() {
		return o.Contains(p.Start)
	}
	if o.isInstant() {
		return p.Contains(o.Start)
	}
	if hi, ok := p.EndBound(); ok && !o.lower().Before(hi) {
		return false
	}
	if hi, ok := o.EndBound(); ok && !p.lower().Before(hi) {
		return false
	}
	return true
}

// Encloses reports whether o lies entirely within p.
func (p Period) Encloses(o Period) bool {
	if o.lower().Before(p.lower()) {
		return false
	}
	pHi, pClosed := p.EndBound()
	if !pClosed {
		return true
	}
	oHi, oClosed := o.EndBound()
	if !oClosed {
		return false
	}
	return !oHi.After(pHi)
}

// IsBefore reports whether the period has completely ended at t.
func (p Period) IsBefore(t time.Time) bool {
	hi, ok := p.EndBound()
	if !ok {
		return false
	}
	if p.isInstant() {
		return p.Start.Before(t)
	}
	return !hi.After(t)
}

// IsBeforeOrDuring reports whether the period has started at t.
func (p Period) IsBeforeOrDuring(t time.Time) bool {
	return !p.lower().After(t)
}

// SameRange compares the covered range, ignoring resolution.
// [D, D] full days and [D 00:00, D+1 00:00) hourly are the same range.
func (p Period) SameRange(o Period) bool {
	if !p.lower().Equal(o.lower()) {
		return false
	}
	pHi, pOK := p.EndBound()
	oHi, oOK := o.EndBound()
	if pOK != oOK {
		return false
	}
	return !pOK || pHi.Equal(oHi)
}

// =============================================================================
// TRANSFORMATIONS
// =============================================================================

// Tail returns the part of the period from `from` onwards.
func (p Period) Tail(from time.Time) (Period, error) {
	if !p.Contains(from) {
		return Period{}, &InvalidArgumentError{
			Field:  "from",
			Reason: fmt.Sprintf("%s is outside %s", from.Format(time.RFC3339), p),
		}
	}
	out := Period{Start: from, End: cloneTime(p.End), FullDays: p.FullDays}
	if p.FullDays {
		out.Start = StartOfDay(from)
	}
	return out, nil
}

// SetFullDays converts the period to the requested resolution while
// covering the same physical range.
func (p Period) SetFullDays(fullDays bool) Period {
	if fullDays == p.FullDays {
		out := p.clone()
		if fullDays {
			out = out.truncated()
		}
		return out
	}
	if fullDays {
		out := Period{Start: StartOfDay(p.Start), FullDays: true}
		if p.End != nil {
			last := StartOfDay(*p.End)
			if p.End.After(p.Start) && p.End.Equal(last) {
				last = last.AddDate(0, 0, -1)
			}
			if last.Before(out.Start) {
				last = out.Start
			}
			out.End = &last
		}
		return out
	}
	out := Period{Start: p.lower(), FullDays: false}
	if hi, ok := p.EndBound(); ok {
		out.End = &hi
	}
	return out
}

// AsDays returns the billable day count: inclusive in full-day mode,
// ceil(duration / 24h) with a minimum of 1 in hourly mode, 0 when open-ended.
func (p Period) AsDays() int {
	if p.End == nil {
		return 0
	}
	if p.FullDays {
		return DaysBetween(p.Start, *p.End) + 1
	}
	d := p.End.Sub(p.Start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

func (p Period) String() string {
	if p.FullDays {
		end := "∞"
		if p.End != nil {
			end = p.End.Format("2006-01-02")
		}
		return fmt.Sprintf("[%s, %s]", p.Start.Format("2006-01-02"), end)
	}
	end := "∞"
	if p.End != nil {
		end = p.End.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", p.Start.Format(time.RFC3339), end)
}
