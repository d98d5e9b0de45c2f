package period

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("invalid date range")

// Range is an inclusive span of calendar days.
type Range struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// NewRange returns [from, to], validating the order.
func NewRange(from, to Date) (Range, error) {
	if to.Before(from) {
		return Range{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, from, to)
	}
	return Range{From: from, To: to}, nil
}

// ParseRange parses two YYYY-MM-DD strings into a Range.
func ParseRange(from, to string) (Range, error) {
	f, err := ParseDate(from)
	if err != nil {
		return Range{}, err
	}
	t, err := ParseDate(to)
	if err != nil {
		return Range{}, err
	}
	return NewRange(f, t)
}

// Days returns the number of days covered, counting both ends.
func (r Range) Days() int {
	return DaysBetween(r.From, r.To) + 1
}

// Contains reports whether d falls inside the range.
func (r Range) Contains(d Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// String formats the range in search syntax, e.g. 2023-01-01..2023-01-05.
func (r Range) String() string {
	return r.From.String() + ".." + r.To.String()
}

// Halve splits the range at M = From + floor((Days-1)/2) into [From, M]
// and [M+1, To]. It reports false for a single-day range, which cannot be
// split any further.
func (r Range) Halve() (Range, Range, bool) {
	if !r.From.Before(r.To) {
		return Range{}, Range{}, false
	}
	mid := r.From.AddDays((r.Days() - 1) / 2)
	return Range{From: r.From, To: mid}, Range{From: mid.AddDays(1), To: r.To}, true
}

// Halves returns the two halves of the range, or nil when it is a single day.
func (r Range) Halves() []Range {
	first, second, ok := r.Halve()
	if !ok {
		return nil
	}
	return []Range{first, second}
}

// SplitParts splits the range into parts pieces by repeated halving.
// parts must be a power of two. Pieces that reach a single day stop
// splitting, so short ranges yield fewer than parts pieces.
func (r Range) SplitParts(parts int) ([]Range, error) {
	if parts < 1 || parts&(parts-1) != 0 {
		return nil, fmt.Errorf("parts must be a power of two, got %d", parts)
	}

	current := []Range{r}
	for n := 1; n < parts; n *= 2 {
		next := make([]Range, 0, len(current)*2)
		for _, piece := range current {
			if halves := piece.Halves(); halves != nil {
				next = append(next, halves...)
			} else {
				next = append(next, piece)
			}
		}
		current = next
	}
	return current, nil
}

// Partition covers [from, to] with consecutive ranges of spanDays days.
// The final range is clipped to to. Returns nil when to is before from.
func Partition(from, to Date, spanDays int) []Range {
	if spanDays < 1 {
		spanDays = 1
	}
	if to.Before(from) {
		return nil
	}

	ranges := make([]Range, 0, (DaysBetween(from, to)/spanDays)+1)
	for start := from; !start.After(to); start = start.AddDays(spanDays) {
		end := start.AddDays(spanDays - 1)
		if end.After(to) {
			end = to
		}
		ranges = append(ranges, Range{From: start, To: end})
	}
	return ranges
}

// SpanForDensity returns the per-request span in days for a partition that
// holds count items, given the span that suits perCount items.
// The division rounds up; the result is never below one day.
//
// Example: spanPerCount=5, perCount=10000, count=100 gives ceil(500) = 500.
func SpanForDensity(spanPerCount, perCount, count int) int {
	if count < 1 {
		count = 1
	}
	numerator := spanPerCount * perCount
	span := (numerator + count - 1) / count
	if span < 1 {
		return 1
	}
	return span
}
