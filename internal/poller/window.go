package poller

import "time"

// Span is a half-open interval [Start, End).
type Span struct {
	Start time.Time
	End   time.Time
}

// SplitWindow cuts [start, end) into consecutive spans of at most chunk.
// The spans cover the interval exactly once. A non-positive chunk yields
// the whole interval; an empty interval yields nothing.
func SplitWindow(start, end time.Time, chunk time.Duration) []Span {
	if !start.Before(end) {
		return nil
	}
	if chunk <= 0 {
		return []Span{{Start: start, End: end}}
	}
	spans := make([]Span, 0, int(end.Sub(start)/chunk)+1)
	for cur := start; cur.Before(end); {
		next := cur.Add(chunk)
		if next.After(end) {
			next = end
		}
		spans = append(spans, Span{Start: cur, End: next})
		cur = next
	}
	return spans
}
