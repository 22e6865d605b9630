package units

// Span is a selectable unit: either a single unit or a diphone made of two
// adjacent halves. For a single unit First and Last are the same unit.
type Span struct {
	First Unit
	Last  Unit
}

// Single wraps one unit.
func Single(u Unit) Span { return Span{First: u, Last: u} }

// Diphone pairs a left half with the unit that follows it.
func Diphone(left, right Unit) Span { return Span{First: left, Last: right} }

// IsDiphone reports whether s has two distinct halves.
func (s Span) IsDiphone() bool { return s.First.Index != s.Last.Index }

// Index is the index of the first unit; it orders spans for tie-breaks.
func (s Span) Index() int { return s.First.Index }

// Duration is the summed duration of the halves.
func (s Span) Duration() int64 {
	if !s.IsDiphone() {
		return int64(s.First.Duration)
	}
	return int64(s.First.Duration) + int64(s.Last.Duration)
}

// Units lists the underlying units in time order.
func (s Span) Units() []Unit {
	if !s.IsDiphone() {
		return []Unit{s.First}
	}
	return []Unit{s.First, s.Last}
}
