package timeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/example/go-unitsel/internal/binfile"
)

// IndexEntry maps a cumulative time (native samples) to the byte position
// of the datagram starting at that time.
type IndexEntry struct {
	BytePos int64
	Time    int64
}

// Index is the sparse seek index of a timeline.
type Index struct {
	Interval int
	Entries  []IndexEntry
}

// Before returns the last entry at or before t. An empty index yields the
// zero entry, which callers replace with the start of the datagram zone.
func (x *Index) Before(t int64) (IndexEntry, bool) {
	i := sort.Search(len(x.Entries), func(i int) bool { return x.Entries[i].Time > t })
	if i == 0 {
		return IndexEntry{}, false
	}
	return x.Entries[i-1], true
}

// Reader provides random access by time to a timeline stored behind an
// io.ReaderAt. It holds no cursor state of its own and is safe for
// concurrent use.
type Reader struct {
	ra io.ReaderAt

	ProcHeader   string
	SampleRate   int
	NumDatagrams int64

	datagramsPos int64
	indexPos     int64
	index        Index
	total        int64
}

// Open validates the header and loads the index. size is the total length
// of the underlying data.
func Open(ra io.ReaderAt, size int64) (*Reader, error) {
	in := binfile.NewReader(bufio.NewReader(io.NewSectionReader(ra, 0, size)))
	if _, err := binfile.ReadHeader(in, binfile.TypeTimeline); err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	r := &Reader{ra: ra}
	r.ProcHeader = in.UTF()
	rate := in.Int32()
	r.NumDatagrams = in.Int64()
	r.datagramsPos = in.Int64()
	r.indexPos = in.Int64()
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("timeline: read header: %w", err)
	}
	switch {
	case rate <= 0:
		return nil, fmt.Errorf("timeline: %w: sample rate %d", binfile.ErrFormat, rate)
	case r.NumDatagrams < 0:
		return nil, fmt.Errorf("timeline: %w: negative datagram count %d", binfile.ErrFormat, r.NumDatagrams)
	case r.datagramsPos < in.Offset() || r.indexPos < r.datagramsPos || r.indexPos > size:
		return nil, fmt.Errorf("timeline: %w: datagram zone [%d,%d) in %d bytes", binfile.ErrFormat, r.datagramsPos, r.indexPos, size)
	}
	r.SampleRate = int(rate)

	idx := binfile.NewReader(bufio.NewReader(io.NewSectionReader(ra, r.indexPos, size-r.indexPos)))
	n := idx.Int32()
	interval := idx.Int32()
	if err := idx.Err(); err != nil {
		return nil, fmt.Errorf("timeline: read index: %w", err)
	}
	if n < 0 || int64(n)*16 > size-r.indexPos {
		return nil, fmt.Errorf("timeline: %w: index entry count %d", binfile.ErrFormat, n)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("timeline: %w: index interval %d", binfile.ErrFormat, interval)
	}
	r.index = Index{Interval: int(interval), Entries: make([]IndexEntry, n)}
	prev := IndexEntry{BytePos: r.datagramsPos}
	for i := range r.index.Entries {
		e := IndexEntry{BytePos: idx.Int64(), Time: idx.Int64()}
		if idx.Err() != nil {
			break
		}
		if e.BytePos < prev.BytePos || e.Time < prev.Time || e.BytePos > r.indexPos {
			return nil, fmt.Errorf("timeline: %w: index entry %d (%d,%d) out of order", binfile.ErrFormat, i, e.BytePos, e.Time)
		}
		r.index.Entries[i] = e
		prev = e
	}
	idx.Skip(16)
	if err := idx.Err(); err != nil {
		return nil, fmt.Errorf("timeline: read index trailer: %w", err)
	}
	total, err := r.scanTotal()
	if err != nil {
		return nil, err
	}
	r.total = total
	return r, nil
}

// scanTotal sums durations from the last index entry on.
func (r *Reader) scanTotal() (int64, error) {
	e, ok := r.index.Before(math.MaxInt64)
	if !ok {
		e = IndexEntry{BytePos: r.datagramsPos}
	}
	c := r.cursorAt(e)
	for {
		h, err := c.nextHeader()
		if errors.Is(err, io.EOF) {
			return c.time, nil
		}
		if err != nil {
			return 0, err
		}
		c.in.Skip(int64(h.length))
		c.time += h.duration
	}
}

// Index returns the sparse seek index.
func (r *Reader) Index() *Index { return &r.index }

// TotalDuration is the sum of all datagram durations in native samples.
func (r *Reader) TotalDuration() int64 { return r.total }

// scale converts t from rate to the native rate.
func (r *Reader) scale(t int64, rate int) int64 {
	if rate == r.SampleRate {
		return t
	}
	return int64(math.Round(float64(t) * float64(r.SampleRate) / float64(rate)))
}

// unscale converts a native duration to rate.
func (r *Reader) unscale(d int64, rate int) int64 {
	if rate == r.SampleRate {
		return d
	}
	return int64(math.Round(float64(d) * float64(rate) / float64(r.SampleRate)))
}

func (r *Reader) checkTime(t int64, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("timeline: %w: sample rate %d", binfile.ErrOutOfRange, rate)
	}
	if t < 0 {
		return fmt.Errorf("timeline: %w: negative time %d", binfile.ErrOutOfRange, t)
	}
	return nil
}

// Seek returns a cursor positioned on the datagram whose [start,end)
// interval contains t, given in samples at rate.
func (r *Reader) Seek(t int64, rate int) (*Cursor, error) {
	if err := r.checkTime(t, rate); err != nil {
		return nil, err
	}
	target := r.scale(t, rate)
	e, ok := r.index.Before(target)
	if !ok {
		e = IndexEntry{BytePos: r.datagramsPos}
	}
	c := r.cursorAt(e)
	c.rate = rate
	if err := c.hop(target); err != nil {
		return nil, err
	}
	return c, nil
}

// Datagrams returns the datagrams covering [t, t+span) in samples at rate.
// Durations are converted to rate. The first datagram may start before t.
func (r *Reader) Datagrams(t, span int64, rate int) ([]Datagram, error) {
	if span <= 0 {
		return r.DatagramsN(t, 1, rate)
	}
	c, err := r.Seek(t, rate)
	if err != nil {
		return nil, err
	}
	end := r.scale(t+span, rate)
	var out []Datagram
	for len(out) == 0 || c.time < end {
		d, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("timeline: %w: time %d beyond end %d", binfile.ErrOutOfRange, t, r.unscale(r.total, rate))
	}
	return out, nil
}

// DatagramsN returns n consecutive datagrams starting with the one that
// contains t. Fewer are returned when the timeline ends first.
func (r *Reader) DatagramsN(t int64, n, rate int) ([]Datagram, error) {
	if n < 1 {
		n = 1
	}
	c, err := r.Seek(t, rate)
	if err != nil {
		return nil, err
	}
	out := make([]Datagram, 0, n)
	for len(out) < n {
		d, err := c.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("timeline: %w: time %d beyond end %d", binfile.ErrOutOfRange, t, r.unscale(r.total, rate))
	}
	return out, nil
}

// Datagram returns the single datagram containing t.
func (r *Reader) Datagram(t int64, rate int) (Datagram, error) {
	ds, err := r.DatagramsN(t, 1, rate)
	if err != nil {
		return Datagram{}, err
	}
	return ds[0], nil
}

// Cursor reads datagrams sequentially from a seek position. A cursor is
// owned by one caller and must not be shared.
type Cursor struct {
	r    *Reader
	in   *binfile.Reader
	base int64
	time int64
	rate int

	pending *datagramHeader
}

type datagramHeader struct {
	duration int64
	length   int32
}

func (r *Reader) cursorAt(e IndexEntry) *Cursor {
	sec := io.NewSectionReader(r.ra, e.BytePos, r.indexPos-e.BytePos)
	return &Cursor{
		r:    r,
		in:   binfile.NewReader(bufio.NewReader(sec)),
		base: e.BytePos,
		time: e.Time,
		rate: r.SampleRate,
	}
}

// Time is the start of the next datagram in native samples.
func (c *Cursor) Time() int64 { return c.time }

func (c *Cursor) nextHeader() (datagramHeader, error) {
	if c.pending != nil {
		h := *c.pending
		c.pending = nil
		return h, nil
	}
	if c.base+c.in.Offset() >= c.r.indexPos {
		return datagramHeader{}, io.EOF
	}
	h := datagramHeader{duration: c.in.Int64(), length: c.in.Int32()}
	if err := c.in.Err(); err != nil {
		return datagramHeader{}, fmt.Errorf("timeline: read datagram at %d: %w", c.base+c.in.Offset(), err)
	}
	if h.duration < 0 || h.length < 0 || c.base+c.in.Offset()+int64(h.length) > c.r.indexPos {
		return datagramHeader{}, fmt.Errorf("timeline: %w: datagram at %d has duration %d length %d",
			binfile.ErrFormat, c.base+c.in.Offset()-DatagramHeaderSize, h.duration, h.length)
	}
	return h, nil
}

// hop skips datagrams that end at or before target.
func (c *Cursor) hop(target int64) error {
	for {
		h, err := c.nextHeader()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.time+h.duration > target {
			c.pending = &h
			return nil
		}
		c.in.Skip(int64(h.length))
		c.time += h.duration
	}
}

// Next reads the next datagram, with its duration in the cursor's rate.
// It returns io.EOF at the end of the datagram zone.
func (c *Cursor) Next() (Datagram, error) {
	h, err := c.nextHeader()
	if err != nil {
		return Datagram{}, err
	}
	data := c.in.Bytes(int(h.length))
	if err := c.in.Err(); err != nil {
		return Datagram{}, fmt.Errorf("timeline: read datagram payload: %w", err)
	}
	c.time += h.duration
	return Datagram{Duration: c.r.unscale(h.duration, c.rate), Data: data}, nil
}
