package timeline

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/example/go-unitsel/internal/binfile"
)

// DefaultIndexInterval is the index spacing used when none is given: one
// entry per second at 16 kHz.
const DefaultIndexInterval = 16000

// Writer accumulates datagrams in memory and encodes a complete timeline
// file on WriteTo.
type Writer struct {
	procHeader string
	sampleRate int
	interval   int

	zone    bytes.Buffer
	dw      *binfile.Writer
	entries []IndexEntry
	time    int64
	count   int64
}

// NewWriter starts a timeline. interval is the index spacing in native
// samples; zero selects DefaultIndexInterval.
func NewWriter(procHeader string, sampleRate, interval int) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("timeline: %w: sample rate %d", binfile.ErrOutOfRange, sampleRate)
	}
	if interval == 0 {
		interval = DefaultIndexInterval
	}
	if interval < 0 {
		return nil, fmt.Errorf("timeline: %w: index interval %d", binfile.ErrOutOfRange, interval)
	}
	w := &Writer{procHeader: procHeader, sampleRate: sampleRate, interval: interval}
	w.dw = binfile.NewWriter(&w.zone)
	return w, nil
}

// Feed appends a datagram. Its duration is in native samples.
func (w *Writer) Feed(d Datagram) error {
	if err := checkDatagram(d); err != nil {
		return err
	}
	// one entry for every index point this datagram covers
	for next := int64(len(w.entries)) * int64(w.interval); next < w.time+d.Duration; next += int64(w.interval) {
		w.entries = append(w.entries, IndexEntry{BytePos: int64(w.zone.Len()), Time: w.time})
	}
	writeDatagram(w.dw, d)
	if err := w.dw.Err(); err != nil {
		return fmt.Errorf("timeline: write datagram: %w", err)
	}
	w.time += d.Duration
	w.count++
	return nil
}

// Duration is the total fed so far in native samples.
func (w *Writer) Duration() int64 { return w.time }

// WriteTo encodes the timeline. Byte positions in the index are absolute.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	bw := bufio.NewWriter(out)
	enc := binfile.NewWriter(bw)
	if err := binfile.WriteHeader(enc, binfile.TypeTimeline); err != nil {
		return enc.Offset(), fmt.Errorf("timeline: write header: %w", err)
	}
	enc.UTF(w.procHeader)
	// rate, count and the two zone offsets
	datagramsPos := enc.Offset() + 4 + 8 + 8 + 8
	indexPos := datagramsPos + int64(w.zone.Len())
	enc.Int32(int32(w.sampleRate))
	enc.Int64(w.count)
	enc.Int64(datagramsPos)
	enc.Int64(indexPos)
	enc.Bytes(w.zone.Bytes())

	enc.Int32(int32(len(w.entries)))
	enc.Int32(int32(w.interval))
	for _, e := range w.entries {
		enc.Int64(datagramsPos + e.BytePos)
		enc.Int64(e.Time)
	}
	enc.Int64(0)
	enc.Int64(0)
	if err := enc.Err(); err != nil {
		return enc.Offset(), fmt.Errorf("timeline: write: %w", err)
	}
	return enc.Offset(), bw.Flush()
}
