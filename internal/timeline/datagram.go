// Package timeline reads and writes timeline files: append-only sequences
// of duration-tagged datagrams with a sparse time index for seeking.
package timeline

import (
	"fmt"

	"github.com/example/go-unitsel/internal/binfile"
)

// DatagramHeaderSize is the framing before each payload: int64 duration
// and int32 payload length.
const DatagramHeaderSize = 12

// Datagram is one chunk of encoded signal. Duration is in samples at the
// rate of whoever produced the value: the timeline's native rate when
// written, the caller's rate when returned from Reader.Datagrams.
type Datagram struct {
	Duration int64
	Data     []byte
}

// EncodedSize is the on-disk size of d including framing.
func (d Datagram) EncodedSize() int64 {
	return DatagramHeaderSize + int64(len(d.Data))
}

func writeDatagram(w *binfile.Writer, d Datagram) {
	w.Int64(d.Duration)
	w.Int32(int32(len(d.Data)))
	w.Bytes(d.Data)
}

func checkDatagram(d Datagram) error {
	if d.Duration < 0 {
		return fmt.Errorf("timeline: %w: negative datagram duration %d", binfile.ErrOutOfRange, d.Duration)
	}
	if int64(len(d.Data)) > 1<<31-1 {
		return fmt.Errorf("timeline: %w: datagram payload of %d bytes", binfile.ErrCapacity, len(d.Data))
	}
	return nil
}
