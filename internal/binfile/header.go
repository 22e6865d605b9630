// Package binfile implements the framing shared by every voice database
// file: the common header, big-endian primitives and length-prefixed
// strings.
package binfile

import (
	"errors"
	"fmt"
)

// Error kinds shared by the store packages. Callers test with errors.Is.
var (
	ErrFormat       = errors.New("format error")
	ErrIncompatible = errors.New("incompatible feature definitions")
	ErrOutOfRange   = errors.New("out of range")
	ErrCapacity     = errors.New("capacity exceeded")
)

const (
	Magic      int32 = 0x4D415259 // "MARY"
	Version    int32 = 40
	HeaderSize       = 12
)

// Type tags the kind of payload that follows the header.
type Type int32

const (
	TypeCarts                Type = 100
	TypeJoinFeats            Type = 200
	TypeSpeechFeats          Type = 300
	TypeUnits                Type = 400
	TypeListenerUnits        Type = 500
	TypeListenerFeats        Type = 600
	TypeTimeline             Type = 700
	TypeUnitFeats            Type = 800
	TypeHalfPhoneUnitFeats   Type = 801
	TypePrecomputedJoinCosts Type = 900
	TypeTargetFeats          Type = 1000
)

var typeNames = map[Type]string{
	TypeCarts:                "CARTS",
	TypeJoinFeats:            "JOINFEATS",
	TypeSpeechFeats:          "SPEECHFEATS",
	TypeUnits:                "UNITS",
	TypeListenerUnits:        "LISTENERUNITS",
	TypeListenerFeats:        "LISTENERFEATS",
	TypeTimeline:             "TIMELINE",
	TypeUnitFeats:            "UNITFEATS",
	TypeHalfPhoneUnitFeats:   "HALFPHONE_UNITFEATS",
	TypePrecomputedJoinCosts: "PRECOMPUTED_JOINCOSTS",
	TypeTargetFeats:          "TARGETFEATS",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int32(t))
}

// Known reports whether t is one of the defined type tags.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// ReadHeader consumes the 12-byte header and checks it against the accepted
// types. With no accepted types any known type passes.
func ReadHeader(r *Reader, accept ...Type) (Type, error) {
	magic := r.Int32()
	version := r.Int32()
	typ := Type(r.Int32())
	if err := r.Err(); err != nil {
		return 0, fmt.Errorf("binfile: read header: %w", err)
	}
	if magic != Magic {
		return 0, fmt.Errorf("binfile: %w: bad magic 0x%08x", ErrFormat, uint32(magic))
	}
	if version != Version {
		return 0, fmt.Errorf("binfile: %w: unsupported version %d (want %d)", ErrFormat, version, Version)
	}
	if len(accept) == 0 {
		if !typ.Known() {
			return 0, fmt.Errorf("binfile: %w: unknown file type %d", ErrFormat, int32(typ))
		}
		return typ, nil
	}
	for _, want := range accept {
		if typ == want {
			return typ, nil
		}
	}
	return 0, fmt.Errorf("binfile: %w: file type %s, want %v", ErrFormat, typ, accept)
}

// WriteHeader writes the header for a file of type t.
func WriteHeader(w *Writer, t Type) error {
	w.Int32(Magic)
	w.Int32(Version)
	w.Int32(int32(t))
	return w.Err()
}
