package timeline

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/example/go-unitsel/internal/audio"
	"github.com/example/go-unitsel/internal/binfile"
)

// Frame is a decoded datagram payload: one of RawFrame, LPCFrame or
// MCepFrame.
type Frame interface {
	frame()
}

// RawFrame holds 16-bit PCM samples.
type RawFrame struct {
	Samples []int16
}

// LPCFrame holds dequantized predictor coefficients and the decoded
// excitation residual for one pitch period.
type LPCFrame struct {
	Coeffs   []float32
	Residual []int16
}

// MCepFrame holds mel-cepstral coefficients.
type MCepFrame struct {
	Coeffs []float32
}

func (RawFrame) frame()  {}
func (LPCFrame) frame()  {}
func (MCepFrame) frame() {}

// DecodeRaw reads a big-endian 16-bit PCM payload.
func DecodeRaw(d Datagram) (RawFrame, error) {
	if len(d.Data)%2 != 0 {
		return RawFrame{}, fmt.Errorf("timeline: %w: raw payload of odd length %d", binfile.ErrFormat, len(d.Data))
	}
	s := make([]int16, len(d.Data)/2)
	for i := range s {
		s[i] = int16(binary.BigEndian.Uint16(d.Data[2*i:]))
	}
	return RawFrame{Samples: s}, nil
}

// EncodeRaw builds a raw datagram from samples; the duration is the sample
// count.
func EncodeRaw(samples []int16) Datagram {
	data := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.BigEndian.PutUint16(data[2*i:], uint16(s))
	}
	return Datagram{Duration: int64(len(samples)), Data: data}
}

// DecodeLPC reads order quantized coefficients followed by one mu-law
// residual byte per sample.
func DecodeLPC(d Datagram, p LPCParams) (LPCFrame, error) {
	head := 2 * p.Order
	if len(d.Data) < head {
		return LPCFrame{}, fmt.Errorf("timeline: %w: LPC payload of %d bytes for order %d", binfile.ErrFormat, len(d.Data), p.Order)
	}
	f := LPCFrame{
		Coeffs:   make([]float32, p.Order),
		Residual: make([]int16, len(d.Data)-head),
	}
	for k := range f.Coeffs {
		q := int16(binary.BigEndian.Uint16(d.Data[2*k:]))
		f.Coeffs[k] = Dequantize(q, p.Min, p.Range)
	}
	for i, b := range d.Data[head:] {
		f.Residual[i] = audio.MuLawDecode(b)
	}
	return f, nil
}

// EncodeLPC quantizes a frame. The datagram duration is the residual
// length.
func EncodeLPC(f LPCFrame, p LPCParams) (Datagram, error) {
	if len(f.Coeffs) != p.Order {
		return Datagram{}, fmt.Errorf("timeline: %w: %d coefficients for order %d", binfile.ErrFormat, len(f.Coeffs), p.Order)
	}
	data := make([]byte, 2*p.Order+len(f.Residual))
	for k, c := range f.Coeffs {
		binary.BigEndian.PutUint16(data[2*k:], uint16(Quantize(c, p.Min, p.Range)))
	}
	for i, s := range f.Residual {
		data[2*p.Order+i] = audio.MuLawEncode(s)
	}
	return Datagram{Duration: int64(len(f.Residual)), Data: data}, nil
}

// DecodeMCep reads float32 coefficients.
func DecodeMCep(d Datagram, order int) (MCepFrame, error) {
	if len(d.Data) != 4*order {
		return MCepFrame{}, fmt.Errorf("timeline: %w: mcep payload of %d bytes for order %d", binfile.ErrFormat, len(d.Data), order)
	}
	f := MCepFrame{Coeffs: make([]float32, order)}
	for i := range f.Coeffs {
		f.Coeffs[i] = math.Float32frombits(binary.BigEndian.Uint32(d.Data[4*i:]))
	}
	return f, nil
}

// EncodeMCep builds an mcep datagram of the given duration.
func EncodeMCep(coeffs []float32, duration int64) Datagram {
	data := make([]byte, 4*len(coeffs))
	for i, c := range coeffs {
		binary.BigEndian.PutUint32(data[4*i:], math.Float32bits(c))
	}
	return Datagram{Duration: duration, Data: data}
}

// Quantize maps f from [lo, lo+rng] onto the full int16 span.
func Quantize(f, lo, rng float32) int16 {
	v := math.Round(float64(f-lo)*65535/float64(rng) - 32768)
	return int16(max(math.MinInt16, min(math.MaxInt16, v)))
}

// Dequantize inverts Quantize.
func Dequantize(q int16, lo, rng float32) float32 {
	return float32((float64(q)+32768)*float64(rng)/65535) + lo
}

// Decoder turns datagrams of one timeline into frames.
type Decoder struct {
	audioType string
	lpc       LPCParams
	mcepOrder int
}

// NewDecoder inspects the processing header to pick the payload codec.
func NewDecoder(p Params) (*Decoder, error) {
	d := &Decoder{audioType: p.AudioType()}
	var err error
	switch d.audioType {
	case AudioRaw:
	case AudioLPC:
		d.lpc, err = p.LPC()
	case AudioMCep:
		d.mcepOrder, err = p.Int(KeyMCepOrder)
	default:
		err = fmt.Errorf("timeline: %w: unknown audio type %q", binfile.ErrFormat, d.audioType)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AudioType is the payload encoding.
func (d *Decoder) AudioType() string { return d.audioType }

// LPC returns the quantization settings of an LPC timeline.
func (d *Decoder) LPC() LPCParams { return d.lpc }

// Decode converts one datagram.
func (d *Decoder) Decode(g Datagram) (Frame, error) {
	switch d.audioType {
	case AudioLPC:
		return DecodeLPC(g, d.lpc)
	case AudioMCep:
		return DecodeMCep(g, d.mcepOrder)
	default:
		return DecodeRaw(g)
	}
}
