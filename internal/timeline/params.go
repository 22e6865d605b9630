package timeline

import (
	"fmt"
	"strings"

	"github.com/magiconair/properties"
	"github.com/spf13/cast"

	"github.com/example/go-unitsel/internal/binfile"
)

// Processing header keys.
const (
	KeyAudioType = "audio.type"
	KeyLPCOrder  = "lpc.order"
	KeyLPCMin    = "lpc.min"
	KeyLPCRange  = "lpc.range"
	KeyMCepOrder = "mcep.order"
)

// Audio types declared in the processing header.
const (
	AudioRaw  = "raw"
	AudioLPC  = "lpc"
	AudioMCep = "mcep"
)

// Params are the processing parameters stored as the timeline's text
// header, in Java properties syntax.
type Params struct {
	props *properties.Properties
}

// legacyKeys maps the space-separated "AudioType LPC Channels N ..." form
// onto property keys.
var legacyKeys = map[string]string{
	"AudioType": KeyAudioType,
	"Channels":  KeyLPCOrder,
	"LPCMin":    KeyLPCMin,
	"LPCRange":  KeyLPCRange,
}

// ParseParams decodes a processing header. Both the properties form and
// the older "AudioType LPC Channels N LPCMin x LPCRange y" form are read.
func ParseParams(s string) (Params, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "AudioType ") && !strings.ContainsAny(trimmed, "=:\n") {
		return parseLegacyParams(trimmed)
	}
	p, err := properties.LoadString(s)
	if err != nil {
		return Params{}, fmt.Errorf("timeline: %w: processing header: %v", binfile.ErrFormat, err)
	}
	return Params{props: p}, nil
}

func parseLegacyParams(s string) (Params, error) {
	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return Params{}, fmt.Errorf("timeline: %w: processing header %q has an odd number of fields", binfile.ErrFormat, s)
	}
	p := properties.NewProperties()
	for i := 0; i < len(fields); i += 2 {
		key, ok := legacyKeys[fields[i]]
		if !ok {
			key = fields[i]
		}
		value := fields[i+1]
		if key == KeyAudioType {
			value = strings.ToLower(value)
		}
		if _, _, err := p.Set(key, value); err != nil {
			return Params{}, fmt.Errorf("timeline: %w: processing header: %v", binfile.ErrFormat, err)
		}
	}
	return Params{props: p}, nil
}

// NewParams builds a header from key/value pairs.
func NewParams(kv map[string]any) Params {
	p := properties.NewProperties()
	for k, v := range kv {
		_, _, _ = p.Set(k, cast.ToString(v))
	}
	return Params{props: p}
}

// String encodes the parameters in properties syntax with sorted keys.
func (p Params) String() string {
	if p.props == nil {
		return ""
	}
	p.props.Sort()
	var b strings.Builder
	for _, k := range p.props.Keys() {
		v, _ := p.props.Get(k)
		fmt.Fprintf(&b, "%s=%s\n", k, v)
	}
	return b.String()
}

// Get returns the raw value of key.
func (p Params) Get(key string) (string, bool) {
	if p.props == nil {
		return "", false
	}
	return p.props.Get(key)
}

// AudioType is the declared audio encoding, AudioRaw when absent.
func (p Params) AudioType() string {
	if v, ok := p.Get(KeyAudioType); ok {
		return strings.ToLower(v)
	}
	return AudioRaw
}

// Int reads a required integer parameter.
func (p Params) Int(key string) (int, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, fmt.Errorf("timeline: %w: processing header lacks %q", binfile.ErrFormat, key)
	}
	n, err := cast.ToIntE(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("timeline: %w: %s=%q: %v", binfile.ErrFormat, key, v, err)
	}
	return n, nil
}

// Float reads a required float parameter.
func (p Params) Float(key string) (float32, error) {
	v, ok := p.Get(key)
	if !ok {
		return 0, fmt.Errorf("timeline: %w: processing header lacks %q", binfile.ErrFormat, key)
	}
	f, err := cast.ToFloat32E(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("timeline: %w: %s=%q: %v", binfile.ErrFormat, key, v, err)
	}
	return f, nil
}

// LPCParams are the quantization settings of an LPC timeline.
type LPCParams struct {
	Order int
	Min   float32
	Range float32
}

// LPC extracts the LPC settings.
func (p Params) LPC() (LPCParams, error) {
	var lp LPCParams
	var err error
	if lp.Order, err = p.Int(KeyLPCOrder); err != nil {
		return lp, err
	}
	if lp.Min, err = p.Float(KeyLPCMin); err != nil {
		return lp, err
	}
	if lp.Range, err = p.Float(KeyLPCRange); err != nil {
		return lp, err
	}
	if lp.Order <= 0 || lp.Order > 1024 {
		return lp, fmt.Errorf("timeline: %w: LPC order %d", binfile.ErrFormat, lp.Order)
	}
	if lp.Range <= 0 {
		return lp, fmt.Errorf("timeline: %w: LPC range %v", binfile.ErrFormat, lp.Range)
	}
	return lp, nil
}

// Params encodes lp as processing header parameters.
func (lp LPCParams) Params() Params {
	return NewParams(map[string]any{
		KeyAudioType: AudioLPC,
		KeyLPCOrder:  lp.Order,
		KeyLPCMin:    lp.Min,
		KeyLPCRange:  lp.Range,
	})
}

// Params parses the reader's processing header.
func (r *Reader) Params() (Params, error) {
	return ParseParams(r.ProcHeader)
}
