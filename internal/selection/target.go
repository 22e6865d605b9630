// Package selection chooses, for a sequence of targets, the sequence of
// corpus units with the lowest combined target and join cost.
package selection

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/spf13/cast"

	"github.com/example/go-unitsel/internal/binfile"
	"github.com/example/go-unitsel/internal/features"
)

var (
	// ErrNoPath reports that no sequence of candidates connects the first
	// target to the last with finite cost.
	ErrNoPath = errors.New("no realizable path")
	// ErrMalformedTarget reports a target whose features cannot be encoded
	// under the voice's feature definition.
	ErrMalformedTarget = fmt.Errorf("malformed target: %w", binfile.ErrFormat)
)

// Kind distinguishes the target variants.
type Kind uint8

const (
	KindSimple Kind = iota
	KindHalfPhone
	KindDiphone
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindHalfPhone:
		return "halfphone"
	case KindDiphone:
		return "diphone"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Target describes the unit wanted at one slot of the utterance. Features
// maps feature names to value names (discrete) or numbers (continuous).
// A diphone has no features of its own; it delegates to its halves.
type Target struct {
	Kind     Kind
	Phone    string
	Duration float64
	Features map[string]any

	// IsLeft marks the left half of a phone (KindHalfPhone).
	IsLeft bool
	// Left and Right are the halves of a diphone (KindDiphone).
	Left, Right *Target
}

// NewTarget returns a whole-phone target. Duration is in seconds.
func NewTarget(phone string, duration float64, feats map[string]any) *Target {
	return &Target{Kind: KindSimple, Phone: phone, Duration: duration, Features: feats}
}

// NewHalfPhone returns the left or right half of a phone.
func NewHalfPhone(phone string, left bool, duration float64, feats map[string]any) *Target {
	return &Target{Kind: KindHalfPhone, Phone: phone, IsLeft: left, Duration: duration, Features: feats}
}

// NewDiphone joins the right half of one phone with the left half of the
// next.
func NewDiphone(left, right *Target) (*Target, error) {
	if left == nil || right == nil || left.Kind != KindHalfPhone || right.Kind != KindHalfPhone {
		return nil, fmt.Errorf("selection: %w: a diphone needs two half-phone targets", ErrMalformedTarget)
	}
	if left.IsLeft || !right.IsLeft {
		return nil, fmt.Errorf("selection: %w: diphone halves must be a right half followed by a left half", ErrMalformedTarget)
	}
	return &Target{
		Kind:     KindDiphone,
		Phone:    left.Phone + "-" + right.Phone,
		Duration: left.Duration + right.Duration,
		Left:     left,
		Right:    right,
	}, nil
}

// Halves returns the targets a diphone is made of, or t itself.
func (t *Target) Halves() []*Target {
	if t.Kind == KindDiphone {
		return []*Target{t.Left, t.Right}
	}
	return []*Target{t}
}

func (t *Target) String() string {
	switch t.Kind {
	case KindHalfPhone:
		if t.IsLeft {
			return t.Phone + "_L"
		}
		return t.Phone + "_R"
	default:
		return t.Phone
	}
}

// FeatureComputer encodes a target under a feature definition.
type FeatureComputer interface {
	Compute(def *features.Definition, t *Target) (features.Vector, error)
}

// DefaultPhoneFeature names the feature that carries the phone symbol.
const DefaultPhoneFeature = "phone"

// MapFeatureComputer reads feature values from Target.Features. Missing
// discrete features take code 0 and missing continuous features NaN. The
// phone feature is taken from Target.Phone.
type MapFeatureComputer struct {
	PhoneFeature string
}

// Compute implements FeatureComputer.
func (m MapFeatureComputer) Compute(def *features.Definition, t *Target) (features.Vector, error) {
	if t.Kind == KindDiphone {
		return features.Vector{}, fmt.Errorf("selection: %w: diphone %s has no feature vector of its own", ErrMalformedTarget, t)
	}
	phone := m.PhoneFeature
	if phone == "" {
		phone = DefaultPhoneFeature
	}

	bytes := make([]byte, def.NumByte())
	shorts := make([]int16, def.NumShort())
	floats := make([]float32, def.NumContinuous())
	for i := 0; i < def.NumFeatures(); i++ {
		name := def.Name(i)
		raw, ok := t.Features[name]
		if name == phone && t.Phone != "" {
			raw, ok = t.Phone, true
		}

		if def.Kind(i) == features.KindContinuous {
			j := i - def.NumDiscrete()
			if !ok {
				floats[j] = float32(math.NaN())
				continue
			}
			f, err := cast.ToFloat32E(raw)
			if err != nil {
				return features.Vector{}, fmt.Errorf("selection: %w: target %s feature %q: %v", ErrMalformedTarget, t, name, err)
			}
			floats[j] = f
			continue
		}

		code := 0
		if ok {
			value, err := cast.ToStringE(raw)
			if err != nil {
				return features.Vector{}, fmt.Errorf("selection: %w: target %s feature %q: %v", ErrMalformedTarget, t, name, err)
			}
			if code, err = def.ValueCode(i, value); err != nil {
				return features.Vector{}, fmt.Errorf("selection: %w: target %s: %v", ErrMalformedTarget, t, err)
			}
		}
		if i < def.NumByte() {
			bytes[i] = byte(code)
		} else {
			shorts[i-def.NumByte()] = int16(code)
		}
	}
	v, err := def.Vector(-1, bytes, shorts, floats)
	if err != nil {
		return features.Vector{}, fmt.Errorf("selection: %w: target %s: %v", ErrMalformedTarget, t, err)
	}
	return v, nil
}

type cacheEntry struct {
	vec features.Vector
	err error
}

// FeatureCache memoizes target vectors by target identity. It belongs to
// one caller; a Selector never keeps it across calls. The zero value is
// ready to use and safe for concurrent use.
type FeatureCache struct {
	mu      sync.Mutex
	entries map[*Target]cacheEntry
}

// Vector returns the vector of t, computing it on first use.
func (c *FeatureCache) Vector(fc FeatureComputer, def *features.Definition, t *Target) (features.Vector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[t]; ok {
		return e.vec, e.err
	}
	if c.entries == nil {
		c.entries = make(map[*Target]cacheEntry)
	}
	v, err := fc.Compute(def, t)
	c.entries[t] = cacheEntry{vec: v, err: err}
	return v, err
}

// Len is the number of memoized targets.
func (c *FeatureCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
