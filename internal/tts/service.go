// Package tts turns target lists into audio with a loaded unit selection
// voice.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-unitsel/internal/audio"
	"github.com/example/go-unitsel/internal/selection"
	"github.com/example/go-unitsel/internal/voice"
)

// ErrNoTargets reports an utterance without targets.
var ErrNoTargets = errors.New("no targets")

// VoiceSource provides loaded voices by id. An empty id is the default
// voice.
type VoiceSource interface {
	Get(id string) (*voice.Voice, error)
	List() []voice.Entry
}

type options struct {
	logger       *slog.Logger
	post         audio.PostProcess
	defaultVoice string
	defaultMode  string
}

// Option configures a Service.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPostProcess sets the hook chain applied before WAV encoding.
func WithPostProcess(p audio.PostProcess) Option {
	return func(o *options) { o.post = p }
}

// WithDefaultVoice sets the voice used when an utterance names none.
func WithDefaultVoice(id string) Option {
	return func(o *options) { o.defaultVoice = id }
}

// WithDefaultMode sets the target mode used when an utterance names none.
func WithDefaultMode(mode string) Option {
	return func(o *options) { o.defaultMode = mode }
}

type Service struct {
	voices VoiceSource
	opts   options
}

func NewService(voices VoiceSource, optFns ...Option) (*Service, error) {
	if voices == nil {
		return nil, errors.New("tts: voice source is required")
	}
	opts := options{logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{voices: voices, opts: opts}, nil
}

// Voices lists the voices the service can use.
func (s *Service) Voices() []voice.Entry { return s.voices.List() }

// Result is one synthesized utterance.
type Result struct {
	ID         string
	Voice      string
	SampleRate int
	Samples    []float64
	Selection  *selection.Result
	Elapsed    time.Duration
}

// Duration is the length of the synthesized audio.
func (r *Result) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(r.Samples)) / float64(r.SampleRate) * float64(time.Second))
}

// Synthesize selects and concatenates units for u.
func (s *Service) Synthesize(ctx context.Context, u *Utterance) (*Result, error) {
	if u == nil || len(u.Targets) == 0 {
		return nil, fmt.Errorf("%w: %w", selection.ErrMalformedTarget, ErrNoTargets)
	}
	start := time.Now()
	id := uuid.NewString()
	log := s.opts.logger.With("request_id", id)

	voiceID, mode := u.Voice, u.Mode
	if voiceID == "" {
		voiceID = s.opts.defaultVoice
	}
	if mode == "" {
		mode = s.opts.defaultMode
	}
	v, err := s.voices.Get(voiceID)
	if err != nil {
		return nil, err
	}
	targets, err := BuildTargets(u.Targets, mode)
	if err != nil {
		return nil, err
	}
	samples, sel, err := v.Synthesize(ctx, targets)
	if err != nil {
		log.Warn("synthesis failed", "voice", v.Name, "targets", len(targets), "error", err)
		return nil, err
	}
	res := &Result{
		ID:         id,
		Voice:      v.Name,
		SampleRate: v.SampleRate(),
		Samples:    samples,
		Selection:  sel,
		Elapsed:    time.Since(start),
	}
	log.Debug("synthesized",
		"voice", v.Name,
		"targets", len(targets),
		"cost", sel.Cost,
		"samples", len(samples),
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// SynthesizeWAV is Synthesize followed by post-processing and WAV
// encoding.
func (s *Service) SynthesizeWAV(ctx context.Context, u *Utterance) ([]byte, *Result, error) {
	res, err := s.Synthesize(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	wav, err := EncodeWAV(res.Samples, res.SampleRate, s.opts.post)
	if err != nil {
		return nil, res, err
	}
	return wav, res, nil
}

// EncodeWAV post-processes samples and encodes them as 16-bit mono WAV.
func EncodeWAV(samples []float64, sampleRate int, post audio.PostProcess) ([]byte, error) {
	pcm := audio.ApplyHooks(audio.ToFloat32(samples), post.Hooks(sampleRate)...)
	wav, err := audio.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("tts: encode wav: %w", err)
	}
	return wav, nil
}
