// Package melty implements the synth capability on top of the pure-Go
// meltysynth soundfont renderer with oto as the playback engine. One
// Synth owns a single audio context; every voice it creates carries its
// own synthesizer/player pair so voices can be started, paused and torn
// down independently.
package melty

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/chihoc/midisf/synth"
)

// Options configure the shared audio context.
type Options struct {
	SampleRate int // output sample rate in Hz; 0 means 44100
	BufferSize int // player buffer size in frames; 0 keeps oto's default
}

// DefaultOptions are CD-rate stereo output.
var DefaultOptions = Options{SampleRate: 44100}

// Synth creates soundfont voices rendered through a shared oto context.
type Synth struct {
	opts Options

	mu  sync.Mutex
	ctx *oto.Context
}

var _ synth.Synthesizer = (*Synth)(nil)

// New creates the audio context and blocks until the audio device is
// ready.
func New(opts Options) (*Synth, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultOptions.SampleRate
	}

	ctxOpts := &oto.NewContextOptions{
		SampleRate:   opts.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("creating audio context: %w", err)
	}
	<-ready

	return &Synth{opts: opts, ctx: ctx}, nil
}

// CreateVoice implements synth.Synthesizer. The voice holds no
// synthesizer until LoadInstrument parses a soundfont for it.
func (s *Synth) CreateVoice() (synth.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil, fmt.Errorf("audio context is closed")
	}
	return newVoice(s), nil
}

// SampleRate returns the context sample rate.
func (s *Synth) SampleRate() int {
	return s.opts.SampleRate
}

func (s *Synth) context() *oto.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
