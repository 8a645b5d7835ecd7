package melty

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/sinshu/go-meltysynth/meltysynth"
	"gitlab.com/gomidi/midi/v2"

	"github.com/chihoc/midisf/synth"
)

const (
	ccBankSelectMSB = 0
	ccBankSelectLSB = 32

	bytesPerFrame = 8 // stereo float32
)

// Voice is one synthesizer/player pair. The synthesizer is created by
// LoadInstrument; until then the voice renders silence.
type Voice struct {
	parent *Synth

	mu     sync.Mutex // guards player lifecycle
	player *oto.Player
	stream *stream

	renderMu sync.Mutex // guards syn; taken by the audio render callback
	syn      *meltysynth.Synthesizer
}

var _ synth.Voice = (*Voice)(nil)

func newVoice(parent *Synth) *Voice {
	v := &Voice{parent: parent}
	v.stream = &stream{voice: v}
	return v
}

// LoadInstrument parses the soundfont at path and activates bank/program
// on every channel of the fresh synthesizer. A running player keeps
// playing across the swap; only the rendering source changes.
func (v *Voice) LoadInstrument(path string, bank, program int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening soundfont: %w", err)
	}
	defer f.Close()

	sf, err := meltysynth.NewSoundFont(f)
	if err != nil {
		return fmt.Errorf("parsing soundfont %q: %w", path, err)
	}

	settings := meltysynth.NewSynthesizerSettings(int32(v.parent.SampleRate()))
	syn, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return fmt.Errorf("creating synthesizer: %w", err)
	}

	v.renderMu.Lock()
	v.syn = syn
	v.renderMu.Unlock()

	for ch := 0; ch < 16; ch++ {
		if err := v.applyProgram(bank, program, ch); err != nil {
			return err
		}
	}
	return nil
}

// ProgramChange switches the active bank/program on one channel.
func (v *Voice) ProgramChange(bank, program, channel int) error {
	return v.applyProgram(bank, program, channel)
}

// NoteOn implements synth.Voice.
func (v *Voice) NoteOn(key, velocity, channel int) error {
	return v.process(midi.NoteOn(uint8(channel), uint8(key), uint8(velocity)))
}

// NoteOff implements synth.Voice.
func (v *Voice) NoteOff(key, channel int) error {
	return v.process(midi.NoteOff(uint8(channel), uint8(key)))
}

// ControlChange implements synth.Voice.
func (v *Voice) ControlChange(controller, value, channel int) error {
	return v.process(midi.ControlChange(uint8(channel), uint8(controller), uint8(value)))
}

// Start brings up (or resumes) the playback engine.
func (v *Voice) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.player == nil {
		ctx := v.parent.context()
		if ctx == nil {
			return fmt.Errorf("audio context is closed")
		}
		v.player = ctx.NewPlayer(v.stream)
		if v.parent.opts.BufferSize > 0 {
			v.player.SetBufferSize(v.parent.opts.BufferSize * bytesPerFrame)
		}
	}
	v.player.Play()
	return nil
}

// Pause suspends rendering but keeps the player resumable.
func (v *Voice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.player != nil {
		v.player.Pause()
	}
	return nil
}

// Stop tears the playback engine down. The voice can be restarted, but
// unload paths never do.
func (v *Voice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.player == nil {
		return nil
	}
	err := v.player.Close()
	v.player = nil
	if err != nil {
		return fmt.Errorf("closing player: %w", err)
	}
	return nil
}

// IsRunning implements synth.Voice.
func (v *Voice) IsRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.player != nil && v.player.IsPlaying()
}

func (v *Voice) applyProgram(bank, program, channel int) error {
	if err := v.process(midi.ControlChange(uint8(channel), ccBankSelectMSB, uint8(bank))); err != nil {
		return err
	}
	if err := v.process(midi.ControlChange(uint8(channel), ccBankSelectLSB, 0)); err != nil {
		return err
	}
	return v.process(midi.ProgramChange(uint8(channel), uint8(program)))
}

// process feeds a wire-format MIDI message into the synthesizer.
func (v *Voice) process(msg midi.Message) error {
	v.renderMu.Lock()
	defer v.renderMu.Unlock()

	if v.syn == nil {
		return fmt.Errorf("no instrument loaded")
	}

	b := []byte(msg)
	if len(b) == 0 {
		return fmt.Errorf("empty midi message")
	}
	channel := int32(b[0] & 0x0F)
	command := int32(b[0] & 0xF0)
	var data1, data2 int32
	if len(b) > 1 {
		data1 = int32(b[1])
	}
	if len(b) > 2 {
		data2 = int32(b[2])
	}
	v.syn.ProcessMidiMessage(channel, command, data1, data2)
	return nil
}

// stream adapts the synthesizer's block renderer to oto's pull-based
// io.Reader, interleaving stereo float32 frames little-endian.
type stream struct {
	voice *Voice
	left  []float32
	right []float32
}

func (st *stream) Read(p []byte) (int, error) {
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}

	if len(st.left) < frames {
		st.left = make([]float32, frames)
		st.right = make([]float32, frames)
	}
	left := st.left[:frames]
	right := st.right[:frames]

	st.voice.renderMu.Lock()
	syn := st.voice.syn
	if syn != nil {
		syn.Render(left, right)
	} else {
		for i := range left {
			left[i], right[i] = 0, 0
		}
	}
	st.voice.renderMu.Unlock()

	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(left[i]))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(right[i]))
	}
	return frames * bytesPerFrame, nil
}
