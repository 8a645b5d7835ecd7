// Package synth defines the synthesizer capability consumed by the
// midisf registry. Implementations wrap a concrete synthesis backend
// (see the melty package for the pure-Go soundfont backend); the
// registry only ever talks to these interfaces.
package synth

// Voice is one synthesizer/playback-engine pair. The registry creates
// exactly one Voice per MIDI channel of a loaded soundfont and addresses
// it with the channel index on every message.
type Voice interface {
	// LoadInstrument loads the instrument bank at path and activates the
	// given bank/program on this voice.
	LoadInstrument(path string, bank, program int) error

	// ProgramChange switches the active program without reloading samples.
	ProgramChange(bank, program, channel int) error

	NoteOn(key, velocity, channel int) error
	NoteOff(key, channel int) error
	ControlChange(controller, value, channel int) error

	// Start brings up the playback engine behind this voice. Stop tears it
	// down; Pause suspends rendering but keeps the engine resumable.
	Start() error
	Stop() error
	Pause() error
	IsRunning() bool
}

// Synthesizer creates voices. One Synthesizer typically owns a single
// audio output context shared by all voices it creates.
type Synthesizer interface {
	CreateVoice() (Voice, error)
}
