package midisf

import (
	"fmt"
	"sync"

	"github.com/chihoc/midisf/synth"
)

// ChannelCount is the number of MIDI channels per loaded soundfont.
const ChannelCount = 16

// ccAllNotesOff is MIDI controller #123, "all notes off".
const ccAllNotesOff = 123

// ChannelVoice binds one synthesizer/engine pair to its MIDI channel.
// Voices are created and destroyed only as a complete set of 16 by the
// registry; SelectInstrument mutates a voice in place but never replaces
// it.
type ChannelVoice struct {
	Channel int
	voice   synth.Voice
}

// Voice exposes the underlying capability, mainly for tests and the
// session manager's pause/resume passes.
func (cv *ChannelVoice) Voice() synth.Voice {
	return cv.voice
}

// Soundfont is one loaded soundfont instance: the resolved file path and
// its 16 channel voices.
type Soundfont struct {
	handle int
	path   string
	voices [ChannelCount]*ChannelVoice
}

// Handle returns the soundfont's registry handle.
func (sf *Soundfont) Handle() int { return sf.handle }

// Path returns the soundfont's source file path.
func (sf *Soundfont) Path() string { return sf.path }

// Voices returns the 16 channel voices in channel order.
func (sf *Soundfont) Voices() [ChannelCount]*ChannelVoice { return sf.voices }

// Registry maps soundfont handles to their channel voices. Handles are
// assigned from 1 upward and never reused within a process lifetime.
// All mutation is mutex-guarded; the dispatcher additionally serializes
// request-path access on a single goroutine.
type Registry struct {
	mu           sync.RWMutex
	synth        synth.Synthesizer
	fonts        map[int]*Soundfont
	nextHandle   int
	errorHandler ErrorHandler
}

// NewRegistry creates an empty registry backed by the given synthesizer
// capability.
func NewRegistry(s synth.Synthesizer, errorHandler ErrorHandler) *Registry {
	if errorHandler == nil {
		errorHandler = &DefaultErrorHandler{}
	}
	return &Registry{
		synth:        s,
		fonts:        make(map[int]*Soundfont),
		nextHandle:   1,
		errorHandler: errorHandler,
	}
}

// Load creates 16 voices bound to the soundfont at path, each
// initialized with the given bank/program, starts their engines and
// registers the set under a fresh handle. On any failure every voice
// created so far is stopped and released, no handle is registered and
// the handle counter is not advanced.
func (r *Registry) Load(path string, bank, program int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var created []*ChannelVoice
	rollback := func() {
		for _, cv := range created {
			if err := cv.voice.Stop(); err != nil {
				r.errorHandler.HandleError(fmt.Errorf("stopping voice %d during load rollback: %w", cv.Channel, err))
			}
		}
	}

	for ch := 0; ch < ChannelCount; ch++ {
		v, err := r.synth.CreateVoice()
		if err != nil {
			rollback()
			return 0, fmt.Errorf("%w: creating voice for channel %d: %v", ErrEngineStartFailed, ch, err)
		}
		cv := &ChannelVoice{Channel: ch, voice: v}
		created = append(created, cv)

		if err := v.LoadInstrument(path, bank, program); err != nil {
			rollback()
			return 0, fmt.Errorf("%w: channel %d, path %q bank %d program %d: %v",
				ErrSoundfontLoadFailed, ch, path, bank, program, err)
		}
		if err := v.Start(); err != nil {
			rollback()
			return 0, fmt.Errorf("%w: channel %d: %v", ErrEngineStartFailed, ch, err)
		}
	}

	handle := r.nextHandle
	r.nextHandle++

	sf := &Soundfont{handle: handle, path: path}
	copy(sf.voices[:], created)
	r.fonts[handle] = sf

	return handle, nil
}

// SelectInstrument reloads the instrument bank for one channel's voice
// and issues a program change on that channel. Other channels are
// untouched.
func (r *Registry) SelectInstrument(handle, channel, bank, program int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cv, err := r.voiceLocked(handle, channel)
	if err != nil {
		return err
	}

	sf := r.fonts[handle]
	if err := cv.voice.LoadInstrument(sf.path, bank, program); err != nil {
		return fmt.Errorf("%w: channel %d, bank %d program %d: %v", ErrSoundfontLoadFailed, channel, bank, program, err)
	}
	if err := cv.voice.ProgramChange(bank, program, channel); err != nil {
		return fmt.Errorf("%w: program change on channel %d: %v", ErrSoundfontLoadFailed, channel, err)
	}
	return nil
}

// NoteOn triggers a note on the given channel's voice.
func (r *Registry) NoteOn(handle, channel, key, velocity int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cv, err := r.voiceLocked(handle, channel)
	if err != nil {
		return err
	}
	return cv.voice.NoteOn(key, velocity, channel)
}

// NoteOff releases a note on the given channel's voice.
func (r *Registry) NoteOff(handle, channel, key int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cv, err := r.voiceLocked(handle, channel)
	if err != nil {
		return err
	}
	return cv.voice.NoteOff(key, channel)
}

// AllNotesOff sends MIDI CC #123 ("all notes off") on the given channel.
func (r *Registry) AllNotesOff(handle, channel int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cv, err := r.voiceLocked(handle, channel)
	if err != nil {
		return err
	}
	return cv.voice.ControlChange(ccAllNotesOff, 0, channel)
}

// Unload stops and releases all 16 voices of the handle and removes it
// from the registry.
func (r *Registry) Unload(handle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sf, ok := r.fonts[handle]
	if !ok {
		return fmt.Errorf("%w: %d", ErrHandleNotFound, handle)
	}
	r.releaseLocked(sf)
	delete(r.fonts, handle)
	return nil
}

// DisposeAll stops and releases every handle's voices and clears the
// registry. It always succeeds; individual stop failures go to the
// error handler.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for handle, sf := range r.fonts {
		r.releaseLocked(sf)
		delete(r.fonts, handle)
	}
}

// PauseAll suspends every voice's engine. Used by the session manager
// when an interruption begins.
func (r *Registry) PauseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sf := range r.fonts {
		for _, cv := range sf.voices {
			if err := cv.voice.Pause(); err != nil {
				r.errorHandler.HandleError(fmt.Errorf("pausing handle %d channel %d: %w", sf.handle, cv.Channel, err))
			}
		}
	}
}

// ResumeAll restarts every engine that is not currently running. Restart
// failures are logged and otherwise ignored; a voice that stays down is
// retried on the next interruption or route-change pass.
func (r *Registry) ResumeAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sf := range r.fonts {
		for _, cv := range sf.voices {
			if cv.voice.IsRunning() {
				continue
			}
			if err := cv.voice.Start(); err != nil {
				r.errorHandler.HandleError(fmt.Errorf("restarting handle %d channel %d: %w", sf.handle, cv.Channel, err))
			}
		}
	}
}

// Handles returns the currently registered handles.
func (r *Registry) Handles() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]int, 0, len(r.fonts))
	for h := range r.fonts {
		handles = append(handles, h)
	}
	return handles
}

// Get returns the soundfont for a handle.
func (r *Registry) Get(handle int) (*Soundfont, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sf, ok := r.fonts[handle]
	return sf, ok
}

// Len returns the number of loaded soundfonts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fonts)
}

// NextHandle exposes the counter for testing the no-advance-on-failure
// behavior.
func (r *Registry) NextHandle() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextHandle
}

func (r *Registry) voiceLocked(handle, channel int) (*ChannelVoice, error) {
	if channel < 0 || channel >= ChannelCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	sf, ok := r.fonts[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	return sf.voices[channel], nil
}

func (r *Registry) releaseLocked(sf *Soundfont) {
	for _, cv := range sf.voices {
		if cv == nil {
			continue
		}
		if err := cv.voice.Stop(); err != nil {
			r.errorHandler.HandleError(fmt.Errorf("stopping handle %d channel %d: %w", sf.handle, cv.Channel, err))
		}
	}
}
