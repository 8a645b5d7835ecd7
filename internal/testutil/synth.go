// Package testutil provides an in-memory synthesizer capability for
// tests: every voice records the programs, notes and engine transitions
// it saw, and failures can be injected per path or per voice index.
package testutil

import (
	"fmt"
	"sync"

	"github.com/chihoc/midisf/synth"
)

// Synth is a fake synth.Synthesizer. The zero value is not usable; use
// NewSynth.
type Synth struct {
	mu     sync.Mutex
	voices []*Voice

	// FailCreateAt makes the n-th CreateVoice call (0-based, across the
	// synth's lifetime) fail when >= 0.
	FailCreateAt int
	// FailLoadPath makes LoadInstrument fail for this exact path.
	FailLoadPath string
	// FailLoadAt makes LoadInstrument fail on the voice with this index
	// when >= 0.
	FailLoadAt int
	// FailStartAt makes Start fail on the voice with this index when
	// >= 0. Applies to restarts as well.
	FailStartAt int

	created int
}

// NewSynth creates a fake synthesizer with no injected failures.
func NewSynth() *Synth {
	return &Synth{FailCreateAt: -1, FailLoadAt: -1, FailStartAt: -1}
}

// CreateVoice implements synth.Synthesizer.
func (s *Synth) CreateVoice() (synth.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.created
	s.created++
	if s.FailCreateAt >= 0 && index == s.FailCreateAt {
		return nil, fmt.Errorf("injected create failure at voice %d", index)
	}

	v := &Voice{
		synth:    s,
		index:    index,
		programs: make(map[int][2]int),
		notes:    make(map[int]map[int]int),
	}
	s.voices = append(s.voices, v)
	return v, nil
}

// Voices returns every voice ever created, in creation order, including
// stopped ones.
func (s *Synth) Voices() []*Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// CreatedCount returns how many voices were created in total.
func (s *Synth) CreatedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// Voice is a fake synth.Voice recording everything it is told.
type Voice struct {
	synth *Synth
	index int

	mu         sync.Mutex
	path       string
	loadedBank int
	loadedProg int
	loads      int
	programs   map[int][2]int      // channel -> {bank, program}
	notes      map[int]map[int]int // channel -> key -> velocity
	controls   [][3]int            // {controller, value, channel}
	running    bool
	paused     bool
	starts     int
	stops      int
	pauses     int
}

// Index returns the voice's creation index.
func (v *Voice) Index() int { return v.index }

// LoadInstrument implements synth.Voice.
func (v *Voice) LoadInstrument(path string, bank, program int) error {
	v.synth.mu.Lock()
	failPath := v.synth.FailLoadPath
	failAt := v.synth.FailLoadAt
	v.synth.mu.Unlock()

	if failPath != "" && path == failPath {
		return fmt.Errorf("injected load failure for %q", path)
	}
	if failAt >= 0 && v.index == failAt {
		return fmt.Errorf("injected load failure at voice %d", v.index)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.path = path
	v.loadedBank = bank
	v.loadedProg = program
	v.loads++
	return nil
}

// ProgramChange implements synth.Voice.
func (v *Voice) ProgramChange(bank, program, channel int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.programs[channel] = [2]int{bank, program}
	return nil
}

// NoteOn implements synth.Voice.
func (v *Voice) NoteOn(key, velocity, channel int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.notes[channel] == nil {
		v.notes[channel] = make(map[int]int)
	}
	v.notes[channel][key] = velocity
	return nil
}

// NoteOff implements synth.Voice.
func (v *Voice) NoteOff(key, channel int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.notes[channel], key)
	return nil
}

// ControlChange implements synth.Voice. Controller 123 ("all notes off")
// clears the channel's active notes, as a real synthesizer would.
func (v *Voice) ControlChange(controller, value, channel int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.controls = append(v.controls, [3]int{controller, value, channel})
	if controller == 123 {
		delete(v.notes, channel)
	}
	return nil
}

// Start implements synth.Voice.
func (v *Voice) Start() error {
	v.synth.mu.Lock()
	failAt := v.synth.FailStartAt
	v.synth.mu.Unlock()
	if failAt >= 0 && v.index == failAt {
		return fmt.Errorf("injected start failure at voice %d", v.index)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.running = true
	v.paused = false
	v.starts++
	return nil
}

// Stop implements synth.Voice.
func (v *Voice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.running = false
	v.paused = false
	v.stops++
	return nil
}

// Pause implements synth.Voice.
func (v *Voice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		v.running = false
		v.paused = true
		v.pauses++
	}
	return nil
}

// IsRunning implements synth.Voice.
func (v *Voice) IsRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// Accessors for assertions.

// Path returns the last loaded instrument path.
func (v *Voice) Path() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.path
}

// LoadedProgram returns the bank/program of the last LoadInstrument.
func (v *Voice) LoadedProgram() (bank, program int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadedBank, v.loadedProg
}

// LoadCount returns how many times LoadInstrument ran.
func (v *Voice) LoadCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loads
}

// Program returns the active bank/program set by ProgramChange on the
// channel, and whether one was set.
func (v *Voice) Program(channel int) (bank, program int, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.programs[channel]
	return p[0], p[1], ok
}

// ActiveNotes returns the currently sounding keys on a channel.
func (v *Voice) ActiveNotes(channel int) []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]int, 0, len(v.notes[channel]))
	for k := range v.notes[channel] {
		keys = append(keys, k)
	}
	return keys
}

// Controls returns all control changes seen, as {controller, value,
// channel} triples.
func (v *Voice) Controls() [][3]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][3]int, len(v.controls))
	copy(out, v.controls)
	return out
}

// Paused reports whether the voice sits in the paused state.
func (v *Voice) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Counts returns the number of start/stop/pause transitions.
func (v *Voice) Counts() (starts, stops, pauses int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.starts, v.stops, v.pauses
}
