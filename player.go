// Package midisf manages soundfont (SF2) MIDI playback: it loads
// soundfonts, owns sixteen synthesizer voices per loaded font, selects
// instruments, triggers notes and rides out OS audio interruptions and
// route changes. Synthesis itself and OS focus arbitration live behind
// the synth and focus capability interfaces.
package midisf

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chihoc/midisf/focus"
	"github.com/chihoc/midisf/synth"
)

// Config holds Player construction parameters.
type Config struct {
	// Synth is the synthesizer capability. Required.
	Synth synth.Synthesizer

	// Focus manages the OS audio session. Optional; defaults to a manual
	// manager that always grants focus.
	Focus focus.Manager

	// FocusOptions configure the audio session. Zero values keep the
	// focus package defaults.
	FocusOptions focus.Options

	// ErrorHandler receives best-effort failures from interruption
	// recovery and cleanup. Optional; defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler
}

// Player ties the registry, dispatcher, session manager and notifier
// together behind one facade. All soundfont operations funnel through
// the dispatcher's serial loop.
type Player struct {
	id uuid.UUID

	mu       sync.Mutex
	closed   bool
	registry *Registry
	disp     *Dispatcher
	session  *SessionManager
	notifier *Notifier
	focus    focus.Manager
}

// New creates a Player, configures the audio session and requests
// playback focus. A focus denial fails construction: nothing could ever
// be heard.
func New(config Config) (*Player, error) {
	if config.Synth == nil {
		return nil, fmt.Errorf("midisf: Config.Synth is required")
	}
	if config.Focus == nil {
		config.Focus = focus.NewManual()
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = &DefaultErrorHandler{}
	}
	opts := config.FocusOptions
	if opts.SampleRate <= 0 {
		opts.SampleRate = focus.DefaultOptions.SampleRate
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = focus.DefaultOptions.BufferSize
	}

	if err := config.Focus.Configure(opts); err != nil {
		return nil, fmt.Errorf("configuring audio session: %w", err)
	}
	if !config.Focus.RequestFocus() {
		return nil, fmt.Errorf("%w: audio focus denied", ErrEngineStartFailed)
	}

	registry := NewRegistry(config.Synth, config.ErrorHandler)
	notifier := NewNotifier()
	disp := NewDispatcher(registry)
	session := NewSessionManager(registry, notifier, config.Focus, disp, opts, config.ErrorHandler)
	disp.attachSession(session)

	if err := disp.Start(); err != nil {
		config.Focus.ReleaseFocus()
		return nil, fmt.Errorf("starting dispatcher: %w", err)
	}
	session.Start()

	return &Player{
		id:       uuid.New(),
		registry: registry,
		disp:     disp,
		session:  session,
		notifier: notifier,
		focus:    config.Focus,
	}, nil
}

// ID returns the player's identity.
func (p *Player) ID() uuid.UUID { return p.id }

// Invoke submits a named operation with an argument map, the same
// contract the HTTP surface speaks. Library callers usually prefer the
// typed methods below, which build the maps themselves.
func (p *Player) Invoke(method string, args map[string]any) (any, error) {
	return p.disp.Invoke(method, args)
}

// LoadSoundfont loads the soundfont at path with an initial bank/program
// on all 16 channels and returns its handle.
func (p *Player) LoadSoundfont(path string, bank, program int) (int, error) {
	res, err := p.Invoke(string(OpLoadSoundfont), map[string]any{
		"path":    path,
		"bank":    bank,
		"program": program,
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// SelectInstrument reloads the instrument for one channel of a loaded
// soundfont.
func (p *Player) SelectInstrument(sfID, channel, bank, program int) error {
	_, err := p.Invoke(string(OpSelectInstrument), map[string]any{
		"sfId":    sfID,
		"channel": channel,
		"bank":    bank,
		"program": program,
	})
	return err
}

// PlayNote triggers a note.
func (p *Player) PlayNote(sfID, channel, key, velocity int) error {
	_, err := p.Invoke(string(OpPlayNote), map[string]any{
		"sfId":     sfID,
		"channel":  channel,
		"key":      key,
		"velocity": velocity,
	})
	return err
}

// StopNote releases a note.
func (p *Player) StopNote(sfID, channel, key int) error {
	_, err := p.Invoke(string(OpStopNote), map[string]any{
		"sfId":    sfID,
		"channel": channel,
		"key":     key,
	})
	return err
}

// StopAllNotes sends "all notes off" on one channel.
func (p *Player) StopAllNotes(sfID, channel int) error {
	_, err := p.Invoke(string(OpStopAllNotes), map[string]any{
		"sfId":    sfID,
		"channel": channel,
	})
	return err
}

// UnloadSoundfont stops and releases a loaded soundfont.
func (p *Player) UnloadSoundfont(sfID int) error {
	_, err := p.Invoke(string(OpUnloadSoundfont), map[string]any{"sfId": sfID})
	return err
}

// Dispose stops and releases every loaded soundfont. It never fails.
func (p *Player) Dispose() error {
	_, err := p.Invoke(string(OpDispose), nil)
	return err
}

// Subscribe registers a listener for session events.
func (p *Player) Subscribe() (string, <-chan Event) {
	return p.notifier.Subscribe()
}

// Unsubscribe removes a previously registered listener.
func (p *Player) Unsubscribe(id string) {
	p.notifier.Unsubscribe(id)
}

// Interrupted reports whether audio is currently suspended by an
// external interruption.
func (p *Player) Interrupted() bool {
	return p.session.Interrupted()
}

// Registry exposes the handle table for integrations such as the
// sequencer and for tests.
func (p *Player) Registry() *Registry {
	return p.registry
}

// PerformanceStats returns the last and maximum dispatcher operation
// durations.
func (p *Player) PerformanceStats() (lastDuration, maxDuration time.Duration) {
	return p.disp.PerformanceStats()
}

// Close disposes all soundfonts, stops the dispatcher and session
// manager and releases audio focus. Safe to call more than once.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if _, err := p.disp.Invoke(string(OpDispose), nil); err != nil {
		// Dispatcher may already be gone; fall through to direct cleanup.
		p.registry.DisposeAll()
	}
	p.session.Stop()
	if err := p.disp.Stop(); err != nil {
		return err
	}
	p.focus.ReleaseFocus()
	return nil
}
