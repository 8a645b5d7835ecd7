package midisf

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/chihoc/midisf/focus"
	"github.com/chihoc/midisf/internal/testutil"
)

func TestNewRequiresSynth(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without a synthesizer should fail")
	}
}

func TestNewDefaultsFocusAndOptions(t *testing.T) {
	p, err := New(Config{Synth: testutil.NewSynth()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if p.ID() == uuid.Nil {
		t.Error("player id is zero")
	}
}

func TestNewConfiguresFocusOptions(t *testing.T) {
	fm := focus.NewManual()
	p, err := New(Config{
		Synth:        testutil.NewSynth(),
		Focus:        fm,
		FocusOptions: focus.Options{SampleRate: 48000, BufferSize: 256},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	opts := fm.CurrentOptions()
	if opts.SampleRate != 48000 || opts.BufferSize != 256 {
		t.Errorf("session options = %+v, want {48000 256}", opts)
	}
	if !fm.HoldingFocus() {
		t.Error("player does not hold audio focus")
	}
}

func TestNewFailsWhenFocusDenied(t *testing.T) {
	fm := focus.NewManual()
	fm.DenyFocus(true)

	_, err := New(Config{Synth: testutil.NewSynth(), Focus: fm})
	if !errors.Is(err, ErrEngineStartFailed) {
		t.Errorf("error = %v, want ErrEngineStartFailed", err)
	}
}

func TestPlayerTypedMethods(t *testing.T) {
	p, fake, _ := newTestPlayer(t)

	handle, err := p.LoadSoundfont("piano.sf2", 0, 0)
	if err != nil {
		t.Fatalf("LoadSoundfont: %v", err)
	}
	if handle != 1 {
		t.Errorf("handle = %d, want 1", handle)
	}

	if err := p.SelectInstrument(handle, 9, 128, 0); err != nil {
		t.Fatalf("SelectInstrument: %v", err)
	}
	if err := p.PlayNote(handle, 9, 36, 110); err != nil {
		t.Fatalf("PlayNote: %v", err)
	}

	drums := fake.Voices()[9]
	if notes := drums.ActiveNotes(9); len(notes) != 1 || notes[0] != 36 {
		t.Errorf("active notes = %v, want [36]", notes)
	}

	if err := p.StopNote(handle, 9, 36); err != nil {
		t.Fatalf("StopNote: %v", err)
	}
	if err := p.StopAllNotes(handle, 9); err != nil {
		t.Fatalf("StopAllNotes: %v", err)
	}
	if err := p.UnloadSoundfont(handle); err != nil {
		t.Fatalf("UnloadSoundfont: %v", err)
	}
	if err := p.PlayNote(handle, 9, 36, 110); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("PlayNote after unload: %v, want ErrInvalidHandle", err)
	}
}

func TestPlayerDisposeNeverFails(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	if _, err := p.LoadSoundfont("piano.sf2", 0, 0); err != nil {
		t.Fatalf("LoadSoundfont: %v", err)
	}
	if err := p.Dispose(); err != nil {
		t.Errorf("Dispose: %v", err)
	}
	if err := p.Dispose(); err != nil {
		t.Errorf("Dispose on empty player: %v", err)
	}
	if got := p.Registry().Len(); got != 0 {
		t.Errorf("registry holds %d soundfonts after dispose", got)
	}
}

func TestPlayerInvokeMatchesTypedSurface(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	res, err := p.Invoke("loadSoundfont", map[string]any{
		"path": "piano.sf2", "bank": float64(0), "program": float64(0),
	})
	if err != nil {
		t.Fatalf("Invoke loadSoundfont: %v", err)
	}
	handle := res.(int)

	if _, err := p.Invoke("playNote", map[string]any{
		"sfId": float64(handle), "channel": float64(0), "key": float64(64), "velocity": float64(90),
	}); err != nil {
		t.Errorf("Invoke playNote: %v", err)
	}
}

func TestPlayerCloseReleasesEverything(t *testing.T) {
	fake := testutil.NewSynth()
	fm := focus.NewManual()
	p, err := New(Config{Synth: fake, Focus: fm})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.LoadSoundfont("piano.sf2", 0, 0); err != nil {
		t.Fatalf("LoadSoundfont: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fm.HoldingFocus() {
		t.Error("audio focus still held after Close")
	}
	for _, v := range fake.Voices() {
		if v.IsRunning() {
			t.Errorf("voice %d still running after Close", v.Index())
		}
	}
	if p.disp.IsRunning() {
		t.Error("dispatcher still running after Close")
	}

	// Idempotent.
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := p.LoadSoundfont("piano.sf2", 0, 0); err == nil {
		t.Error("operations after Close should fail")
	}
}
