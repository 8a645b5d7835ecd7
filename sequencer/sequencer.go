// Package sequencer plays Standard MIDI Files through a loaded
// soundfont. Events are extracted track by track, merged on their
// absolute tick and scheduled in real time against the player's note
// operations.
package sequencer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2/smf"
)

const defaultTempoBPM = 120.0

// Player is the subset of midisf.Player the sequencer drives. Declared
// here so tests can substitute a recorder.
type Player interface {
	PlayNote(sfID, channel, key, velocity int) error
	StopNote(sfID, channel, key int) error
	StopAllNotes(sfID, channel int) error
}

// event is one scheduled MIDI event at an absolute offset from song
// start.
type event struct {
	at       time.Duration
	channel  int
	key      int
	velocity int
	on       bool
}

// Sequencer plays SMF data through one soundfont handle.
type Sequencer struct {
	player Player
	sfID   int
}

// New creates a sequencer bound to a loaded soundfont handle.
func New(player Player, sfID int) *Sequencer {
	return &Sequencer{player: player, sfID: sfID}
}

// PlayFile reads and plays an SMF file. It blocks until the song ends or
// ctx is canceled; cancellation stops playback and silences every
// channel that saw a note.
func (s *Sequencer) PlayFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading midi file: %w", err)
	}
	return s.Play(ctx, data)
}

// Play schedules and plays parsed SMF data.
func (s *Sequencer) Play(ctx context.Context, data []byte) error {
	events, channels, err := extractEvents(data)
	if err != nil {
		return err
	}

	start := time.Now()
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for _, ev := range events {
		wait := ev.at - time.Since(start)
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				s.silence(channels)
				return ctx.Err()
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				s.silence(channels)
				return ctx.Err()
			default:
			}
		}

		if ev.on {
			err = s.player.PlayNote(s.sfID, ev.channel, ev.key, ev.velocity)
		} else {
			err = s.player.StopNote(s.sfID, ev.channel, ev.key)
		}
		if err != nil {
			s.silence(channels)
			return fmt.Errorf("at %v: %w", ev.at, err)
		}
	}
	return nil
}

func (s *Sequencer) silence(channels map[int]bool) {
	for ch := range channels {
		// Best effort; the player may already be gone.
		_ = s.player.StopAllNotes(s.sfID, ch)
	}
}

// extractEvents walks every track, converting delta ticks to wall-clock
// offsets. Tempo meta events (FF 51 03) adjust the tick duration from
// their position onward; note on with velocity zero counts as note off.
func extractEvents(data []byte) ([]event, map[int]bool, error) {
	sm, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing midi file: %w", err)
	}

	ticksPerQuarter := uint16(480)
	if mt, ok := sm.TimeFormat.(smf.MetricTicks); ok {
		ticksPerQuarter = mt.Resolution()
	}

	// Collect tempo changes from all tracks first, then replay them while
	// converting ticks to time.
	type tempoChange struct {
		tick int64
		usPQ float64 // microseconds per quarter note
	}
	tempi := []tempoChange{{0, 60e6 / defaultTempoBPM}}

	type rawEvent struct {
		tick int64
		msg  []byte
	}
	var raws []rawEvent

	for _, track := range sm.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := []byte(ev.Message)
			if len(msg) >= 6 && msg[0] == 0xFF && msg[1] == 0x51 && msg[2] == 0x03 {
				usPQ := float64(uint32(msg[3])<<16 | uint32(msg[4])<<8 | uint32(msg[5]))
				if usPQ > 0 {
					tempi = append(tempi, tempoChange{tick, usPQ})
				}
				continue
			}
			if len(msg) >= 3 {
				status := msg[0] & 0xF0
				if status == 0x90 || status == 0x80 {
					raws = append(raws, rawEvent{tick, msg})
				}
			}
		}
	}

	sort.SliceStable(tempi, func(i, j int) bool { return tempi[i].tick < tempi[j].tick })
	sort.SliceStable(raws, func(i, j int) bool { return raws[i].tick < raws[j].tick })

	// tickTime converts an absolute tick to a duration by accumulating
	// across tempo segments.
	tickTime := func(tick int64) time.Duration {
		var t float64 // microseconds
		for i, tc := range tempi {
			segEnd := tick
			if i+1 < len(tempi) && tempi[i+1].tick < tick {
				segEnd = tempi[i+1].tick
			}
			if segEnd > tc.tick {
				t += float64(segEnd-tc.tick) * tc.usPQ / float64(ticksPerQuarter)
			}
			if segEnd == tick {
				break
			}
		}
		return time.Duration(t) * time.Microsecond
	}

	events := make([]event, 0, len(raws))
	channels := make(map[int]bool)
	for _, r := range raws {
		status := r.msg[0] & 0xF0
		channel := int(r.msg[0] & 0x0F)
		key := int(r.msg[1])
		velocity := int(r.msg[2])
		on := status == 0x90 && velocity > 0

		channels[channel] = true
		events = append(events, event{
			at:       tickTime(r.tick),
			channel:  channel,
			key:      key,
			velocity: velocity,
			on:       on,
		})
	}
	return events, channels, nil
}
