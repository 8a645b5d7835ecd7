// Package midiin bridges a hardware MIDI input to a soundfont player:
// note on/off and all-notes-off messages arriving on a portmidi input
// stream are translated into player operations on one loaded handle.
package midiin

import (
	"fmt"
	"sync"
	"time"

	"github.com/rakyll/portmidi"
)

const (
	pollInterval = 5 * time.Millisecond
	readChunk    = 64

	ccAllNotesOff = 123
)

var initOnce sync.Once

// Player is the subset of midisf.Player the bridge drives.
type Player interface {
	PlayNote(sfID, channel, key, velocity int) error
	StopNote(sfID, channel, key int) error
	StopAllNotes(sfID, channel int) error
}

// Device describes one available MIDI input.
type Device struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Devices enumerates available MIDI inputs.
func Devices() ([]Device, error) {
	if err := initialize(); err != nil {
		return nil, err
	}

	var out []Device
	for i := 0; i < portmidi.CountDevices(); i++ {
		info := portmidi.Info(portmidi.DeviceID(i))
		if info != nil && info.IsInputAvailable {
			out = append(out, Device{ID: i, Name: info.Name})
		}
	}
	return out, nil
}

// Bridge forwards events from one input device to the player.
type Bridge struct {
	player Player
	sfID   int
	stream *portmidi.Stream

	errorHandler func(error)

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// Open opens the input device and starts forwarding. The error handler
// receives per-event translation failures (unknown handle after an
// unload, for instance) and may be nil.
func Open(player Player, sfID int, deviceID int, errorHandler func(error)) (*Bridge, error) {
	if err := initialize(); err != nil {
		return nil, err
	}

	stream, err := portmidi.NewInputStream(portmidi.DeviceID(deviceID), readChunk)
	if err != nil {
		return nil, fmt.Errorf("opening midi input %d: %w", deviceID, err)
	}

	b := &Bridge{
		player:       player,
		sfID:         sfID,
		stream:       stream,
		errorHandler: errorHandler,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	go b.run()
	return b, nil
}

// Close stops forwarding and releases the input stream.
func (b *Bridge) Close() error {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	<-b.done
	return b.stream.Close()
}

func (b *Bridge) run() {
	defer close(b.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			pending, err := b.stream.Poll()
			if err != nil {
				b.handleError(fmt.Errorf("polling midi input: %w", err))
				continue
			}
			if !pending {
				continue
			}
			events, err := b.stream.Read(readChunk)
			if err != nil {
				b.handleError(fmt.Errorf("reading midi input: %w", err))
				continue
			}
			for _, ev := range events {
				b.dispatch(ev)
			}
		}
	}
}

func (b *Bridge) dispatch(ev portmidi.Event) {
	status := byte(ev.Status)
	channel := int(status & 0x0F)
	data1 := int(ev.Data1)
	data2 := int(ev.Data2)

	var err error
	switch status & 0xF0 {
	case 0x90:
		if data2 > 0 {
			err = b.player.PlayNote(b.sfID, channel, data1, data2)
		} else {
			err = b.player.StopNote(b.sfID, channel, data1)
		}
	case 0x80:
		err = b.player.StopNote(b.sfID, channel, data1)
	case 0xB0:
		if data1 == ccAllNotesOff {
			err = b.player.StopAllNotes(b.sfID, channel)
		}
	}
	if err != nil {
		b.handleError(fmt.Errorf("forwarding midi event %#x: %w", status, err))
	}
}

func (b *Bridge) handleError(err error) {
	if b.errorHandler != nil {
		b.errorHandler(err)
	}
}

func initialize() error {
	var err error
	initOnce.Do(func() {
		err = portmidi.Initialize()
	})
	return err
}
