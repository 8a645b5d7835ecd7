// Command midisf is a soundfont player: it loads an SF2 file, plays
// single notes or Standard MIDI Files, bridges hardware MIDI inputs and
// serves the player's operation surface over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chihoc/midisf"
	"github.com/chihoc/midisf/focus"
	"github.com/chihoc/midisf/melty"
	"github.com/chihoc/midisf/midiin"
	"github.com/chihoc/midisf/sequencer"
	"github.com/chihoc/midisf/server"
)

var (
	soundfontPath string
	sampleRate    int
	bank          int
	program       int
)

var rootCmd = &cobra.Command{
	Use:   "midisf",
	Short: "Soundfont MIDI player",
	Long: `midisf loads SF2 soundfonts and plays MIDI through them.

Examples:
  midisf note --soundfont piano.sf2 --key 60
  midisf play --soundfont piano.sf2 song.mid
  midisf devices
  midisf listen --soundfont piano.sf2 --device 1
  midisf serve --soundfont piano.sf2 --addr :8080`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&soundfontPath, "soundfont", "", "path to the SF2 soundfont file")
	rootCmd.PersistentFlags().IntVar(&sampleRate, "sample-rate", 44100, "output sample rate in Hz")
	rootCmd.PersistentFlags().IntVar(&bank, "bank", 0, "initial MIDI bank")
	rootCmd.PersistentFlags().IntVar(&program, "program", 0, "initial MIDI program")

	noteCmd.Flags().IntVar(&noteChannel, "channel", 0, "MIDI channel (0-15)")
	noteCmd.Flags().IntVar(&noteKey, "key", 60, "MIDI key")
	noteCmd.Flags().IntVar(&noteVelocity, "velocity", 100, "MIDI velocity")
	noteCmd.Flags().DurationVar(&noteDuration, "duration", time.Second, "how long to hold the note")

	listenCmd.Flags().IntVar(&listenDevice, "device", -1, "MIDI input device id (see 'midisf devices')")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")

	rootCmd.AddCommand(noteCmd, playCmd, devicesCmd, listenCmd, serveCmd)
}

// newPlayer builds a player with the soundfont loaded, returning the
// handle.
func newPlayer() (*midisf.Player, int, error) {
	if soundfontPath == "" {
		return nil, 0, fmt.Errorf("--soundfont is required")
	}

	synth, err := melty.New(melty.Options{SampleRate: sampleRate})
	if err != nil {
		return nil, 0, err
	}
	player, err := midisf.New(midisf.Config{
		Synth:        synth,
		Focus:        focus.NewManual(),
		FocusOptions: focus.Options{SampleRate: float64(sampleRate)},
	})
	if err != nil {
		return nil, 0, err
	}

	sfID, err := player.LoadSoundfont(soundfontPath, bank, program)
	if err != nil {
		player.Close()
		return nil, 0, err
	}
	return player, sfID, nil
}

var (
	noteChannel  int
	noteKey      int
	noteVelocity int
	noteDuration time.Duration
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Play a single note",
	RunE: func(cmd *cobra.Command, args []string) error {
		player, sfID, err := newPlayer()
		if err != nil {
			return err
		}
		defer player.Close()

		if err := player.PlayNote(sfID, noteChannel, noteKey, noteVelocity); err != nil {
			return err
		}
		time.Sleep(noteDuration)
		if err := player.StopNote(sfID, noteChannel, noteKey); err != nil {
			return err
		}
		// Give the release tail a moment before tearing the engine down.
		time.Sleep(300 * time.Millisecond)
		return nil
	},
}

var playCmd = &cobra.Command{
	Use:   "play <file.mid>",
	Short: "Play a Standard MIDI File through the soundfont",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		player, sfID, err := newPlayer()
		if err != nil {
			return err
		}
		defer player.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		seq := sequencer.New(player, sfID)
		if err := seq.PlayFile(ctx, args[0]); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available MIDI input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := midiin.Devices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("no MIDI inputs found")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%d: %s\n", d.ID, d.Name)
		}
		return nil
	},
}

var listenDevice int

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Play a hardware MIDI input live through the soundfont",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenDevice < 0 {
			return fmt.Errorf("--device is required (see 'midisf devices')")
		}

		player, sfID, err := newPlayer()
		if err != nil {
			return err
		}
		defer player.Close()

		bridge, err := midiin.Open(player, sfID, listenDevice, func(err error) {
			log.Printf("midi input: %v", err)
		})
		if err != nil {
			return err
		}
		defer bridge.Close()

		fmt.Printf("listening on device %d, ctrl-c to quit\n", listenDevice)
		wait := make(chan os.Signal, 1)
		signal.Notify(wait, os.Interrupt, syscall.SIGTERM)
		<-wait
		return nil
	},
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the player's operation surface over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		player, sfID, err := newPlayer()
		if err != nil {
			return err
		}
		defer player.Close()

		log.Printf("soundfont %s loaded as handle %d", soundfontPath, sfID)
		return server.New(player).Run(serveAddr)
	},
}
