// Command play renders a MOD file to the default audio device with a live
// pattern-view UI, keyboard mute/solo controls, and optional reverb.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/fatih/color"
	"github.com/gordonklaus/portaudio"

	"github.com/retrotrack/ft2engine"
	"github.com/retrotrack/ft2engine/cmd/internal/config"
	"github.com/retrotrack/ft2engine/internal/pcmrender"
	"github.com/retrotrack/ft2engine/internal/reverb"
)

var (
	flagHz       = flag.Int("hz", 44100, "output hz")
	flagStartOrd = flag.Int("start", 0, "starting order in the MOD, clamped to song max")
	flagReverb   = flag.String("reverb", "light", "reverb setting: none, light, medium, silly")
	flagNoUI     = flag.Bool("noui", false, "disable the pattern-view UI")
)

const (
	escape     = "\x1b["
	hideCursor = escape + "?25l"
	showCursor = escape + "?25h"

	audioBufferSize = 756 / 2
	uiLineCount     = 13
)

var (
	white   = color.New(color.FgWhite).SprintfFunc()
	cyan    = color.New(color.FgCyan).SprintfFunc()
	magenta = color.New(color.FgMagenta).SprintfFunc()
	blue    = color.New(color.FgHiBlue).SprintFunc()
	green   = color.New(color.FgGreen).SprintfFunc()
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("play: ")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("missing MOD filename")
	}

	modBytes, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	song, err := ft2engine.ParseMOD(modBytes)
	if err != nil {
		log.Fatal(err)
	}

	rv, err := config.ReverbFromFlag(*flagReverb, *flagHz)
	if err != nil {
		log.Fatal(err)
	}

	engine := pcmrender.NewEngine(song, *flagHz)
	clock := pcmrender.NewFixedClock(*flagHz)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	player, err := ft2engine.NewPlayer(ctx, engine, clock, []ft2engine.EngineConfig{
		{Name: "sample", VoiceCount: song.Channels},
	})
	if err != nil {
		log.Fatal(err)
	}
	player.LoadSong(song)

	ap := newAudioPlayer(player, engine, clock, rv, *flagNoUI)
	ap.setChannelCount(song.Channels)
	*flagStartOrd = min(max(*flagStartOrd, 0), len(song.Sequence)-1)

	if err := ap.run(ctx); err != nil {
		log.Fatal(err)
	}
}

// audioPlayer wires an ft2engine.Player to a PortAudio stream and a
// keyboard-driven pattern-view UI. Grounded on the teacher's AudioPlayer
// (cmd/modplay/play.go), rewired onto ft2engine.Player/pcmrender.Engine
// instead of the teacher's monolithic Player.GenerateAudio.
type audioPlayer struct {
	player   *ft2engine.Player
	engine   *pcmrender.Engine
	clock    *pcmrender.FixedClock
	reverb   reverb.Reverber
	stream   *portaudio.Stream
	channels int

	scratch []int16

	uiWriter        io.Writer
	selectedChannel int
	soloChannel     int

	cancelFn       context.CancelFunc
	wg             sync.WaitGroup
	stopOnce       sync.Once
	terminated     bool
	keyboardDoneCh chan struct{}
}

func newAudioPlayer(player *ft2engine.Player, engine *pcmrender.Engine, clock *pcmrender.FixedClock, rv reverb.Reverber, noUI bool) *audioPlayer {
	var uiw io.Writer = os.Stdout
	if noUI {
		uiw = io.Discard
	}
	return &audioPlayer{
		player:         player,
		engine:         engine,
		clock:          clock,
		reverb:         rv,
		scratch:        make([]int16, audioBufferSize*2*4),
		uiWriter:       uiw,
		soloChannel:    -1,
		keyboardDoneCh: make(chan struct{}),
	}
}

// setChannelCount records how many tracks the loaded song has, so
// handleKeyPress can bound channel selection.
func (ap *audioPlayer) setChannelCount(n int) { ap.channels = n }

func (ap *audioPlayer) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	ap.cancelFn = cancel

	if err := portaudio.Initialize(); err != nil {
		return err
	}

	stream, err := portaudio.OpenDefaultStream(0, 2, float64(*flagHz), audioBufferSize, ap.streamCallback)
	if err != nil {
		return err
	}
	ap.stream = stream
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}

	if err := ap.player.Start(ctx, ap.clock); err != nil {
		return err
	}
	ap.player.Seek(*flagStartOrd, 0)

	ap.setupSignalHandlers(ctx)
	ap.setupKeyboardHandlers()

	fmt.Fprint(ap.uiWriter, hideCursor)
	fmt.Fprintln(ap.uiWriter, ap.player.Position())

	ap.wg.Add(1)
	go ap.uiLoop(ctx)

	<-ctx.Done()

	fmt.Fprint(ap.uiWriter, showCursor)
	ap.wg.Wait()
	return nil
}

// streamCallback is PortAudio's pull callback: it renders nSamples frames
// via the pcmrender.Engine (mixing whatever notes the Scheduler has
// dispatched so far), advances the clock, and runs the result through the
// reverb stage.
func (ap *audioPlayer) streamCallback(out []int16) {
	n := len(out) / 2
	sc := ap.scratch[:len(out)]

	if ap.player.IsPlaying() {
		ap.engine.Mix(sc, n)
	} else {
		clear(sc)
	}
	ap.clock.Advance(n)

	ap.reverb.InputSamples(sc)
	got := ap.reverb.GetAudio(out)
	if got < len(out) {
		clear(out[got:])
	}
}

func (ap *audioPlayer) setupSignalHandlers(ctx context.Context) {
	sigch := make(chan os.Signal, 5)
	signal.Notify(sigch, syscall.SIGINT)

	ap.wg.Add(1)
	go func() {
		defer ap.wg.Done()
		select {
		case <-ctx.Done():
		case <-sigch:
			ap.stop()
		}
	}()
}

func (ap *audioPlayer) setupKeyboardHandlers() {
	ap.wg.Add(1)
	go func() {
		defer ap.wg.Done()
		keyboard.Listen(func(key keys.Key) (stop bool, err error) {
			if key.Code == keys.CtrlC || key.Code == keys.Escape {
				ap.stop()
				return true, nil
			}
			ap.handleKeyPress(key)
			return false, nil
		})
		close(ap.keyboardDoneCh)
	}()
}

func (ap *audioPlayer) handleKeyPress(key keys.Key) {
	switch key.Code {
	case keys.Left:
		if ap.selectedChannel > 0 {
			ap.selectedChannel--
		}
	case keys.Right:
		if ap.selectedChannel < ap.channels-1 {
			ap.selectedChannel++
		}
	case keys.Space:
		if ap.player.IsPlaying() {
			ap.player.Pause()
		} else {
			if err := ap.player.Start(context.Background(), ap.clock); err != nil {
				log.Println(err)
			}
		}
	case keys.RuneKey:
		if len(key.Runes) == 0 {
			return
		}
		switch key.Runes[0] {
		case 'q':
			ap.player.Mute(toggleBit(ap.currentMute(), ap.selectedChannel))
		case 's':
			if ap.soloChannel != ap.selectedChannel {
				ap.soloChannel = ap.selectedChannel
				ap.player.Mute(^uint(0) ^ (1 << uint(ap.selectedChannel)))
			} else {
				ap.soloChannel = -1
				ap.player.Mute(0)
			}
		}
	}
}

func (ap *audioPlayer) currentMute() uint {
	mute := uint(0)
	for ch := 0; ch < 32; ch++ {
		if ap.player.Muted(ch) {
			mute |= 1 << uint(ch)
		}
	}
	return mute
}

func toggleBit(mask uint, bit int) uint { return mask ^ (1 << uint(bit)) }

func (ap *audioPlayer) stop() {
	ap.stopOnce.Do(func() {
		ap.player.Stop()
		ap.cancelFn()
		if ap.stream != nil {
			ap.stream.Stop()
			ap.stream.Close()
		}
		if !ap.terminated {
			portaudio.Terminate()
			ap.terminated = true
		}
		fmt.Fprint(ap.uiWriter, showCursor)
	})
}

// uiLoop redraws the pattern view whenever the playback position advances,
// until ctx is cancelled.
func (ap *audioPlayer) uiLoop(ctx context.Context) {
	defer ap.wg.Done()
	var last ft2engine.Position
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pos := ap.player.Position()
		if pos != last {
			ap.renderChannelHeader()
			ap.renderUI()
			last = pos
		}
	}
}

// renderChannelHeader prints the channel numbers, highlighting whichever is
// selected.
func (ap *audioPlayer) renderChannelHeader() {
	fmt.Fprint(ap.uiWriter, "        ")
	for i := 0; i < ap.channels; i++ {
		if i == ap.selectedChannel {
			fmt.Fprint(ap.uiWriter, green(fmt.Sprintf("%2d       ", i+1)))
			continue
		}
		fmt.Fprintf(ap.uiWriter, "%2d       ", i+1)
	}
	fmt.Fprintln(ap.uiWriter)
}

// renderUI prints the note data surrounding the current row, highlighting
// the current row and selected channel (spec.md §6's NoteDataFor use case).
func (ap *audioPlayer) renderUI() {
	pos := ap.player.Position()
	for i := -4; i <= 4; i++ {
		nd := ap.player.NoteDataFor(pos.OrderIndex, pos.Row+i)
		if nd == nil {
			fmt.Fprintln(ap.uiWriter)
			continue
		}
		if i == 0 {
			fmt.Fprint(ap.uiWriter, blue(">>> "))
		} else {
			fmt.Fprint(ap.uiWriter, "    ")
		}
		for ci, n := range nd {
			if ci >= 4 {
				fmt.Fprint(ap.uiWriter, " ...")
				break
			}
			note := n.Note
			if note == "" {
				note = "---"
			}
			label := white(note) + " " + cyan("%2X", n.Instrument)
			if ci == ap.selectedChannel {
				label = magenta("%s", label)
			}
			fmt.Fprint(ap.uiWriter, label)
			if ci < 3 {
				fmt.Fprint(ap.uiWriter, "|")
			}
		}
		fmt.Fprintln(ap.uiWriter)
	}
	fmt.Fprint(ap.uiWriter, escape+fmt.Sprintf("%dF", uiLineCount))
}
