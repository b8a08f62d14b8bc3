// Command render renders a MOD file offline to a 16-bit stereo WAV file.
// Adapted from the teacher's cmd/modwav/main.go, rewired onto
// ft2engine.Player/internal/pcmrender instead of the teacher's
// Player.GenerateAudio + hand-rolled wav.Writer.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/retrotrack/ft2engine"
	"github.com/retrotrack/ft2engine/cmd/internal/config"
	"github.com/retrotrack/ft2engine/internal/pcmrender"
)

const blockFrames = 2048

func main() {
	log.SetFlags(0)
	log.SetPrefix("render: ")

	flagHz := flag.Int("hz", 44100, "output hz")
	flagOut := flag.String("wav", "", "output WAV path")
	flagSeconds := flag.Float64("seconds", 120, "maximum seconds to render")
	flagReverb := flag.String("reverb", "none", "reverb setting: none, light, medium, silly")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("missing MOD filename")
	}
	if *flagOut == "" {
		log.Fatal("no -wav option provided")
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

	player, err := ft2engine.NewPlayer(context.Background(), engine, clock, []ft2engine.EngineConfig{
		{Name: "sample", VoiceCount: song.Channels},
	})
	if err != nil {
		log.Fatal(err)
	}
	player.LoadSong(song)
	if err := player.StartOffline(clock); err != nil {
		log.Fatal(err)
	}

	var pcm []int16
	block := make([]int16, blockFrames*2)
	wetBlock := make([]int16, blockFrames*2)

	maxSamples := int(*flagSeconds * float64(*flagHz))
	rendered := 0
	for rendered < maxSamples {
		playing := player.AdvanceTo(clock.Now() + float64(blockFrames)/float64(*flagHz))
		engine.Mix(block, blockFrames)
		clock.Advance(blockFrames)

		rv.InputSamples(block)
		n := rv.GetAudio(wetBlock)
		pcm = append(pcm, wetBlock[:n]...)
		rendered += blockFrames

		if !playing {
			break
		}
	}

	if err := pcmrender.RenderToWAV(*flagOut, engine, *flagHz, pcm); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %d frames to %s", len(pcm)/2, *flagOut)
}
