// Command dump prints a MOD file's header, sample table, and sequence to
// stdout. Adapted from the teacher's cmd/moddump/main.go, MOD-only — the
// S3M branch is dropped along with the rest of S3M support (see DESIGN.md).
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/retrotrack/ft2engine"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("dump: ")

	if len(os.Args) <= 1 {
		log.Fatal("missing MOD filename")
	}

	buf, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	song, err := ft2engine.ParseMOD(buf)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Title:    %s\n", song.Title)
	fmt.Printf("Flavor:   %s (signature %q)\n", song.Flavor, song.Signature)
	fmt.Printf("Channels: %d\n", song.Channels)
	fmt.Printf("Speed:    %d, Tempo: %d bpm\n", song.InitialSpeed, song.InitialTempo)
	fmt.Printf("Sequence: %d orders, %d patterns\n", len(song.Sequence), len(song.Patterns))
	fmt.Println()

	fmt.Println("Samples:")
	for i, s := range song.Samples {
		if len(s.Data) == 0 && s.Name == "" {
			continue
		}
		loop := ""
		if s.Loops() {
			loop = fmt.Sprintf(" loop=%d+%d", s.LoopStart, s.LoopLength)
		}
		fmt.Printf("  %2d: %-22s len=%-6d vol=%-2d finetune=%-2d%s\n",
			i+1, s.Name, len(s.Data), s.DefaultVolume, s.FineTune, loop)
	}

	fmt.Println()
	fmt.Print("Order list: ")
	for i, p := range song.Sequence {
		if i > 0 {
			fmt.Print(" ")
		}
		fmt.Printf("%02X", p)
	}
	fmt.Println()
}
