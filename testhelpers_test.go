package ft2engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	clone "github.com/huandu/go-clone/generic"
)

// Tracker-notation test fixtures: a pattern row is one string per channel of
// the form "note inst effect", e.g.
//   "C-4 01 A08" -> play C-4 with instrument 1, effect Axy param 0x08
//   "..."        -> empty cell
// matching the three fields a raw MOD pattern cell actually carries.
// Grounded on the teacher's colToParts/decodeNote/convertTestPatternData
// (helpers_test.go), rewritten against this engine's PatternCell/Song shapes.

var noteNameIndex = map[string]int{
	"C-": 0, "C#": 1, "D-": 2, "D#": 3, "E-": 4, "F-": 5,
	"F#": 6, "G-": 7, "G#": 8, "A-": 9, "A#": 10, "B-": 11,
}

// parseNoteToPeriod turns "C-4" into the Amiga period periodToFrequency
// would report back as that note's frequency, so fixtures stay internally
// consistent with the conversion helpers under test.
func parseNoteToPeriod(s string) uint16 {
	name := s[0:2]
	octave := int(s[2] - '0')
	idx, ok := noteNameIndex[name]
	if !ok {
		panic(fmt.Sprintf("testhelpers: invalid note name %q", s))
	}
	midi := 12 + 12*octave + idx
	freq := midiToFrequency(midi)
	return uint16(frequencyToPeriod(freq))
}

func hexByte(s string) uint8 {
	if s == "" || s == ".." {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		panic(fmt.Sprintf("testhelpers: bad hex byte %q: %v", s, err))
	}
	return uint8(v)
}

// cellFromNotation decodes one "note inst effect" cell string into a
// PatternCell. An empty/"..." cell decodes to the zero PatternCell.
func cellFromNotation(s string) PatternCell {
	fields := strings.Fields(s)
	for len(fields) < 3 {
		fields = append(fields, "..")
	}

	var cell PatternCell
	if fields[0] != "..." && fields[0] != "" {
		cell.Period = parseNoteToPeriod(fields[0])
	}
	cell.SampleNumber = hexByte(fields[1])
	if len(fields[2]) == 3 && fields[2] != "..." {
		cell.EffectCmd = hexByte(fields[2][0:1])
		cell.EffectParam = hexByte(fields[2][1:3])
	}
	return cell
}

// buildPattern turns rows (one []string per row, one cell string per
// channel) into a Pattern.
func buildPattern(rows [][]string) *Pattern {
	channels := len(rows[0])
	pat := NewPattern(channels)
	for r, row := range rows {
		if r >= RowsPerPattern {
			break
		}
		for c, cellStr := range row {
			pat.Cells[r*channels+c] = cellFromNotation(cellStr)
		}
	}
	return pat
}

// testSongFromPattern returns a minimal Song fixture wrapping a single
// pattern built from rows, ready to drive through a Scheduler.
func testSongFromPattern(rows [][]string) *Song {
	pat := buildPattern(rows)
	samples := make([]Sample, 4)
	for i := range samples {
		samples[i] = Sample{
			Name:          fmt.Sprintf("testins%d", i+1),
			Data:          make([]int8, 200),
			DefaultVolume: 64,
		}
	}
	return &Song{
		Title:        "testsong",
		Channels:     pat.Channels,
		Sequence:     []byte{0},
		Patterns:     []*Pattern{pat},
		Samples:      samples,
		Signature:    "M.K.",
		Flavor:       FlavorProTracker,
		InitialTempo: 125,
		InitialSpeed: 6,
	}
}

// cloneSong returns an independent deep copy of a fixture song, the same way
// the teacher's helpers_test.go clones a shared base testSong per test case
// so one test's mutations never leak into another's.
func cloneSong(s *Song) *Song {
	return clone.Clone(s)
}

// fakeRenderer records every Dispatch call it receives, for assertions in
// voice/control tests. failNext, if set, is returned (and cleared) by the
// next Dispatch call, modeling the instrument-not-ready / context-suspended
// recoverable paths spec.md §7 describes.
type fakeRenderer struct {
	nextHandle VoiceHandle
	dispatched []fakeDispatch
	failNext   error
}

type fakeDispatch struct {
	voice VoiceHandle
	cmd   ProcessorCommand
}

func (f *fakeRenderer) Allocate(_ context.Context, engine string, count int) (VoiceHandle, error) {
	base := f.nextHandle
	f.nextHandle += VoiceHandle(count)
	return base, nil
}

func (f *fakeRenderer) Dispatch(_ context.Context, voice VoiceHandle, cmd ProcessorCommand) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.dispatched = append(f.dispatched, fakeDispatch{voice: voice, cmd: cmd})
	return nil
}

func (f *fakeRenderer) Release(_ context.Context, voice VoiceHandle) error { return nil }

// fakeClock is a manually-advanced AudioClock for deterministic scheduler/
// control tests.
type fakeClock struct {
	now       float64
	suspended bool
}

func (c *fakeClock) Now() float64    { return c.now }
func (c *fakeClock) Suspended() bool { return c.suspended }
