// Package pcmrender is a reference implementation of ft2engine.Renderer: a
// plain sample-playback engine with no filters or reverb, good enough to
// drive cmd/play's live output and cmd/render's offline WAV export. It is
// deliberately simple — the sample-accurate DSP renderer spec.md §1 treats
// as an external collaborator is not this package's job to be authoritative
// about, only to exist so the rest of the engine has something to talk to.
//
// The fixed-point playback position/rate and mono/stereo mixing loop shape
// are grounded on the teacher's mixChannelsMono_Scalar/mixChannelsStereo_Scalar
// (mixer_scalar.go), adapted from a fixed sample-count-per-call API onto the
// ft2engine.Renderer/Dispatch interface.
package pcmrender

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/retrotrack/ft2engine"
)

const fixedPointShift = 16

type voice struct {
	sampleData []int8
	loopStart  int
	loopLen    int

	pos  uint64 // 48.16 fixed point, in frames
	rate uint64 // fixed-point frames advanced per output sample

	volume float64 // 0..1
	pan    float64 // -1..1
	gated  bool
}

func (v *voice) setFrequency(outputHz int, freq float64) {
	v.rate = uint64((freq / float64(outputHz)) * (1 << fixedPointShift))
}

// nextFrame advances the voice by one output sample and returns its current
// signed sample value, or 0 if not gated / out of data.
func (v *voice) nextFrame() int {
	if !v.gated || len(v.sampleData) == 0 {
		return 0
	}
	idx := int(v.pos >> fixedPointShift)
	if idx >= len(v.sampleData) {
		if v.loopLen > 2 {
			idx = v.loopStart + (idx-v.loopStart)%v.loopLen
		} else {
			v.gated = false
			return 0
		}
	}
	sd := int(v.sampleData[idx])
	v.pos += v.rate
	return sd
}

// Engine is a Renderer backed by one pool of sample-playback voices.
type Engine struct {
	song      *ft2engine.Song
	outputHz  int
	voices    []voice
	nextBase  ft2engine.VoiceHandle
}

// NewEngine builds a pcmrender.Engine bound to song, rendering at outputHz.
func NewEngine(song *ft2engine.Song, outputHz int) *Engine {
	return &Engine{song: song, outputHz: outputHz}
}

// Allocate reserves count new voices and returns the base handle of the run.
func (e *Engine) Allocate(ctx context.Context, engine string, count int) (ft2engine.VoiceHandle, error) {
	base := e.nextBase
	e.voices = append(e.voices, make([]voice, count)...)
	e.nextBase += ft2engine.VoiceHandle(count)
	return base, nil
}

// Dispatch applies one ProcessorCommand to the voice at handle.
func (e *Engine) Dispatch(ctx context.Context, h ft2engine.VoiceHandle, cmd ft2engine.ProcessorCommand) error {
	if int(h) < 0 || int(h) >= len(e.voices) {
		return fmt.Errorf("pcmrender: voice handle %d out of range", h)
	}
	v := &e.voices[h]

	switch cmd.Kind {
	case ft2engine.CmdSetFrequency:
		v.setFrequency(e.outputHz, cmd.Frequency)
	case ft2engine.CmdSetVolume:
		v.volume = cmd.Volume
	case ft2engine.CmdSetPan:
		v.pan = cmd.Pan
	case ft2engine.CmdNoteOn:
		if cmd.InstrumentID < 0 || cmd.InstrumentID >= len(e.song.Samples) {
			return ft2engine.ErrInstrumentNotReady
		}
		s := e.song.Samples[cmd.InstrumentID]
		v.sampleData = s.Data
		v.loopStart = s.LoopStart
		v.loopLen = s.LoopLength
		v.pos = 0
		v.volume = cmd.Volume
		v.gated = true
	case ft2engine.CmdNoteOff, ft2engine.CmdGateOff:
		v.gated = false
	case ft2engine.CmdSetGlobalVolume:
		// The reference engine has no separate global-volume stage; callers
		// that need it should scale cmd.Volume into each voice's CmdSetVolume
		// before dispatch, which is what Processor/VoiceAllocator already do.
	}
	return nil
}

// Release silences the voice. The reference engine never shrinks its pool,
// so the handle remains valid and reusable afterward.
func (e *Engine) Release(ctx context.Context, h ft2engine.VoiceHandle) error {
	if int(h) < 0 || int(h) >= len(e.voices) {
		return nil
	}
	e.voices[h].gated = false
	return nil
}

// Mix renders nSamples interleaved stereo frames (2*nSamples int16 values)
// into out, summing every gated voice with simple linear panning.
func (e *Engine) Mix(out []int16, nSamples int) {
	buf := make([]int32, nSamples*2)
	for i := range e.voices {
		v := &e.voices[i]
		if !v.gated {
			continue
		}
		lvol := v.volume * (1 - (v.pan+1)/2)
		rvol := v.volume * ((v.pan + 1) / 2)
		for s := 0; s < nSamples; s++ {
			sd := v.nextFrame()
			buf[s*2+0] += int32(float64(sd) * lvol * 256)
			buf[s*2+1] += int32(float64(sd) * rvol * 256)
		}
	}
	for i, s := range buf {
		out[i] = clampInt16(s)
	}
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// FixedClock is an AudioClock driven by how many samples have been rendered
// so far, for offline rendering and tests where there's no real audio
// device to query.
type FixedClock struct {
	sampleRate int
	rendered   uint64
}

// NewFixedClock returns a FixedClock starting at time 0.
func NewFixedClock(sampleRate int) *FixedClock { return &FixedClock{sampleRate: sampleRate} }

// Advance records n more samples as rendered.
func (c *FixedClock) Advance(n int) { c.rendered += uint64(n) }

// Now returns elapsed seconds of rendered audio.
func (c *FixedClock) Now() float64 { return float64(c.rendered) / float64(c.sampleRate) }

// Suspended always reports false: a FixedClock never stalls.
func (c *FixedClock) Suspended() bool { return false }

// RenderToWAV writes pcm, interleaved stereo int16 frames already mixed by
// the caller, to a 16-bit stereo WAV file at path, using
// github.com/go-audio/wav. It renders nothing itself and does not read
// engine. Used by cmd/render, which drives the Scheduler/VoiceAllocator
// against this Engine and a FixedClock, collects the mixed output, and calls
// RenderToWAV once playback completes.
func RenderToWAV(path string, engine *Engine, sampleRate int, pcm []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pcmrender: creating %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	defer enc.Close()

	ints := make([]int, len(pcm))
	for i, s := range pcm {
		ints[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("pcmrender: encoding WAV: %w", err)
	}
	return nil
}
