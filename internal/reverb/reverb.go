// Package reverb provides an optional comb-filter reverb post-process for
// rendered stereo PCM. Adapted from the teacher's internal/comb package:
// renamed and retyped against this engine's stereo int16 buffers, and kept
// as an optional post-process stage rather than a required part of the
// render path (spec.md §1 keeps DSP effects out of the core engine).
package reverb

// StreamingReverb applies a fixed-delay comb-filter reverb to interleaved
// stereo int16 PCM fed to it incrementally, for use against a Renderer's
// live or block-at-a-time output rather than a single pre-rendered buffer.
// It does not discard consumed input and has no upper bound on memory used —
// suitable for cmd/render's bounded offline renders, not for unbounded live
// playback.
type StreamingReverb struct {
	delayOffset int
	readPos     int
	writePos    int
	decay       float32
	audio       []int16
}

// NewStreamingReverb reserves space for roughly initialSize sample pairs.
func NewStreamingReverb(initialSize int, decay float32, delayMs, sampleRate int) *StreamingReverb {
	return &StreamingReverb{
		delayOffset: (delayMs * sampleRate) / 1000,
		decay:       decay,
		audio:       make([]int16, 0, initialSize*2),
	}
}

// InputSamples feeds interleaved stereo PCM into the filter. It returns how
// many more samples must be supplied before reverb starts being applied.
func (c *StreamingReverb) InputSamples(in []int16) int {
	c.audio = append(c.audio, in...)
	if len(c.audio) > c.delayOffset*2 {
		ns := len(c.audio) - (c.delayOffset*2 + c.writePos)
		for i := 0; i < ns; i++ {
			c.audio[i+c.delayOffset*2+c.writePos] += int16(float32(c.audio[i+c.writePos]) * c.decay)
		}
		c.writePos += ns
	}
	rem := c.delayOffset*2 - len(c.audio)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// GetAudio copies processed audio into out, returning the number of samples
// written.
func (c *StreamingReverb) GetAudio(out []int16) int {
	wanted := len(out)
	have := len(c.audio) - c.readPos
	if wanted > have {
		wanted = have
	}
	if wanted > 0 {
		copy(out, c.audio[c.readPos:c.readPos+wanted])
		c.readPos += wanted
	}
	return wanted
}

// Reverber is the minimal interface cmd/play and cmd/render program against,
// letting StreamingReverb or a pass-through sit in the post-process chain.
type Reverber interface {
	InputSamples(in []int16) int
	GetAudio(out []int16) int
}
