package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrotrack/ft2engine/internal/reverb"
)

func TestReverbFromFlagNoneUsesPassThrough(t *testing.T) {
	r, err := ReverbFromFlag("none", 44100)
	require.NoError(t, err)
	_, ok := r.(*ReverbPassThrough)
	assert.True(t, ok, "\"none\" must not run audio through the comb filter")
}

func TestReverbFromFlagKnownNamesReturnStreamingReverb(t *testing.T) {
	for _, name := range []string{"light", "medium", "silly"} {
		r, err := ReverbFromFlag(name, 44100)
		require.NoError(t, err, name)
		_, ok := r.(*reverb.StreamingReverb)
		assert.True(t, ok, "%q must use the real comb filter", name)
	}
}

func TestReverbFromFlagUnknownNameErrors(t *testing.T) {
	_, err := ReverbFromFlag("bogus", 44100)
	assert.Error(t, err)
}

func TestPassThroughRoundTripsAudioUnchanged(t *testing.T) {
	p := NewPassThrough(8)
	in := []int16{1, 2, 3, 4}
	n := p.InputSamples(in)
	require.Equal(t, 4, n)

	out := make([]int16, 4)
	n = p.GetAudio(out)
	require.Equal(t, 4, n)
	assert.Equal(t, in, out)
}

func TestPassThroughWrapsAroundRingBuffer(t *testing.T) {
	p := NewPassThrough(4)
	require.Equal(t, 4, p.InputSamples([]int16{1, 2, 3, 4}))

	out := make([]int16, 2)
	require.Equal(t, 2, p.GetAudio(out))
	assert.Equal(t, []int16{1, 2}, out)

	// Writing 2 more now wraps past the end of the 4-slot ring buffer.
	require.Equal(t, 2, p.InputSamples([]int16{5, 6}))

	rest := make([]int16, 4)
	n := p.GetAudio(rest)
	require.Equal(t, 4, n)
	assert.Equal(t, []int16{3, 4, 5, 6}, rest)
}

func TestPassThroughStopsAcceptingWhenFull(t *testing.T) {
	p := NewPassThrough(2)
	require.Equal(t, 2, p.InputSamples([]int16{1, 2}))
	assert.Equal(t, 0, p.InputSamples([]int16{3, 4}), "a full buffer must refuse more input")
}
