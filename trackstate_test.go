package ft2engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeriodFrequencyRoundTrip(t *testing.T) {
	// Period 428 is the standard MOD period for C-3.
	freq := periodToFrequency(428)
	back := frequencyToPeriod(freq)
	assert.InDelta(t, 428, back, 0.01)
}

func TestClampPeriodPreservesZero(t *testing.T) {
	assert.Equal(t, float64(0), clampPeriod(0), "period 0 signals an arpeggio wrap, not silence")
}

func TestClampPeriodBounds(t *testing.T) {
	assert.Equal(t, float64(minPeriod), clampPeriod(1))
	assert.Equal(t, float64(maxPeriod), clampPeriod(10000))
	assert.Equal(t, float64(300), clampPeriod(300))
}

func TestSetFrequencyKeepsPeriodCoherentOnlyInPeriodMode(t *testing.T) {
	s := NewTrackEffectState(nil)

	// Not in period mode yet (CurrentPeriod starts at 0): setFrequency must
	// not invent a period.
	s.setFrequency(440)
	assert.Equal(t, float64(0), s.CurrentPeriod)
	assert.Equal(t, float64(440), s.CurrentFrequency)

	// Enter period mode via setPeriod, then setFrequency should keep both
	// representations coherent (spec.md §3, §9).
	s.setPeriod(428)
	newFreq := s.CurrentFrequency
	s.setFrequency(newFreq * 2)
	assert.InDelta(t, frequencyToPeriod(newFreq*2), s.CurrentPeriod, 0.01)
}

func TestSetVolumeAndPanClamp(t *testing.T) {
	s := NewTrackEffectState(nil)
	s.setVolume(2.0)
	assert.Equal(t, 1.0, s.CurrentVolume)
	s.setVolume(-1.0)
	assert.Equal(t, 0.0, s.CurrentVolume)

	s.setPan(5.0)
	assert.Equal(t, 1.0, s.Pan)
	s.setPan(-5.0)
	assert.Equal(t, -1.0, s.Pan)
}

func TestResetTransientClearsPerNoteState(t *testing.T) {
	s := NewTrackEffectState(nil)
	s.Vibrato.Phase = 40
	s.Tremolo.Phase = 12
	s.Arpeggio.Tick = 2
	s.Retrigger.Tick = 3
	s.NoteCutTick = 2
	s.NoteDelayTick = 1
	s.DelayedNote = &delayedNote{MIDI: 60}

	s.ResetTransient()

	assert.Equal(t, 0, s.Vibrato.Phase)
	assert.Equal(t, 0, s.Tremolo.Phase)
	assert.Equal(t, 0, s.Arpeggio.Tick)
	assert.Equal(t, 0, s.Retrigger.Tick)
	assert.Equal(t, -1, s.NoteCutTick)
	assert.Equal(t, -1, s.NoteDelayTick)
	assert.Nil(t, s.DelayedNote)
}

func TestWaveformValueShapes(t *testing.T) {
	rng := func() float64 { return 1 }

	assert.InDelta(t, 0, waveformValue(WaveSine, 0, rng), 1e-9)
	assert.InDelta(t, 1, waveformValue(WaveSine, 16, rng), 1e-9)

	assert.InDelta(t, 1, waveformValue(WaveRamp, 0, rng), 1e-9)
	assert.InDelta(t, -1, waveformValue(WaveRamp, 63, rng), 0.05)

	assert.Equal(t, 1.0, waveformValue(WaveSquare, 0, rng))
	assert.Equal(t, -1.0, waveformValue(WaveSquare, 32, rng))

	assert.Equal(t, 1.0, waveformValue(WaveRandom, 0, rng))
}

func TestWaveformValueWrapsPhaseTo64(t *testing.T) {
	rng := func() float64 { return 0.5 }
	a := waveformValue(WaveSine, 10, rng)
	b := waveformValue(WaveSine, 10+64, rng)
	assert.True(t, math.Abs(a-b) < 1e-9, "phase must wrap modulo 64")
}
