package ft2engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, song *Song) (*Scheduler, *fakeRenderer) {
	t.Helper()
	renderer := &fakeRenderer{}
	alloc, err := NewVoiceAllocator(t.Context(), renderer, []EngineConfig{{Name: "x", VoiceCount: song.Channels}}, nil)
	require.NoError(t, err)
	for i := 0; i < song.Channels; i++ {
		alloc.BindTrack(i, "x")
	}
	clock := &fakeClock{}
	return NewScheduler(song, alloc, clock), renderer
}

func TestTickDurationMatchesTeacherFormula(t *testing.T) {
	song := testSongFromPattern([][]string{{"...", "...", "...", "..."}})
	sched, _ := newTestScheduler(t, song)
	sched.bpm = 125
	assert.InDelta(t, 0.02, sched.tickDuration(), 1e-9, "2500/bpm ms, in seconds")

	sched.bpm = 250
	assert.InDelta(t, 0.01, sched.tickDuration(), 1e-9)
}

func TestProcessRowFlowEffectsSetSpeedBelow0x20SetsSpeed(t *testing.T) {
	rows := [][]string{{"... .. F03", "...", "...", "..."}}
	song := testSongFromPattern(rows)
	sched, _ := newTestScheduler(t, song)

	sched.processRowFlowEffects()
	assert.Equal(t, 3, sched.speed)
	assert.Equal(t, 125, sched.bpm, "speed change must not touch tempo")
}

func TestProcessRowFlowEffectsSetSpeedAtOrAbove0x20SetsTempo(t *testing.T) {
	rows := [][]string{{"... .. F80", "...", "...", "..."}}
	song := testSongFromPattern(rows)
	sched, _ := newTestScheduler(t, song)

	sched.processRowFlowEffects()
	assert.Equal(t, 0x80, sched.bpm)
	assert.Equal(t, song.InitialSpeed, sched.speed, "tempo change must not touch speed")
}

func TestBeginRowAppliesPendingPosJump(t *testing.T) {
	song := testSongFromPattern([][]string{{"...", "...", "...", "..."}})
	song.Sequence = []byte{0, 0} // two orders so jumping to order 1 doesn't wrap
	sched, _ := newTestScheduler(t, song)
	sched.freshRow = false
	target := 1
	sched.posJumpNextOrder = &target

	ok := sched.beginRow()
	require.True(t, ok)
	assert.Equal(t, 1, sched.orderIdx)
	assert.Equal(t, 0, sched.row)
	assert.Nil(t, sched.posJumpNextOrder)
}

func TestBeginRowAppliesPendingPatternBreak(t *testing.T) {
	song := testSongFromPattern([][]string{{"...", "...", "...", "..."}})
	song.Sequence = []byte{0, 0} // two orders so advancing to order 1 doesn't wrap
	sched, _ := newTestScheduler(t, song)
	sched.freshRow = false
	sched.orderIdx = 0
	target := 10
	sched.patBreakNextRow = &target

	ok := sched.beginRow()
	require.True(t, ok)
	assert.Equal(t, 1, sched.orderIdx, "pattern break also advances to the next order")
	assert.Equal(t, 10, sched.row)
	assert.Nil(t, sched.patBreakNextRow)
}

func TestBeginRowPatternDelayRepeatsRowWithoutAdvancing(t *testing.T) {
	song := testSongFromPattern([][]string{{"...", "...", "...", "..."}})
	sched, _ := newTestScheduler(t, song)
	sched.freshRow = false
	sched.row = 5
	sched.patternDelay = 2

	ok := sched.beginRow()
	require.True(t, ok)
	assert.Equal(t, 5, sched.row, "a delayed row must not advance")
	assert.Equal(t, 1, sched.patternDelay)
}

func TestProcessRowFlowEffectsPatternBreakSharingRowWithPatternDelayLandsOneRowLater(t *testing.T) {
	// spec.md §8 scenario 4: EEx and Dxx on the same row land one row past
	// Dxx's literal operand.
	rows := [][]string{{"... .. EE1", "... .. D05", "...", "..."}}
	song := testSongFromPattern(rows)
	song.Sequence = []byte{0, 0}
	sched, _ := newTestScheduler(t, song)

	sched.processRowFlowEffects()
	require.NotNil(t, sched.patBreakNextRow)
	assert.Equal(t, 6, *sched.patBreakNextRow, "D05 plus a same-row pattern delay targets row 6, not row 5")
	assert.Equal(t, 1, sched.patternDelay)
}

func TestProcessRowFlowEffectsPatternLoopReturnsToMarkedRow(t *testing.T) {
	// Row 10 carries E60 (mark loop start); row 20 carries E62 (loop twice
	// back to the marked row).
	rows := make([][]string, 21)
	for i := range rows {
		rows[i] = []string{"...", "...", "...", "..."}
	}
	rows[10] = []string{"... .. E60", "...", "...", "..."}
	rows[20] = []string{"... .. E62", "...", "...", "..."}
	song := testSongFromPattern(rows)
	sched, _ := newTestScheduler(t, song)
	sched.row = 10
	sched.processRowFlowEffects()
	assert.Equal(t, 10, sched.loopStart)

	sched.row = 20
	sched.processRowFlowEffects()
	assert.Equal(t, 1, sched.loopCount)
	require.NotNil(t, sched.patBreakNextRow)
	assert.Equal(t, 10, *sched.patBreakNextRow)
	assert.Equal(t, -1, sched.orderIdx, "the pending patBreak's orderIdx++ will cancel this decrement")

	sched.freshRow = false
	ok := sched.beginRow()
	require.True(t, ok)
	assert.Equal(t, 0, sched.orderIdx, "back to the original order once patBreak applies")
	assert.Equal(t, 10, sched.row)
}

func TestAdvanceToPlaysTheFirstRowWithoutSkippingIt(t *testing.T) {
	rows := [][]string{{"C-4 01 ...", "...", "...", "..."}}
	song := testSongFromPattern(rows)
	sched, renderer := newTestScheduler(t, song)
	sched.state = StatePlaying
	sched.nextTickTime = 0

	stillPlaying := sched.AdvanceTo(0.1)
	assert.True(t, stillPlaying)
	assert.Equal(t, 0, sched.Position().OrderIndex)

	found := false
	for _, d := range renderer.dispatched {
		if d.cmd.Kind == CmdNoteOn {
			found = true
			break
		}
	}
	assert.True(t, found, "row 0's note must have been dispatched, not skipped")
}

func TestAdvanceToStopsAtEndOfSongWhenNotLooping(t *testing.T) {
	song := testSongFromPattern([][]string{{"...", "...", "...", "..."}})
	song.InitialSpeed = 1
	sched, _ := newTestScheduler(t, song)
	sched.speed = 1
	sched.loopSong = false
	sched.state = StatePlaying
	sched.nextTickTime = 0

	stillPlaying := sched.AdvanceTo(5.0)
	assert.False(t, stillPlaying)
	assert.Equal(t, StateStopped, sched.state)
}
