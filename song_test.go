package ft2engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSongIsolatesPatternMutations(t *testing.T) {
	base := testSongFromPattern([][]string{{"C-4 01 ...", "...", "...", "..."}})

	cloned := cloneSong(base)
	require.NotSame(t, base, cloned)
	require.NotSame(t, base.Patterns[0], cloned.Patterns[0])

	cloned.Patterns[0].Cells[0].SampleNumber = 9
	cloned.Samples[0].Name = "mutated"

	assert.Equal(t, uint8(1), base.Patterns[0].Cells[0].SampleNumber, "cloning must not share backing pattern storage")
	assert.Equal(t, "testins1", base.Samples[0].Name, "cloning must not share backing sample storage")
}
