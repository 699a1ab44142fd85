package stackchunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougxc/squawk/internal/stackchunk"
)

type fakeOwner struct {
	chunk     *stackchunk.Chunk
	isolateID int
}

func (f *fakeOwner) StackChunk() *stackchunk.Chunk { return f.chunk }
func (f *fakeOwner) IsolateID() int                { return f.isolateID }

func TestPushPopFrame(t *testing.T) {
	c := stackchunk.NewChunk(4)
	assert.Equal(t, -1, c.LastFP)

	idx0, ok := c.PushFrame(stackchunk.Frame{PrevIP: 10})
	require.True(t, ok)
	assert.Equal(t, 0, idx0)
	assert.Equal(t, -1, c.Frames[idx0].PrevFP)

	idx1, ok := c.PushFrame(stackchunk.Frame{PrevIP: 20})
	require.True(t, ok)
	assert.Equal(t, 1, idx1)
	assert.Equal(t, 0, c.Frames[idx1].PrevFP)
	assert.Equal(t, 1, c.LastFP)

	c.PopFrame()
	assert.Equal(t, 0, c.LastFP)
	c.PopFrame()
	assert.Equal(t, -1, c.LastFP)
}

func TestPushFrameRespectsCapacity(t *testing.T) {
	c := stackchunk.NewChunk(1)
	_, ok := c.PushFrame(stackchunk.Frame{})
	require.True(t, ok)
	_, ok = c.PushFrame(stackchunk.Frame{})
	assert.False(t, ok)
}

func TestPopFrameOnEmptyIsNoOp(t *testing.T) {
	c := stackchunk.NewChunk(2)
	c.PopFrame()
	assert.Equal(t, -1, c.LastFP)
}

func TestRegistryAddAndCount(t *testing.T) {
	r := stackchunk.NewRegistry()
	c1 := stackchunk.NewChunk(1)
	c2 := stackchunk.NewChunk(1)
	r.Add(c1)
	r.Add(c2)
	assert.Equal(t, 2, r.Count())

	var seen []*stackchunk.Chunk
	r.Each(func(c *stackchunk.Chunk) { seen = append(seen, c) })
	assert.Equal(t, []*stackchunk.Chunk{c2, c1}, seen)
}

func TestPruneOrphansAndDeadIsolates(t *testing.T) {
	r := stackchunk.NewRegistry()

	orphan := stackchunk.NewChunk(1)
	r.Add(orphan)

	liveOwner := &fakeOwner{isolateID: 1}
	liveChunk := stackchunk.NewChunk(1)
	liveChunk.Owner = liveOwner
	r.Add(liveChunk)

	deadOwner := &fakeOwner{isolateID: 2}
	deadChunk := stackchunk.NewChunk(1)
	deadChunk.Owner = deadOwner
	r.Add(deadChunk)

	removed := r.Prune(
		func(c *stackchunk.Chunk) bool { return c.Owner == nil },
		func(c *stackchunk.Chunk) bool { return c.Owner.(*fakeOwner).isolateID == 1 },
	)

	assert.Equal(t, 1, r.Count())
	var remaining []*stackchunk.Chunk
	r.Each(func(c *stackchunk.Chunk) { remaining = append(remaining, c) })
	assert.Equal(t, []*stackchunk.Chunk{liveChunk}, remaining)

	assert.ElementsMatch(t, []*stackchunk.Chunk{orphan, deadChunk}, removed)
}

func TestAppendRelinksPrunedList(t *testing.T) {
	r := stackchunk.NewRegistry()
	kept := stackchunk.NewChunk(1)
	r.Add(kept)

	pruned := []*stackchunk.Chunk{stackchunk.NewChunk(1), stackchunk.NewChunk(1)}
	r.Append(pruned)
	assert.Equal(t, 3, r.Count())
}
