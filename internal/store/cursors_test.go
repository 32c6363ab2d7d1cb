package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckNeverRegresses(t *testing.T) {
	st := newTestStore(t)

	next, err := st.Ack("d1", "c1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), next)

	// Regressions clamp silently.
	next, err = st.Ack("d1", "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), next)

	next, err = st.Ack("d1", "c1", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10), next)
}

func TestNextSeqDefaultsToOne(t *testing.T) {
	st := newTestStore(t)

	next, err := st.NextSeq("d1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestListCursorsOrdered(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Ack("d1", "c2", 3)
	require.NoError(t, err)
	_, err = st.Ack("d1", "c1", 7)
	require.NoError(t, err)

	cursors, err := st.ListCursors("d1")
	require.NoError(t, err)
	require.Len(t, cursors, 2)
	assert.Equal(t, "c1", cursors[0].ConvID)
	assert.Equal(t, int64(8), cursors[0].NextSeq)
	assert.Equal(t, "c2", cursors[1].ConvID)
}

func TestActiveMinNextSeqIgnoresStaleCursors(t *testing.T) {
	st := newTestStore(t)

	now := int64(1_000_000)
	st.SetClock(func() int64 { return now })
	_, err := st.Ack("slow", "c1", 1)
	require.NoError(t, err)

	now += 100_000
	_, err = st.Ack("fast", "c1", 9)
	require.NoError(t, err)

	// Both fresh: the slow cursor wins.
	min, ok, err := st.ActiveMinNextSeq("c1", now, 200_000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), min)

	// Slow cursor stale: only the fast one counts.
	min, ok, err = st.ActiveMinNextSeq("c1", now, 50_000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), min)

	// Everything stale.
	_, ok, err = st.ActiveMinNextSeq("c1", now+1_000_000, 50_000)
	require.NoError(t, err)
	assert.False(t, ok)
}
