package console

import (
	"fmt"
	"testing"
	"time"

	"github.com/conneroisu/panes/internal/diagnostic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDisplay(t *testing.T) {
	c := New()
	require.True(t, c.Append(diagnostic.KindError, "x is not defined", 1))

	assert.Equal(t, []string{"[ERROR] x is not defined"}, c.Lines())
	assert.Equal(t, 0, c.ScrollTop())
}

func TestConsecutiveDuplicatesCollapse(t *testing.T) {
	c := New()
	assert.True(t, c.Append(diagnostic.KindLog, "tick", 1))
	assert.False(t, c.Append(diagnostic.KindLog, "tick", 1))
	assert.True(t, c.Append(diagnostic.KindWarn, "tick", 1))
	assert.True(t, c.Append(diagnostic.KindLog, "tick", 1))

	assert.Equal(t, []string{"[LOG] tick", "[WARN] tick", "[LOG] tick"}, c.Lines())
}

func TestMaxEntriesDropsOldest(t *testing.T) {
	c := New(WithMaxEntries(3))
	for i := 0; i < 5; i++ {
		c.Append(diagnostic.KindLog, fmt.Sprint(i), 1)
	}

	assert.Equal(t, []string{"[LOG] 2", "[LOG] 3", "[LOG] 4"}, c.Lines())
	assert.Equal(t, 2, c.ScrollTop())
}

func TestClear(t *testing.T) {
	c := New()
	c.Append(diagnostic.KindInfo, "a", 1)
	c.Clear()

	assert.Empty(t, c.Entries())
	assert.Equal(t, -1, c.ScrollTop())

	// a cleared console accepts the same line again
	assert.True(t, c.Append(diagnostic.KindInfo, "a", 2))
}

func TestSubscribers(t *testing.T) {
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(WithNow(func() time.Time { return stamp }))

	var seen [][]Entry
	c.Subscribe(func(entries []Entry) { seen = append(seen, entries) })

	c.Append(diagnostic.KindLog, "one", 7)
	c.Append(diagnostic.KindLog, "one", 7)
	c.Clear()

	require.Len(t, seen, 2)
	require.Len(t, seen[0], 1)
	assert.Equal(t, Entry{Kind: diagnostic.KindLog, Text: "one", Generation: 7, Time: stamp}, seen[0][0])
	assert.Empty(t, seen[1])
}

func TestEntriesIsACopy(t *testing.T) {
	c := New()
	c.Append(diagnostic.KindLog, "a", 1)

	entries := c.Entries()
	entries[0].Text = "mutated"

	assert.Equal(t, "a", c.Entries()[0].Text)
}
