package timeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAssignsStrictlyIncreasingSeq(t *testing.T) {
	s := NewStore(0)

	c1 := s.Append(Item{Type: ItemTurnStarted})
	c2 := s.Append(Item{Type: ItemUserMessage, Text: "hi"})
	c3 := s.Append(Item{Type: ItemTurnCompleted})

	require.Equal(t, 1, c1.Seq)
	require.Equal(t, 2, c2.Seq)
	require.Equal(t, 3, c3.Seq)
	require.Equal(t, 0, c1.Epoch)
}

func TestQueryTailReturnsLastNInAscendingOrder(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 5; i++ {
		s.Append(Item{Type: ItemAssistantMessage, Text: string(rune('a' + i))})
	}

	res := s.Query(QueryOptions{Direction: DirectionTail, Limit: 2})
	require.Len(t, res.Entries, 2)
	require.Equal(t, "d", res.Entries[0].Item.Text)
	require.Equal(t, "e", res.Entries[1].Item.Text)
}

func TestQueryAfterCursorWithinEpoch(t *testing.T) {
	s := NewStore(0)
	c1 := s.Append(Item{Type: ItemTurnStarted})
	s.Append(Item{Type: ItemUserMessage})
	s.Append(Item{Type: ItemTurnCompleted})

	res := s.Query(QueryOptions{Direction: DirectionAfter, Cursor: c1})
	require.Len(t, res.Entries, 2)
	require.False(t, res.EpochBumped)
}

func TestQueryAfterCursorAcrossEpochBumpReturnsSentinelAndAllCurrentEntries(t *testing.T) {
	s := NewStore(0)
	oldCursor := s.Append(Item{Type: ItemTurnStarted})
	s.BumpEpoch()
	s.Append(Item{Type: ItemTurnStarted})
	s.Append(Item{Type: ItemAssistantMessage})

	res := s.Query(QueryOptions{Direction: DirectionAfter, Cursor: oldCursor})
	require.True(t, res.EpochBumped)
	require.Len(t, res.Entries, 2)
}

func TestProjectionProjectedCollapsesToolCallUpdates(t *testing.T) {
	s := NewStore(0)
	s.Append(Item{Type: ItemToolCall, CallID: "c1", Status: ToolCallRunning, Detail: &ToolCallDetail{Kind: ToolDetailShell}})
	s.Append(Item{Type: ItemAssistantMessage, Text: "working"})
	s.Append(Item{Type: ItemToolCall, CallID: "c1", Status: ToolCallCompleted, Detail: &ToolCallDetail{Kind: ToolDetailShell}})

	raw := s.Query(QueryOptions{Direction: DirectionTail, Projection: ProjectionRaw})
	require.Len(t, raw.Entries, 3)

	projected := s.Query(QueryOptions{Direction: DirectionTail, Projection: ProjectionProjected})
	require.Len(t, projected.Entries, 2)
	require.Equal(t, ToolCallCompleted, projected.Entries[0].Item.Status)
}

func TestSubscribeReceivesSubsequentAppends(t *testing.T) {
	s := NewStore(0)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.Append(Item{Type: ItemTurnStarted})

	entry := <-ch
	require.Equal(t, ItemTurnStarted, entry.Item.Type)
}

func TestRetentionRotatesOldestFirstAndMarksTruncated(t *testing.T) {
	s := NewStore(2)
	s.Append(Item{Type: ItemUserMessage, Text: "1"})
	s.Append(Item{Type: ItemUserMessage, Text: "2"})
	s.Append(Item{Type: ItemUserMessage, Text: "3"})

	res := s.Query(QueryOptions{Direction: DirectionTail, Limit: 10})
	require.Len(t, res.Entries, 2)
	require.Equal(t, "2", res.Entries[0].Item.Text)
	require.True(t, res.Truncated)
}
