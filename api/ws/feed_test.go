package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stockbook/domain/execution"
)

func TestHubDropsForFullSubscriber(t *testing.T) {
	h := NewHub[int]()
	slow := h.Subscribe(1)
	fast := h.Subscribe(4)

	assert.Equal(t, 0, h.Broadcast(1))
	assert.Equal(t, 1, h.Broadcast(2))

	assert.Equal(t, 1, <-slow.C)
	assert.Equal(t, 1, <-fast.C)
	assert.Equal(t, 2, <-fast.C)

	h.Unsubscribe(slow)
	h.Unsubscribe(slow)
	assert.Equal(t, 1, h.Len())
	_, ok := <-slow.C
	assert.False(t, ok)
}

func TestFeedStreamsReportsInOrder(t *testing.T) {
	feed := NewFeed(zaptest.NewLogger(t))
	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/executions"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 },
		time.Second, 5*time.Millisecond)

	for seq := uint64(1); seq <= 3; seq++ {
		feed.Notify(execution.Report{Seq: seq, Quantity: int64(seq * 10), Ticker: "STOCK3", Price: 42})
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for seq := uint64(1); seq <= 3; seq++ {
		var msg message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "execution", msg.Type)
		assert.Equal(t, seq, msg.Data.Seq)
		assert.EqualValues(t, seq*10, msg.Data.Quantity)
		assert.Equal(t, "STOCK3", msg.Data.Ticker)
	}
}

func TestFeedUnsubscribesOnClose(t *testing.T) {
	feed := NewFeed(zaptest.NewLogger(t))
	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.Subscribers() == 0 },
		2*time.Second, 5*time.Millisecond)
}
