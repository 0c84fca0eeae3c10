package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/history"
	"github.com/zhouzirui/chat-relay/backend/internal/service/presence"
)

func startHub(t *testing.T) (*Hub, *history.Store, *presence.Tracker) {
	t.Helper()

	store := history.NewStore(history.DefaultCapacity, chat.Seed()...)
	tracker := presence.NewTracker()
	h := New(store, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	return h, store, tracker
}

func connect(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := NewClient("test", buffer)
	require.NoError(t, h.Connect(context.Background(), c))
	return c
}

func nextFrame(t *testing.T, c *Client) chat.Frame {
	t.Helper()
	select {
	case raw, ok := <-c.Send():
		require.True(t, ok, "client queue closed")
		var frame chat.Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return chat.Frame{}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.Send():
		if ok {
			t.Fatalf("unexpected frame: %s", raw)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.Send():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("client queue was not closed")
		}
	}
}

func decodeMessage(t *testing.T, frame chat.Frame) chat.Message {
	t.Helper()
	require.Equal(t, chat.EventNewMessage, frame.Event)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	return msg
}

func decodeTyping(t *testing.T, frame chat.Frame) chat.Typing {
	t.Helper()
	require.Equal(t, chat.EventUserTyping, frame.Event)
	var typing chat.Typing
	require.NoError(t, json.Unmarshal(frame.Data, &typing))
	return typing
}

func messageIDs(messages []chat.Message) []int64 {
	out := make([]int64, 0, len(messages))
	for _, msg := range messages {
		out = append(out, msg.ID)
	}
	return out
}

func TestConnectSendsSnapshotFirst(t *testing.T) {
	h, _, _ := startHub(t)

	c := connect(t, h, 16)

	frame := nextFrame(t, c)
	require.Equal(t, chat.EventInitialMessages, frame.Event)

	var snapshot []chat.Message
	require.NoError(t, json.Unmarshal(frame.Data, &snapshot))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, messageIDs(snapshot))
	assert.Equal(t, 1, h.ClientCount())
}

func TestConnectDoesNotNotifyOthers(t *testing.T) {
	h, _, _ := startHub(t)

	a := connect(t, h, 16)
	nextFrame(t, a)

	b := connect(t, h, 16)
	nextFrame(t, b)

	expectNoFrame(t, a)
}

func TestSendMessageBroadcastsToEveryoneIncludingSender(t *testing.T) {
	h, store, _ := startHub(t)
	ctx := context.Background()

	a := connect(t, h, 16)
	b := connect(t, h, 16)
	nextFrame(t, a)
	nextFrame(t, b)

	require.NoError(t, h.SendMessage(ctx, a, "Dana", "hi"))

	for _, c := range []*Client{a, b} {
		msg := decodeMessage(t, nextFrame(t, c))
		assert.Equal(t, int64(6), msg.ID)
		assert.Equal(t, "Dana", msg.User)
		assert.Equal(t, "hi", msg.Text)
		assert.False(t, msg.Timestamp.IsZero())
	}

	assert.Equal(t, []int64{2, 3, 4, 5, 6}, messageIDs(store.Recent(history.SnapshotSize)))
	assert.Equal(t, []int64{2, 3, 4, 5, 6}, messageIDs(h.Recent()))
}

func TestTypingBroadcastExcludesSender(t *testing.T) {
	h, _, tracker := startHub(t)
	ctx := context.Background()

	a := connect(t, h, 16)
	b := connect(t, h, 16)
	nextFrame(t, a)
	nextFrame(t, b)

	require.NoError(t, h.TypingStart(ctx, a, "Dana"))
	typing := decodeTyping(t, nextFrame(t, b))
	assert.Equal(t, chat.Typing{User: "Dana", Typing: true}, typing)
	assert.True(t, tracker.IsTyping("Dana"))

	require.NoError(t, h.TypingStop(ctx, a, "Dana"))
	typing = decodeTyping(t, nextFrame(t, b))
	assert.Equal(t, chat.Typing{User: "Dana", Typing: false}, typing)
	assert.False(t, tracker.IsTyping("Dana"))

	expectNoFrame(t, a)
}

func TestHubInternalSenderReachesEveryone(t *testing.T) {
	h, _, _ := startHub(t)

	a := connect(t, h, 16)
	nextFrame(t, a)

	require.NoError(t, h.TypingStart(context.Background(), nil, "Alice"))

	typing := decodeTyping(t, nextFrame(t, a))
	assert.Equal(t, "Alice", typing.User)
	assert.True(t, typing.Typing)
	assert.Equal(t, []string{"Alice"}, h.TypingUsers())
}

func TestDispatchRoutesEvents(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()

	a := connect(t, h, 16)
	b := connect(t, h, 16)
	nextFrame(t, a)
	nextFrame(t, b)

	require.NoError(t, h.Dispatch(ctx, a, chat.SendMessage{User: "Eve", Text: "yo"}))
	require.NoError(t, h.Dispatch(ctx, a, chat.TypingStart{User: "Eve"}))

	assert.Equal(t, "yo", decodeMessage(t, nextFrame(t, a)).Text)
	assert.Equal(t, "yo", decodeMessage(t, nextFrame(t, b)).Text)
	assert.True(t, decodeTyping(t, nextFrame(t, b)).Typing)
	expectNoFrame(t, a)

	assert.Error(t, h.Dispatch(ctx, a, nil))
}

func TestDisconnectClosesQueueWithoutBroadcast(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()

	a := connect(t, h, 16)
	b := connect(t, h, 16)
	nextFrame(t, a)
	nextFrame(t, b)

	require.NoError(t, h.Disconnect(ctx, a))
	expectClosed(t, a)
	expectNoFrame(t, b)

	// a second disconnect is ignored
	require.NoError(t, h.Disconnect(ctx, a))
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.SendMessage(ctx, b, "Bob", "still here"))
	assert.Equal(t, "still here", decodeMessage(t, nextFrame(t, b)).Text)
}

func TestDisconnectClearsTypingLeftBehind(t *testing.T) {
	h, _, tracker := startHub(t)
	ctx := context.Background()

	a := connect(t, h, 16)
	b := connect(t, h, 16)
	nextFrame(t, a)
	nextFrame(t, b)

	require.NoError(t, h.TypingStart(ctx, a, "Dana"))
	assert.True(t, decodeTyping(t, nextFrame(t, b)).Typing)

	require.NoError(t, h.Disconnect(ctx, a))

	typing := decodeTyping(t, nextFrame(t, b))
	assert.Equal(t, chat.Typing{User: "Dana", Typing: false}, typing)
	assert.False(t, tracker.IsTyping("Dana"))
}

func TestDisconnectKeepsTypingHeldByAnotherClient(t *testing.T) {
	h, _, tracker := startHub(t)
	ctx := context.Background()

	a := connect(t, h, 16)
	b := connect(t, h, 16)
	nextFrame(t, a)
	nextFrame(t, b)

	require.NoError(t, h.TypingStart(ctx, a, "Dana"))
	require.NoError(t, h.TypingStart(ctx, b, "Dana"))
	nextFrame(t, b)
	nextFrame(t, a)

	require.NoError(t, h.Disconnect(ctx, a))
	expectClosed(t, a)
	expectNoFrame(t, b)
	assert.True(t, tracker.IsTyping("Dana"))
}

func TestSlowClientIsDroppedWithoutAffectingOthers(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()

	slow := connect(t, h, 1)
	fast := connect(t, h, 16)
	nextFrame(t, fast)

	// slow never reads, its single slot is taken by the snapshot
	require.NoError(t, h.SendMessage(ctx, nil, "Alice", "one"))
	require.NoError(t, h.SendMessage(ctx, nil, "Alice", "two"))

	assert.Equal(t, "one", decodeMessage(t, nextFrame(t, fast)).Text)
	assert.Equal(t, "two", decodeMessage(t, nextFrame(t, fast)).Text)

	expectClosed(t, slow)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBroadcastOrderIsConsistentAcrossClients(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()

	clients := []*Client{connect(t, h, 256), connect(t, h, 256), connect(t, h, 256)}
	for _, c := range clients {
		nextFrame(t, c)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, h.SendMessage(ctx, nil, "user", "text"))
			}
		}()
	}
	wg.Wait()

	var first []int64
	for i, c := range clients {
		var got []int64
		for len(got) < 80 {
			got = append(got, decodeMessage(t, nextFrame(t, c)).ID)
		}
		for j := 1; j < len(got); j++ {
			assert.Greater(t, got[j], got[j-1])
		}
		if i == 0 {
			first = got
			continue
		}
		assert.Equal(t, first, got)
	}
}

func TestDisconnectDuringBroadcastDoesNotAffectOthers(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()

	leaving := connect(t, h, 256)
	staying := connect(t, h, 256)
	nextFrame(t, staying)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			assert.NoError(t, h.SendMessage(ctx, staying, "Bob", "tick"))
		}
	}()
	require.NoError(t, h.Disconnect(ctx, leaving))
	<-done

	for i := 0; i < 50; i++ {
		assert.Equal(t, "tick", decodeMessage(t, nextFrame(t, staying)).Text)
	}
	expectClosed(t, leaving)
}

func TestEventFromDroppedSenderIsStillApplied(t *testing.T) {
	h, store, _ := startHub(t)
	ctx := context.Background()

	gone := connect(t, h, 16)
	other := connect(t, h, 16)
	nextFrame(t, other)
	require.NoError(t, h.Disconnect(ctx, gone))

	require.NoError(t, h.SendMessage(ctx, gone, "Ghost", "late"))

	assert.Equal(t, "late", decodeMessage(t, nextFrame(t, other)).Text)
	assert.Equal(t, "late", store.Recent(1)[0].Text)
}

func TestShutdownClosesClientsAndRejectsCalls(t *testing.T) {
	store := history.NewStore(history.DefaultCapacity)
	h := New(store, presence.NewTracker())
	go h.Run(context.Background())

	c := connect(t, h, 16)
	nextFrame(t, c)

	require.NoError(t, h.Shutdown(time.Second))
	expectClosed(t, c)
	assert.Equal(t, 0, h.ClientCount())

	err := h.Connect(context.Background(), NewClient("late", 1))
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, h.SendMessage(context.Background(), nil, "a", "b"), ErrHubClosed)
}

func TestSubmitHonoursContext(t *testing.T) {
	h := New(history.NewStore(history.DefaultCapacity), presence.NewTracker())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Run was never started, so nothing receives the event
	err := h.SendMessage(ctx, nil, "a", "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconnectOfClosedClientIsIgnored(t *testing.T) {
	h, _, _ := startHub(t)
	ctx := context.Background()

	c := connect(t, h, 16)
	require.NoError(t, h.Disconnect(ctx, c))
	expectClosed(t, c)

	require.NoError(t, h.Connect(ctx, c))
	require.NoError(t, h.SendMessage(ctx, nil, "Alice", "after"))

	observer := connect(t, h, 16)
	nextFrame(t, observer)
	assert.Equal(t, 1, h.ClientCount())
}
