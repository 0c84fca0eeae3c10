// Package hub owns the shared chat state and fans events out to connected
// clients.
//
// All mutations run on the goroutine executing Run: client registration,
// message appends, presence changes and fan-out are serialized there, so every
// client observes broadcasts in the order the hub processed them.
package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/history"
	"github.com/zhouzirui/chat-relay/backend/internal/service/presence"
)

// ErrHubClosed is returned by operations submitted after the hub stopped.
var ErrHubClosed = errors.New("hub closed")

type inbound struct {
	sender *Client
	event  chat.InboundEvent
}

// Hub is the single entry point for state-changing events.
//
// The user field of an event is trusted as given: the hub never checks that
// a client "owns" the name it sends as.
type Hub struct {
	store    *history.Store
	presence *presence.Tracker
	clients  map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound

	clientCount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *logrus.Entry
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger replaces the default component logger.
func WithLogger(log *logrus.Entry) Option {
	return func(h *Hub) {
		h.log = log
	}
}

// New creates a hub over the given stores. Call Run to start processing.
func New(store *history.Store, tracker *presence.Tracker, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:      store,
		presence:   tracker,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logrus.WithField("comp", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes events until ctx is cancelled or Shutdown is called. It must
// be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeClients()

	h.log.Info("hub started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.handleConnect(client)

		case client := <-h.unregister:
			if h.remove(client) {
				h.log.WithFields(logrus.Fields{
					"client":  client.id,
					"addr":    client.addr,
					"clients": len(h.clients),
				}).Info("client disconnected")
			}

		case msg := <-h.inbound:
			h.handleEvent(msg.sender, msg.event)
		}
	}
}

// Connect registers c. Its first frame is the initial_messages snapshot.
func (h *Hub) Connect(ctx context.Context, c *Client) error {
	if c == nil {
		return errors.New("nil client")
	}
	return submit(ctx, h, h.register, c)
}

// Disconnect deregisters c. Unknown or already dropped clients are ignored.
func (h *Hub) Disconnect(ctx context.Context, c *Client) error {
	return submit(ctx, h, h.unregister, c)
}

// Dispatch routes an inbound event from sender. A nil sender marks a
// hub-internal origin and excludes nobody from fan-out.
func (h *Hub) Dispatch(ctx context.Context, sender *Client, event chat.InboundEvent) error {
	if event == nil {
		return errors.New("nil event")
	}
	return submit(ctx, h, h.inbound, inbound{sender: sender, event: event})
}

// SendMessage appends a message and broadcasts it to every client, sender
// included, so the sender learns the assigned id and timestamp.
func (h *Hub) SendMessage(ctx context.Context, sender *Client, user, text string) error {
	return h.Dispatch(ctx, sender, chat.SendMessage{User: user, Text: text})
}

// TypingStart marks user as typing and tells every other client.
func (h *Hub) TypingStart(ctx context.Context, sender *Client, user string) error {
	return h.Dispatch(ctx, sender, chat.TypingStart{User: user})
}

// TypingStop clears the typing mark of user and tells every other client.
func (h *Hub) TypingStop(ctx context.Context, sender *Client, user string) error {
	return h.Dispatch(ctx, sender, chat.TypingStop{User: user})
}

// Recent returns the snapshot given to new clients.
func (h *Hub) Recent() []chat.Message {
	return h.store.Recent(history.SnapshotSize)
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// TypingUsers lists the users currently marked as typing.
func (h *Hub) TypingUsers() []string {
	return h.presence.Users()
}

// Shutdown stops the loop and closes every client queue. It returns
// context.DeadlineExceeded if the loop has not exited within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()

	select {
	case <-h.done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}

func submit[T any](ctx context.Context, h *Hub, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleConnect(c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	if c.closed {
		h.log.WithField("client", c.id).Warn("ignoring reconnect of a closed client")
		return
	}
	h.clients[c] = struct{}{}
	h.clientCount.Store(int64(len(h.clients)))

	h.log.WithFields(logrus.Fields{
		"client":  c.id,
		"addr":    c.addr,
		"clients": len(h.clients),
	}).Info("client connected")

	payload, err := chat.EncodeFrame(chat.EventInitialMessages, h.store.Recent(history.SnapshotSize))
	if err != nil {
		h.log.WithError(err).Error("encode snapshot")
		return
	}
	if !h.enqueue(c, payload) {
		h.drop(c)
	}
}

func (h *Hub) handleEvent(sender *Client, event chat.InboundEvent) {
	if sender != nil {
		if _, ok := h.clients[sender]; !ok {
			// the sender was dropped while its event was in flight; the
			// shared state still accepts it
			sender = nil
		}
	}

	switch ev := event.(type) {
	case chat.SendMessage:
		msg := h.store.Append(ev.User, ev.Text)
		h.log.WithFields(logrus.Fields{"id": msg.ID, "user": msg.User}).Debug("message appended")
		h.broadcast(chat.EventNewMessage, msg, nil)

	case chat.TypingStart:
		h.presence.MarkTyping(ev.User)
		if sender != nil {
			sender.typing[ev.User] = struct{}{}
		}
		h.broadcast(chat.EventUserTyping, chat.Typing{User: ev.User, Typing: true}, sender)

	case chat.TypingStop:
		h.presence.ClearTyping(ev.User)
		if sender != nil {
			delete(sender.typing, ev.User)
		}
		h.broadcast(chat.EventUserTyping, chat.Typing{User: ev.User, Typing: false}, sender)

	default:
		h.log.WithField("event", event.EventName()).Warn("unhandled event")
	}
}

// broadcast enqueues one frame on every client except the excluded one.
// Clients whose queue is full are dropped afterwards.
func (h *Hub) broadcast(event string, data any, except *Client) {
	payload, err := chat.EncodeFrame(event, data)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("encode broadcast")
		return
	}

	var slow []*Client
	for c := range h.clients {
		if c == except {
			continue
		}
		if !h.enqueue(c, payload) {
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.drop(c)
	}
}

func (h *Hub) enqueue(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) drop(c *Client) {
	if h.remove(c) {
		h.log.WithFields(logrus.Fields{
			"client": c.id,
			"addr":   c.addr,
		}).Warn("client dropped: send buffer full")
	}
}

// remove deregisters c, closes its queue and clears the typing marks it left
// behind. It reports whether c was registered.
func (h *Hub) remove(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	h.clientCount.Store(int64(len(h.clients)))
	c.closed = true
	close(c.send)

	for user := range c.typing {
		delete(c.typing, user)
		if h.typingElsewhere(user) || !h.presence.IsTyping(user) {
			continue
		}
		h.presence.ClearTyping(user)
		h.broadcast(chat.EventUserTyping, chat.Typing{User: user, Typing: false}, nil)
	}
	return true
}

func (h *Hub) typingElsewhere(user string) bool {
	for c := range h.clients {
		if _, ok := c.typing[user]; ok {
			return true
		}
	}
	return false
}

func (h *Hub) closeClients() {
	for c := range h.clients {
		delete(h.clients, c)
		c.closed = true
		close(c.send)
	}
	h.clientCount.Store(0)
	h.log.Info("hub stopped")
}
